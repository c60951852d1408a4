package input

import (
	"sync"
	"testing"
	"time"

	"projectilelab/server/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// 1.- Now returns the configured timestamp for deterministic gate decisions.
func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// 2.- Advance moves the internal clock forward to simulate elapsed time.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestGate(clock Clock) *Gate {
	return NewGate(Config{MaxAge: 250 * time.Millisecond, MinInterval: 50 * time.Millisecond}, logging.NewTestLogger(), WithClock(clock))
}

func TestGateRejectsNonMonotonicSequence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	//1.- Accept the initial command to seed client state.
	first := gate.Evaluate(Submission{ClientID: "conn-1", Command: "set_angle", Sequence: 4})
	if !first.Accepted {
		t.Fatalf("first command unexpectedly rejected: %+v", first)
	}

	//2.- An older sequence is rejected even for a different command.
	clock.Advance(time.Second)
	second := gate.Evaluate(Submission{ClientID: "conn-1", Command: "launch", Sequence: 3})
	if second.Accepted || second.Reason != DropReasonSequence {
		t.Fatalf("expected sequence drop, got %+v", second)
	}

	//3.- Unsequenced commands skip the ordering check.
	if decision := gate.Evaluate(Submission{ClientID: "conn-1", Command: "launch"}); !decision.Accepted {
		t.Fatalf("unsequenced command rejected: %+v", decision)
	}

	if metrics := gate.Metrics(); metrics["conn-1"].Sequence != 1 || metrics["conn-1"].Total() != 1 {
		t.Fatalf("unexpected drop counters %+v", metrics["conn-1"])
	}
}

func TestGateRejectsStaleCommands(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	gate := newTestGate(clock)

	sent := clock.Now().Add(-600 * time.Millisecond)
	stale := gate.Evaluate(Submission{ClientID: "pilot", Command: "set_wind", SentAt: sent})
	if stale.Accepted || stale.Reason != DropReasonStale || stale.Delay != 600*time.Millisecond {
		t.Fatalf("expected stale drop, got %+v", stale)
	}

	fresh := gate.Evaluate(Submission{ClientID: "pilot", Command: "set_wind", SentAt: clock.Now().Add(time.Second)})
	if !fresh.Accepted || fresh.Delay != 0 {
		t.Fatalf("future stamps should pass with zero delay, got %+v", fresh)
	}
	if metrics := gate.Metrics()["pilot"]; metrics.Stale != 1 {
		t.Fatalf("stale drops = %d, want 1", metrics.Stale)
	}
}

func TestGateRateLimitsPerCommand(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	if decision := gate.Evaluate(Submission{ClientID: "conn", Command: "set_angle"}); !decision.Accepted {
		t.Fatalf("initial command rejected: %+v", decision)
	}

	//1.- A second slider move inside the interval is dropped.
	clock.Advance(10 * time.Millisecond)
	burst := gate.Evaluate(Submission{ClientID: "conn", Command: "set_angle"})
	if burst.Accepted || burst.Reason != DropReasonRateLimited {
		t.Fatalf("expected rate limit drop, got %+v", burst)
	}

	//2.- A different command is spaced independently.
	if decision := gate.Evaluate(Submission{ClientID: "conn", Command: "launch"}); !decision.Accepted {
		t.Fatalf("launch should not be limited by slider spacing: %+v", decision)
	}

	clock.Advance(50 * time.Millisecond)
	if decision := gate.Evaluate(Submission{ClientID: "conn", Command: "set_angle"}); !decision.Accepted {
		t.Fatalf("expected acceptance after the interval, got %+v", decision)
	}
	if metrics := gate.Metrics()["conn"]; metrics.RateLimited != 1 {
		t.Fatalf("rate limited drops = %d, want 1", metrics.RateLimited)
	}
}

func TestGateForgetClearsClientState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	if decision := gate.Evaluate(Submission{ClientID: "conn", Command: "reset", Sequence: 9}); !decision.Accepted {
		t.Fatalf("initial command rejected: %+v", decision)
	}
	gate.Evaluate(Submission{ClientID: "conn", Command: "reset", Sequence: 9})

	gate.Forget("conn")
	if metrics := gate.Metrics(); metrics != nil {
		t.Fatalf("expected metrics reset after forget, got %+v", metrics)
	}
	if decision := gate.Evaluate(Submission{ClientID: "conn", Command: "reset", Sequence: 1}); !decision.Accepted {
		t.Fatalf("expected new session acceptance, got %+v", decision)
	}
}

func TestNilGateAcceptsEverything(t *testing.T) {
	var gate *Gate
	if decision := gate.Evaluate(Submission{ClientID: "x", Command: "launch"}); !decision.Accepted {
		t.Fatalf("nil gate should accept")
	}
	if gate.Metrics() != nil {
		t.Fatalf("nil gate has no metrics")
	}
	clock := ClockFunc(func() time.Time { return time.Unix(5, 0) })
	if !clock.Now().Equal(time.Unix(5, 0)) {
		t.Fatalf("ClockFunc should delegate")
	}
}

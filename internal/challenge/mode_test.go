package challenge

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestChallengeCountsDownAndExpiresOnce(t *testing.T) {
	//1.- Drive the countdown with a manual clock.
	current := time.Unix(0, 0)
	var results []Result
	mode := New(
		WithDuration(3*time.Second),
		WithClock(func() time.Time { return current }),
		WithEndHandler(func(r Result) { results = append(results, r) }),
	)
	if err := mode.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if remaining := mode.State().TimeRemaining; remaining != 3 {
		t.Fatalf("expected 3 seconds, got %d", remaining)
	}
	if err := mode.RecordHit(); err != nil {
		t.Fatalf("record hit: %v", err)
	}
	if err := mode.RecordHit(); err != nil {
		t.Fatalf("record hit: %v", err)
	}

	//2.- Partial seconds do not decrement the countdown.
	current = current.Add(1500 * time.Millisecond)
	if _, ended := mode.Tick(); ended {
		t.Fatalf("round ended early")
	}
	if remaining := mode.State().TimeRemaining; remaining != 2 {
		t.Fatalf("expected 2 seconds, got %d", remaining)
	}

	//3.- Reaching zero ends the round exactly once.
	current = current.Add(2 * time.Second)
	result, ended := mode.Tick()
	if !ended || result.TimeElapsed != 3500*time.Millisecond {
		t.Fatalf("expected expiry after 3.5s, got %v %+v", ended, result)
	}
	mode.Tick()
	mode.Tick()
	if len(results) != 1 {
		t.Fatalf("expected one end notification, got %d", len(results))
	}
	if results[0].Score != 2*DefaultPointsPerHit || results[0].TargetsHit != 2 {
		t.Fatalf("unexpected result %+v", results[0])
	}
	//4.- The round's numbers leave through the result; the state is idle again.
	state := mode.State()
	if state.Active || state.Score != 0 || state.TargetsHit != 0 || state.TimeRemaining != 3 {
		t.Fatalf("expected an idle state after expiry, got %+v", state)
	}
}

func TestChallengeStopSuppressesNotification(t *testing.T) {
	current := time.Unix(0, 0)
	ended := 0
	mode := New(
		WithDuration(2*time.Second),
		WithClock(func() time.Time { return current }),
		WithEndHandler(func(Result) { ended++ }),
	)
	if err := mode.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mode.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	current = current.Add(5 * time.Second)
	mode.Tick()
	if ended != 0 {
		t.Fatalf("stop must not notify, got %d", ended)
	}
	if err := mode.Stop(); err != nil {
		t.Fatalf("stopping an idle mode should succeed: %v", err)
	}
	if err := mode.RecordHit(); err != nil {
		t.Fatalf("record hit: %v", err)
	}
	if score := mode.State().Score; score != 0 {
		t.Fatalf("inactive hits must not score, got %d", score)
	}
}

func TestChallengeStopClearsTheRound(t *testing.T) {
	current := time.Unix(0, 0)
	mode := New(WithDuration(10*time.Second), WithClock(func() time.Time { return current }))
	if err := mode.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mode.RecordHit(); err != nil {
		t.Fatalf("record hit: %v", err)
	}
	current = current.Add(4 * time.Second)
	mode.Tick()
	if state := mode.State(); state.Score != DefaultPointsPerHit || state.TimeRemaining != 6 {
		t.Fatalf("unexpected running state %+v", state)
	}
	if err := mode.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := Snapshot{Active: false, Score: 0, TargetsHit: 0, TimeRemaining: 10}
	if state := mode.State(); state != want {
		t.Fatalf("stop should leave the idle state %+v, got %+v", want, state)
	}
}

func TestChallengeStartTwiceFails(t *testing.T) {
	mode := New(WithPointsPerHit(25))
	if err := mode.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mode.RecordHit(); err != nil {
		t.Fatalf("record hit: %v", err)
	}
	if err := mode.Start(); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected already active, got %v", err)
	}
	if score := mode.State().Score; score != 25 {
		t.Fatalf("second start must not reset the round, got %d", score)
	}
	//1.- A restart after stopping clears the previous round.
	if err := mode.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := mode.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if state := mode.State(); state.Score != 0 || state.TargetsHit != 0 || state.TimeRemaining != 60 {
		t.Fatalf("restart should clear the round, got %+v", state)
	}
}

func TestChallengeNilMode(t *testing.T) {
	var mode *Mode
	if err := mode.Start(); !errors.Is(err, ErrNotConstructed) {
		t.Fatalf("expected not constructed, got %v", err)
	}
	if err := mode.Stop(); !errors.Is(err, ErrNotConstructed) {
		t.Fatalf("stop on a nil mode: expected not constructed, got %v", err)
	}
	if err := mode.RecordHit(); !errors.Is(err, ErrNotConstructed) {
		t.Fatalf("record hit on a nil mode: expected not constructed, got %v", err)
	}
	if _, ended := mode.Tick(); ended {
		t.Fatalf("nil mode cannot expire")
	}
	if state := mode.State(); state.Active {
		t.Fatalf("nil mode should be inactive")
	}
}

func TestChallengeConcurrentTicksNotifyOnce(t *testing.T) {
	current := time.Unix(0, 0)
	var clockMu sync.Mutex
	var endedMu sync.Mutex
	ended := 0
	mode := New(
		WithDuration(time.Second),
		WithClock(func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			return current
		}),
		WithEndHandler(func(Result) {
			endedMu.Lock()
			ended++
			endedMu.Unlock()
		}),
	)
	if err := mode.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	clockMu.Lock()
	current = current.Add(2 * time.Second)
	clockMu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mode.Tick()
		}()
	}
	wg.Wait()
	if ended != 1 {
		t.Fatalf("expected a single expiry, got %d", ended)
	}
}

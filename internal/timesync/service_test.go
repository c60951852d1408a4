package timesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"projectilelab/server/internal/logging"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestServiceStreamEmitsImmediatelyThenPeriodically(t *testing.T) {
	service := NewService(5*time.Millisecond, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var samples []Sample
	done := make(chan error, 1)
	go func() {
		done <- service.Stream(ctx, "ws-1", func(sample Sample) error {
			mu.Lock()
			samples = append(samples, sample)
			mu.Unlock()
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		count := len(samples)
		mu.Unlock()
		if count >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected at least three samples, got %d", count)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestServiceStreamStopsOnSendError(t *testing.T) {
	service := NewService(time.Hour, logging.NewTestLogger())
	boom := errors.New("closed")
	if err := service.Stream(context.Background(), "ws-1", func(Sample) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestServiceObserveSmoothsOffset(t *testing.T) {
	clock := &manualClock{now: time.UnixMilli(10_000)}
	service := NewService(time.Second, logging.NewTestLogger(), WithClock(clock.Now))

	//1.- The first observation is taken as-is.
	if offset := service.Observe("ws-1", 9_000); offset != 1_000 {
		t.Fatalf("first offset = %d, want 1000", offset)
	}
	//2.- Later observations move a quarter of the way.
	if offset := service.Observe("ws-1", 10_000-2_000); offset != 1_250 {
		t.Fatalf("smoothed offset = %d, want 1250", offset)
	}

	if got := service.Adjust("ws-1", 5_000); !got.Equal(time.UnixMilli(6_250)) {
		t.Fatalf("adjusted time = %v", got)
	}
	if !service.Adjust("ws-1", 0).IsZero() {
		t.Fatalf("missing stamps stay zero")
	}

	clock.Advance(1500 * time.Millisecond)
	sample := service.Sample("ws-1")
	if sample.ServerMs != 11_500 || sample.SessionMs != 1_500 || sample.RecommendedOffsetMs != 1_250 {
		t.Fatalf("unexpected sample %+v", sample)
	}

	service.Forget("ws-1")
	if sample := service.Sample("ws-1"); sample.RecommendedOffsetMs != 0 {
		t.Fatalf("forget should clear offset, got %+v", sample)
	}
	if offset := service.Observe("ws-1", 0); offset != 0 {
		t.Fatalf("invalid client stamp should be ignored")
	}
}

func TestNilServiceIsInert(t *testing.T) {
	var service *Service
	if got := service.Adjust("x", 1234); !got.Equal(time.UnixMilli(1234)) {
		t.Fatalf("nil service should pass stamps through, got %v", got)
	}
	if err := service.Stream(context.Background(), "x", func(Sample) error { return errors.New("unused") }); err != nil {
		t.Fatalf("nil service stream should return nil, got %v", err)
	}
	service.Forget("x")
	if service.Observe("x", 10) != 0 {
		t.Fatalf("nil service observes nothing")
	}
}

package simulation

import (
	"context"
	"sync"
	"time"
)

// StepFunc advances the simulation by a fixed timestep and may emit side effects.
type StepFunc func(step time.Duration)

// Loop drives a fixed timestep simulation at the configured target frequency.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	maxSteps int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if !(targetHz > 0) {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Loop{
		step:     interval,
		stepFunc: step,
		maxSteps: 5,
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked. A
// second Start while running is ignored.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	ticker := time.NewTicker(l.step)
	go func() {
		defer close(done)
		defer ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				steps := 0
				for accumulator >= l.step {
					if steps == l.maxSteps {
						//2.- Drop the backlog after a long stall instead of spiralling.
						accumulator = 0
						break
					}
					l.stepFunc(l.step)
					accumulator -= l.step
					steps++
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Cancel asks the loop to stop without waiting for its goroutine. It is the
// only safe way to stop the loop from inside a step; a later Stop still waits.
func (l *Loop) Cancel() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StepDuration exposes the configured timestep for testing.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

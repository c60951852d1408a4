// Package challenge implements the timed target challenge: a countdown that
// accumulates score for every target hit until it expires.
package challenge

import (
	"errors"
	"math"
	"sync"
	"time"
)

const (
	// DefaultDuration is the length of a challenge round.
	DefaultDuration = 60 * time.Second
	// DefaultPointsPerHit is the score awarded for each target hit.
	DefaultPointsPerHit = 100
)

var (
	// ErrNotConstructed signals a call on a nil mode.
	ErrNotConstructed = errors.New("challenge mode not constructed")
	// ErrAlreadyActive is returned by Start while a round is running.
	ErrAlreadyActive = errors.New("challenge already active")
)

// Snapshot is a consistent view of the challenge state.
type Snapshot struct {
	Active        bool `json:"active"`
	Score         int  `json:"score"`
	TargetsHit    int  `json:"targets_hit"`
	TimeRemaining int  `json:"time_remaining"`
}

// Result is delivered to the end handler when a round expires.
type Result struct {
	Score       int           `json:"score"`
	TargetsHit  int           `json:"targets_hit"`
	TimeElapsed time.Duration `json:"time_elapsed"`
}

// Option configures a Mode at construction time.
type Option func(*Mode)

// WithDuration overrides the round length. Values under one second are ignored.
func WithDuration(duration time.Duration) Option {
	return func(m *Mode) {
		if duration >= time.Second {
			m.duration = duration
		}
	}
}

// WithPointsPerHit overrides the score awarded per hit.
func WithPointsPerHit(points int) Option {
	return func(m *Mode) {
		if points > 0 {
			m.pointsPerHit = points
		}
	}
}

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Mode) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithEndHandler registers the callback invoked once when a round expires.
func WithEndHandler(handler func(Result)) Option {
	return func(m *Mode) {
		m.onEnd = handler
	}
}

// Mode is the Inactive/Active challenge state machine. It is safe for
// concurrent use.
type Mode struct {
	mu sync.Mutex

	duration     time.Duration
	pointsPerHit int
	now          func() time.Time
	onEnd        func(Result)

	active    bool
	startedAt time.Time
	score     int
	hits      int
	remaining int
}

// New constructs an inactive challenge mode.
func New(opts ...Option) *Mode {
	mode := &Mode{
		duration:     DefaultDuration,
		pointsPerHit: DefaultPointsPerHit,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mode)
		}
	}
	mode.remaining = mode.seconds()
	return mode
}

// Start begins a round, clearing the previous score.
func (m *Mode) Start() error {
	if m == nil {
		return ErrNotConstructed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return ErrAlreadyActive
	}
	m.clearLocked()
	m.active = true
	m.startedAt = m.now()
	return nil
}

// Stop abandons the running round without notifying the end handler and
// returns the mode to its idle state.
func (m *Mode) Stop() error {
	if m == nil {
		return ErrNotConstructed
	}
	m.mu.Lock()
	m.clearLocked()
	m.mu.Unlock()
	return nil
}

// RecordHit scores a target hit. It is ignored while inactive.
func (m *Mode) RecordHit() error {
	if m == nil {
		return ErrNotConstructed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	m.hits++
	m.score += m.pointsPerHit
	return nil
}

// Tick refreshes the countdown and ends the round once it reaches zero. The
// boolean reports whether this call ended the round, in which case the result
// is the one delivered to the end handler.
func (m *Mode) Tick() (Result, bool) {
	if m == nil {
		return Result{}, false
	}
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return Result{}, false
	}
	//1.- The countdown decrements once per whole elapsed second.
	elapsed := m.now().Sub(m.startedAt)
	remaining := m.seconds() - int(math.Floor(elapsed.Seconds()))
	if remaining > 0 {
		m.remaining = remaining
		m.mu.Unlock()
		return Result{}, false
	}
	//2.- Expire under the lock so only one caller observes the transition. The
	// final numbers leave through the result only.
	result := Result{Score: m.score, TargetsHit: m.hits, TimeElapsed: elapsed}
	m.clearLocked()
	handler := m.onEnd
	m.mu.Unlock()

	if handler != nil {
		handler(result)
	}
	return result, true
}

// State returns a snapshot of the challenge.
func (m *Mode) State() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Active:        m.active,
		Score:         m.score,
		TargetsHit:    m.hits,
		TimeRemaining: m.remaining,
	}
}

// Duration reports the configured round length.
func (m *Mode) Duration() time.Duration {
	if m == nil {
		return 0
	}
	return m.duration
}

// clearLocked restores the idle state New produces.
func (m *Mode) clearLocked() {
	m.active = false
	m.score = 0
	m.hits = 0
	m.remaining = m.seconds()
}

func (m *Mode) seconds() int {
	return int(m.duration / time.Second)
}

// Package input screens lab commands arriving from remote clients before they
// reach the simulation: out-of-order sequences, stale submissions and bursts
// faster than the configured interval are dropped and counted per client.
package input

import (
	"sync"
	"time"

	"projectilelab/server/internal/logging"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

// Now implements Clock for functional adapters.
func (c clockFunc) Now() time.Time { return c() }

// ClockFunc adapts a plain function into a Clock.
func ClockFunc(fn func() time.Time) Clock { return clockFunc(fn) }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls the freshness and throughput gates applied to client commands.
type Config struct {
	// MaxAge drops commands whose SentAt lags the server clock by more than this.
	MaxAge time.Duration
	// MinInterval is the shortest accepted spacing between two commands of the
	// same name from one client.
	MinInterval time.Duration
}

// DropReason enumerates why a command was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether a command passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Submission captures the metadata needed to screen one command.
type Submission struct {
	ClientID string
	Command  string
	// Sequence is optional; zero skips the ordering check.
	Sequence uint64
	SentAt   time.Time
}

type clientState struct {
	lastSequence uint64
	lastAccepted map[string]time.Time
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

// Total sums every drop reason.
func (d DropCounters) Total() uint64 { return d.Sequence + d.Stale + d.RateLimited }

// Gate validates ordering, freshness and throughput for inbound commands.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	logger  *logging.Logger
	clients map[string]*clientState
	drops   map[string]DropCounters
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for freshness and spacing.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg Config, logger *logging.Logger, opts ...Option) *Gate {
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if logger == nil {
		logger = logging.L()
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*clientState),
		drops:   make(map[string]DropCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies the ordering, freshness and spacing checks to one command.
func (g *Gate) Evaluate(sub Submission) Decision {
	decision := Decision{Accepted: true}
	if g == nil || sub.ClientID == "" {
		return decision
	}
	now := g.clock.Now()
	if !sub.SentAt.IsZero() {
		//1.- Record the capture-to-arrival delay; future stamps count as zero.
		if delay := now.Sub(sub.SentAt); delay > 0 {
			decision.Delay = delay
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.clients[sub.ClientID]
	if state == nil {
		state = &clientState{lastAccepted: make(map[string]time.Time)}
		g.clients[sub.ClientID] = state
	}

	switch {
	case sub.Sequence != 0 && sub.Sequence <= state.lastSequence:
		decision = g.reject(sub.ClientID, DropReasonSequence, decision.Delay)
	case g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		decision = g.reject(sub.ClientID, DropReasonStale, decision.Delay)
	default:
		//2.- Spacing is tracked per command so a launch right after a slider move passes.
		last, seen := state.lastAccepted[sub.Command]
		if seen && g.cfg.MinInterval > 0 && now.Sub(last) < g.cfg.MinInterval {
			decision = g.reject(sub.ClientID, DropReasonRateLimited, decision.Delay)
			break
		}
		if sub.Sequence != 0 {
			state.lastSequence = sub.Sequence
		}
		state.lastAccepted[sub.Command] = now
	}
	return decision
}

func (g *Gate) reject(clientID string, reason DropReason, delay time.Duration) Decision {
	counters := g.drops[clientID]
	switch reason {
	case DropReasonSequence:
		counters.Sequence++
	case DropReasonStale:
		counters.Stale++
	case DropReasonRateLimited:
		counters.RateLimited++
	}
	g.drops[clientID] = counters
	g.logger.Debug("command dropped", logging.String("client_id", clientID), logging.String("reason", reason.String()))
	return Decision{Accepted: false, Reason: reason, Delay: delay}
}

// Forget clears sequencing state and counters for a disconnected client.
func (g *Gate) Forget(clientID string) {
	if g == nil || clientID == "" {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	delete(g.drops, clientID)
	g.mu.Unlock()
}

// Metrics returns a snapshot of the drop counters per client.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for clientID, counters := range g.drops {
		clone[clientID] = counters
	}
	return clone
}

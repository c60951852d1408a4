package lab

import (
	"context"
	"sync"

	"projectilelab/server/internal/challenge"
	"projectilelab/server/internal/simulation"
)

// TelemetryKind distinguishes physics frames from command-driven state changes.
type TelemetryKind string

const (
	TelemetryFrame TelemetryKind = "frame"
	TelemetryState TelemetryKind = "state"
)

// Telemetry is the per-tick update fanned out to live subscribers.
type Telemetry struct {
	Kind       TelemetryKind         `json:"kind"`
	Session    string                `json:"session"`
	Step       uint64                `json:"step"`
	Revision   uint64                `json:"revision"`
	Launched   bool                  `json:"launched"`
	Position   simulation.Vec2       `json:"position"`
	Velocity   simulation.Vec2       `json:"velocity"`
	Readout    simulation.Readout    `json:"readout"`
	Target     simulation.Target     `json:"target"`
	Parameters simulation.Parameters `json:"parameters"`
	Challenge  challenge.Snapshot    `json:"challenge"`
	TargetHit  bool                  `json:"target_hit,omitempty"`
	Terminated bool                  `json:"terminated,omitempty"`
	Landed     bool                  `json:"landed,omitempty"`
}

// SubscribeTelemetry registers a live telemetry consumer. Slow consumers drop
// updates instead of stalling the loop. The returned cancel is idempotent and
// also runs when ctx ends.
func (l *Lab) SubscribeTelemetry(ctx context.Context) (<-chan Telemetry, func(), error) {
	if l == nil {
		return nil, func() {}, simulation.ErrNotConstructed
	}
	//1.- Buffer the channel so a briefly busy consumer does not lose frames.
	ch := make(chan Telemetry, subscriberBuffer)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, func() {}, ErrClosed
	}
	l.nextSubID++
	id := l.nextSubID
	l.subscribers[id] = ch
	//2.- Prime the subscriber with the current state so it can render at once.
	ch <- l.stateTelemetryLocked()
	l.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			l.mu.Lock()
			if sub, ok := l.subscribers[id]; ok {
				delete(l.subscribers, id)
				close(sub)
			}
			l.mu.Unlock()
		})
	}
	if ctx != nil {
		//3.- The watcher exits on either path so an explicit cancel does not leak it.
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return ch, cancel, nil
}

func (l *Lab) fanOutLocked(update Telemetry) {
	for _, ch := range l.subscribers {
		select {
		case ch <- update:
		default:
			l.stats.DroppedTelemetry++
		}
	}
}

func (l *Lab) frameTelemetryLocked(frame simulation.Frame) Telemetry {
	update := l.stateTelemetryLocked()
	update.Kind = TelemetryFrame
	update.Step = frame.Step
	update.Position = frame.Position
	update.Velocity = frame.Velocity
	update.Readout = frame.Readout
	update.TargetHit = frame.TargetHit
	update.Terminated = frame.Terminated
	update.Landed = frame.Landed
	return update
}

func (l *Lab) stateTelemetryLocked() Telemetry {
	state := l.engine.State()
	return Telemetry{
		Kind:       TelemetryState,
		Session:    l.session,
		Step:       l.engine.Steps(),
		Revision:   l.engine.Revision(),
		Launched:   state.IsLaunched,
		Position:   state.Position,
		Velocity:   state.Velocity,
		Readout:    l.engine.Readout(),
		Target:     state.Target,
		Parameters: l.engine.Parameters(),
		Challenge:  l.challenge.State(),
	}
}

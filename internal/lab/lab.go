// Package lab hosts one projectile lab session: it drives the simulation engine
// from a fixed-step loop, serialises every engine access behind a single mutex
// and forwards notifications to the event stream, the flight recorder and any
// registered hooks.
package lab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"projectilelab/server/internal/challenge"
	"projectilelab/server/internal/events"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/replay"
	"projectilelab/server/internal/simulation"
)

const (
	// DefaultWidth and DefaultHeight size the surface when Config leaves them unset.
	DefaultWidth  = 800.0
	DefaultHeight = 600.0
	// DefaultTickHz is the loop frequency when Config leaves it unset.
	DefaultTickHz = 60.0

	subscriberBuffer = 64
)

// ErrClosed is returned by every mutating call after Close.
var ErrClosed = errors.New("lab closed")

// Config sizes and tunes a lab session.
type Config struct {
	Width  float64
	Height float64
	// Seed feeds target placement; zero seeds from the clock.
	Seed              int64
	TickHz            float64
	ChallengeDuration time.Duration
	PointsPerHit      int
	// HistoryLimit bounds the ghost trajectories; zero keeps the engine default.
	HistoryLimit int
	// Parameters restores persisted launch settings when non-nil.
	Parameters *simulation.Parameters
}

// Hooks are host callbacks. They run after the lab lock is released, so they may
// call back into the lab.
type Hooks struct {
	TargetHit    func(simulation.Target)
	Landing      func(simulation.Frame)
	ChallengeEnd func(challenge.Result)
}

// FlightRecorder persists flights as they happen.
type FlightRecorder interface {
	BeginFlight(flight replay.Flight) error
	RecordFrame(frame simulation.Frame) error
	RecordEvent(kind string, tick uint64, payload map[string]any) error
	EndFlight() error
}

// Stats aggregates lab counters for monitoring endpoints.
type Stats struct {
	Frames              uint64                         `json:"frames"`
	Flights             uint64                         `json:"flights"`
	Landings            uint64                         `json:"landings"`
	TargetHits          uint64                         `json:"target_hits"`
	ChallengesCompleted uint64                         `json:"challenges_completed"`
	Subscribers         int                            `json:"subscribers"`
	DroppedTelemetry    uint64                         `json:"dropped_telemetry"`
	Recording           bool                           `json:"recording"`
	Tick                simulation.TickMetricsSnapshot `json:"tick"`
}

// Snapshot is a consistent view of the whole session.
type Snapshot struct {
	Session   string             `json:"session"`
	Revision  uint64             `json:"revision"`
	State     simulation.State   `json:"state"`
	Readout   simulation.Readout `json:"readout"`
	Challenge challenge.Snapshot `json:"challenge"`
}

// Option customises a Lab at construction time.
type Option func(*Lab)

// WithLogger overrides the logger; the global logger is used otherwise.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Lab) {
		if logger != nil {
			l.log = logger
		}
	}
}

// WithEventStream publishes lab notifications to stream.
func WithEventStream(stream *events.Stream) Option {
	return func(l *Lab) {
		l.stream = stream
	}
}

// WithRecorder records every flight through recorder.
func WithRecorder(recorder FlightRecorder) Option {
	return func(l *Lab) {
		l.recorder = recorder
	}
}

// WithHooks registers host callbacks.
func WithHooks(hooks Hooks) Option {
	return func(l *Lab) {
		l.hooks = hooks
	}
}

// WithClock injects the challenge clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Lab) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithRandom injects the engine's random source, overriding Config.Seed.
func WithRandom(r simulation.Random) Option {
	return func(l *Lab) {
		l.rng = r
	}
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(l *Lab) {
		if id != "" {
			l.session = id
		}
	}
}

// Lab is one running projectile lab. It is safe for concurrent use.
type Lab struct {
	mu sync.Mutex

	cfg       Config
	session   string
	engine    *simulation.Engine
	challenge *challenge.Mode
	loop      *simulation.Loop
	monitor   *simulation.TickMonitor
	stream    *events.Stream
	recorder  FlightRecorder
	hooks     Hooks
	log       *logging.Logger
	now       func() time.Time
	rng       simulation.Random

	subscribers map[uint64]chan Telemetry
	nextSubID   uint64

	stats     Stats
	recording bool
	closed    bool

	// pending is wall time the loop has accrued towards the next physics step.
	pending float64
	// loopHooks counts hooks currently running on the loop goroutine.
	loopHooks atomic.Int32
}

// New builds a lab session. The loop does not run until Start.
func New(cfg Config, opts ...Option) (*Lab, error) {
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if !(cfg.TickHz > 0) {
		cfg.TickHz = DefaultTickHz
	}
	l := &Lab{
		cfg:         cfg,
		now:         time.Now,
		subscribers: make(map[uint64]chan Telemetry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.log == nil {
		l.log = logging.L()
	}
	if l.session == "" {
		l.session = uuid.NewString()
	}
	l.log = l.log.With(logging.String("session", l.session))

	//1.- Build the engine with the configured randomness and persisted settings.
	engineOpts := []simulation.Option{simulation.WithSeed(cfg.Seed)}
	if l.rng != nil {
		engineOpts = append(engineOpts, simulation.WithRandom(l.rng))
	}
	if cfg.HistoryLimit != 0 {
		engineOpts = append(engineOpts, simulation.WithTrajectoryHistory(cfg.HistoryLimit))
	}
	if cfg.Parameters != nil {
		engineOpts = append(engineOpts, simulation.WithParameters(*cfg.Parameters))
	}
	engine, err := simulation.New(cfg.Width, cfg.Height, engineOpts...)
	if err != nil {
		return nil, err
	}
	l.engine = engine

	//2.- The challenge shares the lab clock so tests can drive its countdown.
	l.challenge = challenge.New(
		challenge.WithDuration(cfg.ChallengeDuration),
		challenge.WithPointsPerHit(cfg.PointsPerHit),
		challenge.WithClock(func() time.Time { return l.now() }),
	)
	l.loop = simulation.NewLoop(cfg.TickHz, func(step time.Duration) { l.advance(true, step) })
	l.monitor = simulation.NewTickMonitor(l.loop.StepDuration())
	return l, nil
}

// Session returns the session identifier.
func (l *Lab) Session() string {
	if l == nil {
		return ""
	}
	return l.session
}

// Start runs the fixed-step loop until ctx is cancelled or Close is called.
func (l *Lab) Start(ctx context.Context) error {
	if l == nil {
		return simulation.ErrNotConstructed
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	l.loop.Start(ctx)
	l.log.Info("lab loop started", logging.Float64("tick_hz", l.cfg.TickHz))
	return nil
}

// Close stops the loop, finishes any open recording and disposes the engine.
func (l *Lab) Close() error {
	if l == nil {
		return nil
	}
	//1.- Stop the loop first; its goroutine may be waiting for the lock. A hook
	// running on the loop goroutine cannot wait for itself, so it only cancels.
	if l.loopHooks.Load() > 0 {
		l.loop.Cancel()
	} else {
		l.loop.Stop()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.challenge.Stop()
	var firstErr error
	if l.recording {
		l.recording = false
		if err := l.recorder.EndFlight(); err != nil {
			firstErr = err
		}
	}
	if err := l.engine.Dispose(); err != nil && firstErr == nil {
		firstErr = err
	}
	for id, ch := range l.subscribers {
		delete(l.subscribers, id)
		close(ch)
	}
	return firstErr
}

// Advance runs one lab tick: visual particles, one physics step while a flight
// is in progress and the challenge countdown. Hosts that own their frame clock
// call it directly instead of Start.
func (l *Lab) Advance() {
	l.advance(false, 0)
}

// stepEpsilon absorbs the nanosecond truncation of tick durations.
const stepEpsilon = 1e-6

// physicsStepsLocked converts loop time into whole simulation steps. The loop may tick
// at any rate while flights keep running at real time.
func (l *Lab) physicsStepsLocked(step time.Duration) int {
	l.pending += step.Seconds()
	steps := 0
	for l.pending+stepEpsilon >= simulation.TimeStep {
		l.pending -= simulation.TimeStep
		steps++
	}
	if l.pending < 0 {
		l.pending = 0
	}
	return steps
}

func (l *Lab) advance(fromLoop bool, step time.Duration) {
	if l == nil {
		return
	}
	started := time.Now()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	steps := 1
	if fromLoop {
		steps = l.physicsStepsLocked(step)
	}
	notes := l.advanceLocked(steps)
	l.mu.Unlock()

	//1.- Hooks run outside the lock so they may call back into the lab.
	if fromLoop && len(notes) > 0 {
		l.loopHooks.Add(1)
		defer l.loopHooks.Add(-1)
	}
	for _, note := range notes {
		note()
	}
	l.monitor.Observe(time.Since(started))
}

func (l *Lab) advanceLocked(steps int) []func() {
	var notes []func()
	if err := l.engine.AdvanceVisuals(); err != nil {
		l.log.Warn("advance visuals failed", logging.Error(err))
	}
	//1.- A reset taken under the same lock leaves Launched false, so a stale tick
	// can never revive a finished flight.
	for i := 0; i < steps && l.engine.Launched(); i++ {
		frame, err := l.engine.Step()
		if err != nil {
			l.log.Warn("physics step failed", logging.Error(err))
			break
		}
		notes = append(notes, l.handleFrameLocked(frame)...)
	}
	if result, ended := l.challenge.Tick(); ended {
		l.stats.ChallengesCompleted++
		l.publishLocked(events.KindChallengeEnd, map[string]any{
			"score":           result.Score,
			"targets_hit":     result.TargetsHit,
			"elapsed_seconds": result.TimeElapsed.Seconds(),
		})
		l.log.Info("challenge ended", logging.Int("score", result.Score), logging.Int("targets_hit", result.TargetsHit))
		if hook := l.hooks.ChallengeEnd; hook != nil {
			notes = append(notes, func() { hook(result) })
		}
	}
	return notes
}

func (l *Lab) handleFrameLocked(frame simulation.Frame) []func() {
	var notes []func()
	l.stats.Frames++
	if l.recording {
		if err := l.recorder.RecordFrame(frame); err != nil {
			l.log.Warn("record frame failed", logging.Error(err))
		}
	}
	l.fanOutLocked(l.frameTelemetryLocked(frame))

	if frame.TargetHit {
		target := l.engine.Target()
		l.stats.TargetHits++
		if err := l.challenge.RecordHit(); err != nil {
			l.log.Warn("challenge hit not scored", logging.Error(err))
		}
		l.publishLocked(events.KindTargetHit, map[string]any{
			"x":      target.X,
			"y":      target.Y,
			"radius": target.Radius,
			"time":   frame.Readout.TimeOfFlight,
		})
		if hook := l.hooks.TargetHit; hook != nil {
			notes = append(notes, func() { hook(target) })
		}
	}
	if frame.Terminated {
		l.stats.Flights++
		if frame.Landed {
			l.stats.Landings++
		}
		l.publishLocked(events.KindLanding, map[string]any{
			"landed":         frame.Landed,
			"x":              frame.Position.X,
			"y":              frame.Position.Y,
			"range":          frame.Readout.Range,
			"max_height":     frame.Readout.MaxHeight,
			"time_of_flight": frame.Readout.TimeOfFlight,
		})
		l.endRecordingLocked()
		if hook := l.hooks.Landing; hook != nil {
			notes = append(notes, func() { hook(frame) })
		}
	}
	return notes
}

// Launch starts a flight. It fails with simulation.ErrAlreadyLaunched in flight.
func (l *Lab) Launch() error {
	return l.mutate(l.launchLocked)
}

// Reset returns the projectile to the pad and generates a new target.
func (l *Lab) Reset() error {
	return l.mutate(l.resetLocked)
}

// ToggleLaunch resets a flight in progress and launches otherwise.
func (l *Lab) ToggleLaunch() error {
	return l.mutate(func() error {
		if l.engine.Launched() {
			return l.resetLocked()
		}
		return l.launchLocked()
	})
}

// SetAngle stores the launch elevation in degrees.
func (l *Lab) SetAngle(deg float64) error {
	return l.mutate(func() error { return l.engine.SetAngle(deg) })
}

// SetInitialVelocity stores the launch speed in m/s.
func (l *Lab) SetInitialVelocity(speed float64) error {
	return l.mutate(func() error { return l.engine.SetInitialVelocity(speed) })
}

// SetMass stores the projectile mass in kg.
func (l *Lab) SetMass(mass float64) error {
	return l.mutate(func() error { return l.engine.SetMass(mass) })
}

// SetAirResistance stores the drag scale.
func (l *Lab) SetAirResistance(scale float64) error {
	return l.mutate(func() error { return l.engine.SetAirResistance(scale) })
}

// SetWindSpeed stores the signed wind speed in m/s.
func (l *Lab) SetWindSpeed(speed float64) error {
	return l.mutate(func() error { return l.engine.SetWindSpeed(speed) })
}

// SetShowForceVectors toggles the force-vector overlay.
func (l *Lab) SetShowForceVectors(show bool) error {
	return l.mutate(func() error { return l.engine.SetShowForceVectors(show) })
}

// ToggleForceVectors flips the force-vector overlay.
func (l *Lab) ToggleForceVectors() error {
	return l.mutate(func() error {
		return l.engine.SetShowForceVectors(!l.engine.Parameters().ShowForceVectors)
	})
}

// StartChallenge begins a timed round.
func (l *Lab) StartChallenge() error {
	return l.mutate(func() error {
		if err := l.challenge.Start(); err != nil {
			return err
		}
		l.publishLocked(events.KindChallengeStart, map[string]any{
			"duration_seconds": l.challenge.Duration().Seconds(),
		})
		return nil
	})
}

// StopChallenge abandons the running round without an end notification.
func (l *Lab) StopChallenge() error {
	return l.mutate(l.challenge.Stop)
}

// ToggleChallenge stops an active round and starts one otherwise.
func (l *Lab) ToggleChallenge() error {
	if l.Challenge().Active {
		return l.StopChallenge()
	}
	return l.StartChallenge()
}

// mutate runs fn under the lab lock and broadcasts the resulting state.
func (l *Lab) mutate(fn func() error) error {
	if l == nil {
		return simulation.ErrNotConstructed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := fn(); err != nil {
		return err
	}
	l.fanOutLocked(l.stateTelemetryLocked())
	return nil
}

func (l *Lab) launchLocked() error {
	if err := l.engine.Launch(); err != nil {
		return err
	}
	params := l.engine.Parameters()
	l.beginRecordingLocked(params)
	l.publishLocked(events.KindLaunch, map[string]any{
		"angle":          params.Angle,
		"launch_speed":   params.LaunchSpeed,
		"mass":           params.Mass,
		"air_resistance": params.DragScale,
		"wind_speed":     params.WindSpeed,
	})
	return nil
}

func (l *Lab) resetLocked() error {
	inFlight := l.engine.Launched()
	if err := l.engine.Reset(); err != nil {
		return err
	}
	target := l.engine.Target()
	l.publishLocked(events.KindReset, map[string]any{
		"in_flight": inFlight,
		"target_x":  target.X,
		"target_y":  target.Y,
	})
	l.endRecordingLocked()
	return nil
}

func (l *Lab) beginRecordingLocked(params simulation.Parameters) {
	if l.recorder == nil {
		return
	}
	if l.recording {
		l.endRecordingLocked()
	}
	flight := replay.Flight{
		Session:    l.session,
		Seed:       l.cfg.Seed,
		StartTick:  l.engine.Steps(),
		Surface:    replay.Surface{Width: l.cfg.Width, Height: l.cfg.Height},
		Parameters: params,
		Target:     l.engine.Target(),
	}
	if err := l.recorder.BeginFlight(flight); err != nil {
		l.log.Warn("begin flight recording failed", logging.Error(err))
		return
	}
	l.recording = true
}

func (l *Lab) endRecordingLocked() {
	if !l.recording {
		return
	}
	l.recording = false
	if err := l.recorder.EndFlight(); err != nil {
		l.log.Warn("end flight recording failed", logging.Error(err))
	}
}

func (l *Lab) publishLocked(kind events.Kind, payload map[string]any) {
	tick := l.engine.Steps()
	if l.stream != nil {
		if _, err := l.stream.Publish(kind, tick, payload); err != nil {
			l.log.Warn("publish event failed", logging.String("kind", string(kind)), logging.Error(err))
		}
	}
	if l.recording {
		if err := l.recorder.RecordEvent(string(kind), tick, payload); err != nil {
			l.log.Warn("record event failed", logging.String("kind", string(kind)), logging.Error(err))
		}
	}
}

// State returns a copy of the simulation state.
func (l *Lab) State() simulation.State {
	if l == nil {
		return simulation.State{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.State()
}

// Parameters returns the current launch settings.
func (l *Lab) Parameters() simulation.Parameters {
	if l == nil {
		return simulation.Parameters{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Parameters()
}

// Readout returns the latest readout record.
func (l *Lab) Readout() simulation.Readout {
	if l == nil {
		return simulation.Readout{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Readout()
}

// Drawable returns the renderable scene.
func (l *Lab) Drawable() simulation.Drawable {
	if l == nil {
		return simulation.Drawable{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Drawable()
}

// Challenge returns the challenge snapshot.
func (l *Lab) Challenge() challenge.Snapshot {
	if l == nil {
		return challenge.Snapshot{}
	}
	return l.challenge.State()
}

// Snapshot returns a consistent view of the session.
func (l *Lab) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Lab) snapshotLocked() Snapshot {
	return Snapshot{
		Session:   l.session,
		Revision:  l.engine.Revision(),
		State:     l.engine.State(),
		Readout:   l.engine.Readout(),
		Challenge: l.challenge.State(),
	}
}

// Events exposes the sequenced event stream, if one was configured.
func (l *Lab) Events() *events.Stream {
	if l == nil {
		return nil
	}
	return l.stream
}

// Stats returns the lab counters and loop timing.
func (l *Lab) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	stats := l.stats
	stats.Subscribers = len(l.subscribers)
	stats.Recording = l.recording
	l.mu.Unlock()
	stats.Tick = l.monitor.Snapshot()
	return stats
}

// Package simulation owns the projectile lab engine: launch-pad state, the fixed
// timestep physics step, target detection and the visual state hosts render.
//
// An Engine is not safe for concurrent use. Hosts serialise access, typically by
// driving it from a single Loop goroutine and guarding external calls with the same
// mutex (see internal/lab).
package simulation

import (
	"errors"
	"fmt"
	"math"

	"projectilelab/server/internal/physics"
)

// Vec2 re-exports the physics vector so hosts need a single import.
type Vec2 = physics.Vec2

const (
	// PixelsPerMeter converts simulation metres into surface pixels.
	PixelsPerMeter = 10.0
	// GroundMargin is the height of the ground band at the bottom of the surface.
	GroundMargin = 50.0
	// PadX is the horizontal launch pad position in pixels.
	PadX = 30.0
	// TimeStep is the fixed integration step in seconds.
	TimeStep = 1.0 / 60
	// TrailLimit caps the number of recent positions retained for rendering.
	TrailLimit = 50
	// TargetRadius is the radius of every generated target in pixels.
	TargetRadius = 15.0

	// MinSurfaceWidth and MinSurfaceHeight keep the target placement bands non-empty.
	MinSurfaceWidth  = 200.0
	MinSurfaceHeight = 140.0

	DefaultAngle       = 45.0
	DefaultLaunchSpeed = 20.0
	DefaultMass        = 1.0

	MinAngle       = 0.0
	MaxAngle       = 90.0
	MaxLaunchSpeed = 50.0
	MinMass        = 0.1
	MaxMass        = 10.0
	MaxWindSpeed   = 10.0

	// DefaultHistoryLimit is how many completed flight paths are kept as ghosts.
	DefaultHistoryLimit = 5

	targetEdgeMargin = 100.0
	flightPathLimit  = 2000
)

var (
	// ErrNotConstructed signals a call on a nil engine.
	ErrNotConstructed = errors.New("simulation engine not constructed")
	// ErrDisposed signals a call after Dispose.
	ErrDisposed = errors.New("simulation engine disposed")
	// ErrAlreadyLaunched is returned by Launch while a flight is in progress.
	ErrAlreadyLaunched = errors.New("projectile already launched")
	// ErrNotLaunched is returned by Step when no flight is in progress.
	ErrNotLaunched = errors.New("projectile not launched")
	// ErrInvalidParameter wraps rejected setter input such as NaN.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvalidSurface is returned when the drawing surface is unusable.
	ErrInvalidSurface = errors.New("invalid surface size")
)

// Target is the circular goal region. Hit latches true on the first overlap.
type Target struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Hit    bool    `json:"hit"`
}

// State is a copy of the engine's authoritative simulation state.
type State struct {
	Angle            float64 `json:"angle"`
	LaunchSpeed      float64 `json:"launch_speed"`
	Mass             float64 `json:"mass"`
	DragScale        float64 `json:"air_resistance"`
	WindSpeed        float64 `json:"wind_speed"`
	Position         Vec2    `json:"position"`
	Velocity         Vec2    `json:"velocity"`
	ElapsedTime      float64 `json:"elapsed_time"`
	IsLaunched       bool    `json:"is_launched"`
	MaxHeight        float64 `json:"max_height"`
	MaxRange         float64 `json:"max_range"`
	ShowForceVectors bool    `json:"show_force_vectors"`
	Trail            []Vec2  `json:"trail"`
	Target           Target  `json:"target"`
}

// Parameters are the user-configurable launch settings that persist across resets.
type Parameters struct {
	Angle            float64 `json:"angle"`
	LaunchSpeed      float64 `json:"launch_speed"`
	Mass             float64 `json:"mass"`
	DragScale        float64 `json:"air_resistance"`
	WindSpeed        float64 `json:"wind_speed"`
	ShowForceVectors bool    `json:"show_force_vectors"`
}

// Readout is the per-frame record of derived values displayed by hosts.
type Readout struct {
	Step            uint64  `json:"step"`
	MaxHeight       float64 `json:"max_height"`
	Range           float64 `json:"range"`
	TimeOfFlight    float64 `json:"time_of_flight"`
	Speed           float64 `json:"speed"`
	KineticEnergy   float64 `json:"kinetic_energy"`
	PotentialEnergy float64 `json:"potential_energy"`
	TotalEnergy     float64 `json:"total_energy"`
	Reynolds        float64 `json:"reynolds"`
	Mach            float64 `json:"mach"`
	Gravity         float64 `json:"gravity"`
	AirDensity      float64 `json:"air_density"`
	TargetDistance  float64 `json:"target_distance"`
}

// Frame is the outcome of a single physics step.
type Frame struct {
	Step       uint64  `json:"step"`
	Position   Vec2    `json:"position"`
	Velocity   Vec2    `json:"velocity"`
	Readout    Readout `json:"readout"`
	TargetHit  bool    `json:"target_hit"`
	Terminated bool    `json:"terminated"`
	Landed     bool    `json:"landed"`
}

// Option customises engine construction.
type Option func(*Engine)

// WithRandom injects the random source used for targets and particles.
func WithRandom(r Random) Option {
	return func(e *Engine) {
		if r != nil {
			e.rng = r
		}
	}
}

// WithSeed seeds a dedicated generator; zero means time-seeded.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.rng = NewRandom(seed)
	}
}

// WithTargetHitHandler registers the target-hit notification at construction.
func WithTargetHitHandler(handler func(Target)) Option {
	return func(e *Engine) {
		e.onTargetHit = handler
	}
}

// WithTrajectoryHistory sets how many completed flight paths are retained.
func WithTrajectoryHistory(limit int) Option {
	return func(e *Engine) {
		if limit < 0 {
			limit = 0
		}
		e.historyLimit = limit
	}
}

// WithParameters seeds the launch parameters, clamping them into their domains.
func WithParameters(params Parameters) Option {
	return func(e *Engine) {
		e.pending = &params
	}
}

// Engine advances one projectile through the lab environment.
type Engine struct {
	width   float64
	height  float64
	groundY float64

	state        State
	rng          Random
	onTargetHit  func(Target)
	readout      Readout
	conditions   physics.Conditions
	steps        uint64
	flightSteps  uint64
	revision     uint64
	disposed     bool
	pending      *Parameters
	wind         []WindParticle
	impacts      []ImpactParticle
	flightPath   []Vec2
	history      [][]Vec2
	historyLimit int
}

// New constructs an engine for a drawing surface of the given pixel size.
func New(width, height float64, opts ...Option) (*Engine, error) {
	if !finite(width) || !finite(height) || width < MinSurfaceWidth || height < MinSurfaceHeight {
		return nil, fmt.Errorf("%w: %vx%v (minimum %vx%v)", ErrInvalidSurface, width, height, MinSurfaceWidth, MinSurfaceHeight)
	}
	engine := &Engine{
		width:        width,
		height:       height,
		groundY:      height - GroundMargin,
		historyLimit: DefaultHistoryLimit,
		state: State{
			Angle:       DefaultAngle,
			LaunchSpeed: DefaultLaunchSpeed,
			Mass:        DefaultMass,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	if engine.rng == nil {
		engine.rng = NewRandom(0)
	}
	//1.- Apply persisted parameters through the same clamps as the setters.
	if engine.pending != nil {
		engine.applyParameters(*engine.pending)
		engine.pending = nil
	}
	//2.- Place the projectile on the pad and generate the first target.
	engine.resetKinematics()
	engine.state.Target = engine.newTarget()
	//3.- Seed the decorative wind field.
	engine.wind = newWindField(engine.rng, width, engine.groundY)
	engine.refreshReadout()
	return engine, nil
}

// Size reports the drawing surface dimensions.
func (e *Engine) Size() (width, height float64) {
	if e == nil {
		return 0, 0
	}
	return e.width, e.height
}

// GroundY reports the pixel row of the ground line.
func (e *Engine) GroundY() float64 {
	if e == nil {
		return 0
	}
	return e.groundY
}

// OnTargetHit registers the callback invoked the first time a target is hit.
func (e *Engine) OnTargetHit(handler func(Target)) error {
	if err := e.usable(); err != nil {
		return err
	}
	e.onTargetHit = handler
	return nil
}

// SetAngle stores the launch elevation in degrees, clamped to [0, 90].
func (e *Engine) SetAngle(deg float64) error {
	value, err := e.admit("angle", deg, MinAngle, MaxAngle)
	if err != nil {
		return err
	}
	e.state.Angle = value
	e.touch()
	return nil
}

// SetInitialVelocity stores the launch speed in m/s, clamped to [0, 50].
func (e *Engine) SetInitialVelocity(speed float64) error {
	value, err := e.admit("launch speed", speed, 0, MaxLaunchSpeed)
	if err != nil {
		return err
	}
	e.state.LaunchSpeed = value
	e.touch()
	return nil
}

// SetMass stores the projectile mass in kg, clamped to [0.1, 10].
func (e *Engine) SetMass(mass float64) error {
	value, err := e.admit("mass", mass, MinMass, MaxMass)
	if err != nil {
		return err
	}
	e.state.Mass = value
	e.touch()
	return nil
}

// SetAirResistance stores the drag scale, clamped to [0, 1].
func (e *Engine) SetAirResistance(scale float64) error {
	value, err := e.admit("air resistance", scale, 0, 1)
	if err != nil {
		return err
	}
	e.state.DragScale = value
	e.touch()
	return nil
}

// SetWindSpeed stores the signed wind speed in m/s, clamped to [-10, 10].
func (e *Engine) SetWindSpeed(speed float64) error {
	value, err := e.admit("wind speed", speed, -MaxWindSpeed, MaxWindSpeed)
	if err != nil {
		return err
	}
	e.state.WindSpeed = value
	e.touch()
	return nil
}

// SetShowForceVectors toggles the force-vector overlay.
func (e *Engine) SetShowForceVectors(show bool) error {
	if err := e.usable(); err != nil {
		return err
	}
	e.state.ShowForceVectors = show
	e.touch()
	return nil
}

// Launch decomposes the launch speed into velocity components and starts a flight.
func (e *Engine) Launch() error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.state.IsLaunched {
		return ErrAlreadyLaunched
	}
	//1.- Start the clock from zero and clear the per-flight path.
	e.state.ElapsedTime = 0
	e.flightSteps = 0
	e.flightPath = e.flightPath[:0]
	//2.- Convert the elevation to radians and split the speed.
	theta := e.state.Angle * math.Pi / 180
	e.state.Velocity = Vec2{
		X: e.state.LaunchSpeed * math.Cos(theta),
		Y: e.state.LaunchSpeed * math.Sin(theta),
	}
	e.state.IsLaunched = true
	e.touch()
	return nil
}

// Reset returns the projectile to the pad, keeps the configured parameters and
// generates a fresh target.
func (e *Engine) Reset() error {
	if err := e.usable(); err != nil {
		return err
	}
	e.state.IsLaunched = false
	e.resetKinematics()
	e.state.Target = e.newTarget()
	e.flightPath = e.flightPath[:0]
	e.refreshReadout()
	e.touch()
	return nil
}

// Step advances the flight by one fixed timestep.
func (e *Engine) Step() (Frame, error) {
	if err := e.usable(); err != nil {
		return Frame{}, err
	}
	if !e.state.IsLaunched {
		return Frame{}, ErrNotLaunched
	}

	//1.- Integrate the body; conditions describe the pre-step environment.
	body := physics.Body{Position: e.state.Position, Velocity: e.state.Velocity, Mass: e.state.Mass}
	conditions := physics.Step(&body, e.medium(), TimeStep)
	if !body.Position.Finite() || !body.Velocity.Finite() {
		//2.- Never admit a non-finite state into the next frame.
		e.state.IsLaunched = false
		e.touch()
		return Frame{Step: e.steps, Terminated: true}, nil
	}
	e.steps++
	e.flightSteps++
	e.conditions = conditions
	e.state.Position = body.Position
	e.state.Velocity = body.Velocity
	e.state.ElapsedTime = float64(e.flightSteps) * TimeStep

	//3.- Bookkeeping: trail, flight path and running maxima.
	e.appendTrail(body.Position)
	if len(e.flightPath) < flightPathLimit {
		e.flightPath = append(e.flightPath, body.Position)
	}
	height := (e.groundY - body.Position.Y) / PixelsPerMeter
	if height > e.state.MaxHeight {
		e.state.MaxHeight = height
	}
	if reach := (body.Position.X - PadX) / PixelsPerMeter; reach > e.state.MaxRange {
		e.state.MaxRange = reach
	}

	frame := Frame{Step: e.steps, Position: body.Position, Velocity: body.Velocity}

	//4.- Target detection latches once per target instance.
	if !e.state.Target.Hit && e.distanceToTarget() < e.state.Target.Radius {
		e.state.Target.Hit = true
		frame.TargetHit = true
		e.spawnImpact(e.state.Target.X, e.state.Target.Y, targetBurstColor)
		if e.onTargetHit != nil {
			e.onTargetHit(e.state.Target)
		}
	}

	//5.- Terminate on ground contact or when leaving the surface horizontally.
	landed := body.Position.Y >= e.groundY
	if landed || body.Position.X < 0 || body.Position.X > e.width {
		e.state.IsLaunched = false
		frame.Terminated = true
		frame.Landed = landed
		e.archiveFlight()
		if landed {
			e.spawnImpact(body.Position.X, e.groundY, groundBurstColor)
		}
	}

	e.readout = e.buildReadout(conditions)
	frame.Readout = e.readout
	e.touch()
	return frame, nil
}

// Dispose ends the engine's life; later mutating calls return ErrDisposed.
func (e *Engine) Dispose() error {
	if e == nil {
		return ErrNotConstructed
	}
	if e.disposed {
		return ErrDisposed
	}
	e.disposed = true
	e.state.IsLaunched = false
	e.onTargetHit = nil
	return nil
}

// Disposed reports whether Dispose has been called.
func (e *Engine) Disposed() bool {
	return e == nil || e.disposed
}

// State returns a copy of the simulation state.
func (e *Engine) State() State {
	if e == nil {
		return State{}
	}
	snapshot := e.state
	snapshot.Trail = append([]Vec2(nil), e.state.Trail...)
	return snapshot
}

// Parameters returns the persisted launch settings.
func (e *Engine) Parameters() Parameters {
	if e == nil {
		return Parameters{}
	}
	return Parameters{
		Angle:            e.state.Angle,
		LaunchSpeed:      e.state.LaunchSpeed,
		Mass:             e.state.Mass,
		DragScale:        e.state.DragScale,
		WindSpeed:        e.state.WindSpeed,
		ShowForceVectors: e.state.ShowForceVectors,
	}
}

// Readout returns the readout produced by the latest step, or the pad readout.
func (e *Engine) Readout() Readout {
	if e == nil {
		return Readout{}
	}
	return e.readout
}

// Target returns the current target.
func (e *Engine) Target() Target {
	if e == nil {
		return Target{}
	}
	return e.state.Target
}

// Launched reports whether a flight is in progress.
func (e *Engine) Launched() bool {
	return e != nil && e.state.IsLaunched
}

// Steps reports how many physics steps ran since construction.
func (e *Engine) Steps() uint64 {
	if e == nil {
		return 0
	}
	return e.steps
}

// Revision increases on every state change; hosts redraw when it moves.
func (e *Engine) Revision() uint64 {
	if e == nil {
		return 0
	}
	return e.revision
}

func (e *Engine) usable() error {
	if e == nil {
		return ErrNotConstructed
	}
	if e.disposed {
		return ErrDisposed
	}
	return nil
}

// admit rejects non-finite input and clamps finite values into [lo, hi].
func (e *Engine) admit(name string, value, lo, hi float64) (float64, error) {
	if err := e.usable(); err != nil {
		return 0, err
	}
	if !finite(value) {
		return 0, fmt.Errorf("%s %v: %w", name, value, ErrInvalidParameter)
	}
	return clamp(value, lo, hi), nil
}

func (e *Engine) applyParameters(params Parameters) {
	if finite(params.Angle) {
		e.state.Angle = clamp(params.Angle, MinAngle, MaxAngle)
	}
	if finite(params.LaunchSpeed) {
		e.state.LaunchSpeed = clamp(params.LaunchSpeed, 0, MaxLaunchSpeed)
	}
	if finite(params.Mass) && params.Mass > 0 {
		e.state.Mass = clamp(params.Mass, MinMass, MaxMass)
	}
	if finite(params.DragScale) {
		e.state.DragScale = clamp(params.DragScale, 0, 1)
	}
	if finite(params.WindSpeed) {
		e.state.WindSpeed = clamp(params.WindSpeed, -MaxWindSpeed, MaxWindSpeed)
	}
	e.state.ShowForceVectors = params.ShowForceVectors
}

func (e *Engine) resetKinematics() {
	e.state.Position = Vec2{X: PadX, Y: e.groundY}
	e.state.Velocity = Vec2{}
	e.state.ElapsedTime = 0
	e.flightSteps = 0
	e.state.MaxHeight = 0
	e.state.MaxRange = 0
	e.state.Trail = e.state.Trail[:0]
}

func (e *Engine) medium() physics.Medium {
	return physics.Medium{
		DragScale:      e.state.DragScale,
		WindSpeed:      e.state.WindSpeed,
		GroundY:        e.groundY,
		PixelsPerMeter: PixelsPerMeter,
	}
}

func (e *Engine) appendTrail(position Vec2) {
	e.state.Trail = append(e.state.Trail, position)
	if overflow := len(e.state.Trail) - TrailLimit; overflow > 0 {
		//1.- Evict the oldest points in place so the backing array stays bounded.
		copy(e.state.Trail, e.state.Trail[overflow:])
		e.state.Trail = e.state.Trail[:TrailLimit]
	}
}

func (e *Engine) archiveFlight() {
	if e.historyLimit == 0 || len(e.flightPath) == 0 {
		return
	}
	e.history = append(e.history, append([]Vec2(nil), e.flightPath...))
	if overflow := len(e.history) - e.historyLimit; overflow > 0 {
		e.history = append([][]Vec2(nil), e.history[overflow:]...)
	}
}

func (e *Engine) distanceToTarget() float64 {
	return math.Hypot(e.state.Position.X-e.state.Target.X, e.state.Position.Y-e.state.Target.Y)
}

// refreshReadout evaluates the environment at the current state without stepping.
func (e *Engine) refreshReadout() {
	body := physics.Body{Position: e.state.Position, Velocity: e.state.Velocity, Mass: e.state.Mass}
	e.conditions = physics.Evaluate(body, e.medium())
	e.readout = e.buildReadout(e.conditions)
}

func (e *Engine) buildReadout(c physics.Conditions) Readout {
	return Readout{
		Step:            e.steps,
		MaxHeight:       e.state.MaxHeight,
		Range:           e.state.MaxRange,
		TimeOfFlight:    e.state.ElapsedTime,
		Speed:           c.Speed,
		KineticEnergy:   c.Energy.Kinetic,
		PotentialEnergy: c.Energy.Potential,
		TotalEnergy:     c.Energy.Total,
		Reynolds:        c.Reynolds,
		Mach:            c.Mach,
		Gravity:         c.Gravity,
		AirDensity:      c.AirDensity,
		TargetDistance:  e.distanceToTarget() / PixelsPerMeter,
	}
}

func (e *Engine) touch() {
	e.revision++
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

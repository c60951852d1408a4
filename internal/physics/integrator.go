package physics

import "math"

// Vec2 is a lightweight 2D vector used by the ballistics helpers.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the component-wise sum.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns the component-wise difference.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale multiplies both components by k.
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

// Len returns the Euclidean length.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Finite reports whether both components are neither NaN nor infinite.
func (v Vec2) Finite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Body is the integrable projectile state. Position is expressed in screen pixels
// with y growing downward; velocity is in metres per second with y upward positive.
type Body struct {
	Position Vec2
	Velocity Vec2
	Mass     float64
}

// Medium describes the external forcing terms applied during integration.
type Medium struct {
	DragScale      float64 // [0,1] multiplier over the physical drag model
	WindSpeed      float64 // m/s, horizontal
	GroundY        float64 // pixel row of the ground line
	PixelsPerMeter float64
}

// windCoupling converts wind speed into a horizontal acceleration term.
const windCoupling = 0.1

// Conditions captures the environment sampled at the start of a step.
type Conditions struct {
	Altitude        float64
	Gravity         float64
	AirDensity      float64
	Speed           float64
	Mach            float64
	DragCoefficient float64
	Reynolds        float64
	Sphere          Sphere
	Drag            Vec2
	Energy          Energy
}

// Evaluate samples gravity, density and drag for the body without mutating it.
func Evaluate(body Body, medium Medium) Conditions {
	scale := medium.PixelsPerMeter
	if !(scale > 0) {
		scale = 1
	}
	//1.- Altitude is measured upward from the ground line in metres.
	altitude := (medium.GroundY - body.Position.Y) / scale
	gravity := Gravity(altitude)
	density := AirDensity(altitude)
	//2.- Geometry follows from mass through the constant-density sphere.
	sphere := SphereFromMass(body.Mass)
	speed := body.Velocity.Len()
	mach := Mach(speed)
	coefficient := DragCoefficient(mach)
	//3.- Drag uses the zero-guarded component decomposition.
	drag := DragForce(DragInput{
		Velocity:    body.Velocity,
		AirDensity:  density,
		Coefficient: coefficient,
		Area:        sphere.Area,
		Scale:       medium.DragScale,
	})
	return Conditions{
		Altitude:        altitude,
		Gravity:         gravity,
		AirDensity:      density,
		Speed:           speed,
		Mach:            mach,
		DragCoefficient: coefficient,
		Reynolds:        Reynolds(speed, sphere.Radius),
		Sphere:          sphere,
		Drag:            drag,
		Energy:          MechanicalEnergy(body.Mass, speed, gravity, altitude),
	}
}

// Step advances the body by dt seconds using semi-implicit Euler: velocity is
// updated first and the new velocity moves the position. The returned conditions
// describe the state before integration.
func Step(body *Body, medium Medium, dt float64) Conditions {
	//1.- Skip integration when inputs are missing or invalid.
	if body == nil || !(dt > 0) || !(body.Mass > 0) {
		return Conditions{}
	}
	scale := medium.PixelsPerMeter
	if !(scale > 0) {
		scale = 1
	}
	conditions := Evaluate(*body, medium)
	//2.- Integrate velocity from drag, wind and local gravity.
	body.Velocity.X += (conditions.Drag.X/body.Mass + medium.WindSpeed*windCoupling) * dt
	body.Velocity.Y += (-conditions.Gravity + conditions.Drag.Y/body.Mass) * dt
	//3.- Integrate position from the updated velocity; screen y grows downward.
	body.Position.X += body.Velocity.X * scale * dt
	body.Position.Y -= body.Velocity.Y * scale * dt
	return conditions
}

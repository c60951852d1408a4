package physics

import "math"

// BaseDragCoefficient approximates a smooth sphere in the subcritical regime.
const BaseDragCoefficient = 0.47

// compressibilityOnset is the Mach number above which the drag coefficient inflates.
const compressibilityOnset = 0.8

// Sphere captures the derived geometry of a constant-density spherical projectile.
type Sphere struct {
	Radius float64 // m
	Area   float64 // m²
}

// SphereFromMass derives the radius and frontal area of a sphere whose volume is
// mass/1000 cubic metres.
func SphereFromMass(mass float64) Sphere {
	if !(mass > 0) {
		return Sphere{}
	}
	volume := mass * sphereDensityFactor
	radius := math.Cbrt(3 * volume / (4 * math.Pi))
	return Sphere{Radius: radius, Area: math.Pi * radius * radius}
}

// Mach reports speed as a fraction of the nominal speed of sound.
func Mach(speed float64) float64 {
	return speed / SpeedOfSound
}

// DragCoefficient applies the compressibility correction 1+(M-0.8)² above Mach 0.8.
func DragCoefficient(mach float64) float64 {
	coefficient := BaseDragCoefficient
	if mach > compressibilityOnset {
		excess := mach - compressibilityOnset
		coefficient *= 1 + excess*excess
	}
	return coefficient
}

// Reynolds returns the Reynolds number for a sphere of the given radius.
func Reynolds(speed, radius float64) float64 {
	return speed * 2 * radius / KinematicViscosity
}

// DragInput gathers everything the quadratic drag model needs for one evaluation.
type DragInput struct {
	Velocity    Vec2
	AirDensity  float64
	Coefficient float64
	Area        float64
	Scale       float64
}

// DragForce returns the quadratic drag force opposing the velocity. Each axis
// short-circuits to zero when its velocity component is zero, so a resting
// projectile never divides by a zero speed.
func DragForce(in DragInput) Vec2 {
	speed := in.Velocity.Len()
	magnitude := 0.5 * in.AirDensity * speed * speed * in.Coefficient * in.Area * in.Scale
	var force Vec2
	if in.Velocity.X != 0 {
		force.X = -magnitude * in.Velocity.X / speed
	}
	if in.Velocity.Y != 0 {
		force.Y = -magnitude * in.Velocity.Y / speed
	}
	return force
}

// Energy summarises the mechanical energy of the projectile.
type Energy struct {
	Kinetic   float64
	Potential float64
	Total     float64
}

// MechanicalEnergy computes kinetic and potential energy for the given state.
func MechanicalEnergy(mass, speed, gravity, height float64) Energy {
	kinetic := 0.5 * mass * speed * speed
	potential := mass * gravity * height
	return Energy{Kinetic: kinetic, Potential: potential, Total: kinetic + potential}
}

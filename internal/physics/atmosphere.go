// Package physics implements the point-mass ballistics model used by the lab:
// altitude dependent gravity and air density, quadratic drag with a
// compressibility correction and a semi-implicit Euler integrator.
package physics

import "math"

const (
	GravitationalConstant = 6.6743e-11 // m³/(kg·s²)
	EarthMass             = 5.972e24   // kg
	EarthRadius           = 6.371e6    // m

	SeaLevelTemperature = 288.15     // K
	LapseRate           = 0.0065     // K/m
	SeaLevelPressure    = 101325.0   // Pa
	PressureExponent    = 5.2561     // dimensionless
	MolarMassAir        = 0.0289644  // kg/mol
	GasConstant         = 8.31446    // J/(mol·K)
	KinematicViscosity  = 1.5e-5     // m²/s
	SpeedOfSound        = 340.0      // m/s
	sphereDensityFactor = 1.0 / 1000 // m³ per kg of projectile mass
)

// Gravity returns the gravitational acceleration at the given altitude using the
// inverse-square law around a spherical Earth.
func Gravity(altitude float64) float64 {
	distance := EarthRadius + altitude
	return GravitationalConstant * EarthMass / (distance * distance)
}

// AirDensity evaluates the barometric formula for the troposphere and converts the
// resulting pressure back to a density with the ideal gas law.
func AirDensity(altitude float64) float64 {
	//1.- Temperature falls linearly with the standard lapse rate.
	temperature := SeaLevelTemperature - LapseRate*altitude
	//2.- Pressure follows the exponent form of the barometric equation.
	pressure := SeaLevelPressure * math.Pow(1-LapseRate*altitude/SeaLevelTemperature, PressureExponent)
	//3.- Ideal gas back-conversion: rho = pM / (RT).
	return pressure * MolarMassAir / (GasConstant * temperature)
}

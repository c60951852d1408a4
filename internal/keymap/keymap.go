// Package keymap translates host key presses into lab commands so every
// interactive host shares one set of bindings.
package keymap

import (
	"math"
	"sort"

	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/simulation"
)

// Key names a host-independent key.
type Key string

const (
	KeyUp    Key = "up"
	KeyDown  Key = "down"
	KeyLeft  Key = "left"
	KeyRight Key = "right"
	KeySpace Key = "space"
	KeyM     Key = "m"
	KeyN     Key = "n"
	KeyD     Key = "d"
	KeyW     Key = "w"
	KeyQ     Key = "q"
	KeyR     Key = "r"
	KeyF     Key = "f"
	KeyC     Key = "c"
)

// Step sizes applied per key press.
const (
	AngleStep = 1.0
	SpeedStep = 1.0
	MassStep  = 0.5
	DragStep  = 0.1
	WindStep  = 1.0
)

// Binding documents one key for help overlays.
type Binding struct {
	Key         Key
	Description string
}

var bindings = map[Key]string{
	KeyUp:    "raise launch angle",
	KeyDown:  "lower launch angle",
	KeyRight: "increase launch speed",
	KeyLeft:  "decrease launch speed",
	KeyM:     "increase mass",
	KeyN:     "decrease mass",
	KeyD:     "cycle air resistance",
	KeyW:     "wind towards the right",
	KeyQ:     "wind towards the left",
	KeySpace: "launch or stop",
	KeyR:     "reset",
	KeyF:     "toggle force vectors",
	KeyC:     "start or stop the challenge",
}

// Bindings lists every key the hosts understand, ordered by key name.
func Bindings() []Binding {
	out := make([]Binding, 0, len(bindings))
	for key, desc := range bindings {
		out = append(out, Binding{Key: key, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Resolve maps key to the command it triggers given the current parameters.
// Relative keys produce absolute set commands; the lab clamps the result.
func Resolve(key Key, params simulation.Parameters) (lab.Command, bool) {
	switch key {
	case KeyUp:
		return set(lab.CommandSetAngle, params.Angle+AngleStep), true
	case KeyDown:
		return set(lab.CommandSetAngle, params.Angle-AngleStep), true
	case KeyRight:
		return set(lab.CommandSetVelocity, params.LaunchSpeed+SpeedStep), true
	case KeyLeft:
		return set(lab.CommandSetVelocity, params.LaunchSpeed-SpeedStep), true
	case KeyM:
		return set(lab.CommandSetMass, params.Mass+MassStep), true
	case KeyN:
		return set(lab.CommandSetMass, params.Mass-MassStep), true
	case KeyD:
		//1.- Drag cycles through 0..1 and wraps back to a vacuum.
		next := math.Round((params.DragScale+DragStep)*10) / 10
		if next > 1 {
			next = 0
		}
		return set(lab.CommandSetAirResistance, next), true
	case KeyW:
		return set(lab.CommandSetWind, params.WindSpeed+WindStep), true
	case KeyQ:
		return set(lab.CommandSetWind, params.WindSpeed-WindStep), true
	case KeySpace:
		return lab.Command{Name: lab.CommandToggleLaunch}, true
	case KeyR:
		return lab.Command{Name: lab.CommandReset}, true
	case KeyF:
		return lab.Command{Name: lab.CommandToggleForceVectors}, true
	case KeyC:
		return lab.Command{Name: lab.CommandToggleChallenge}, true
	}
	return lab.Command{}, false
}

func set(name string, value float64) lab.Command {
	return lab.Command{Name: name, Value: &value}
}

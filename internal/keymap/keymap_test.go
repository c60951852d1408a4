package keymap

import (
	"testing"

	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/simulation"
)

func TestResolveRelativeKeys(t *testing.T) {
	params := simulation.Parameters{Angle: 45, LaunchSpeed: 20, Mass: 1, DragScale: 0.3, WindSpeed: -2}
	cases := []struct {
		key   Key
		name  string
		value float64
	}{
		{KeyUp, lab.CommandSetAngle, 46},
		{KeyDown, lab.CommandSetAngle, 44},
		{KeyRight, lab.CommandSetVelocity, 21},
		{KeyLeft, lab.CommandSetVelocity, 19},
		{KeyM, lab.CommandSetMass, 1.5},
		{KeyN, lab.CommandSetMass, 0.5},
		{KeyD, lab.CommandSetAirResistance, 0.4},
		{KeyW, lab.CommandSetWind, -1},
		{KeyQ, lab.CommandSetWind, -3},
	}
	for _, tc := range cases {
		cmd, ok := Resolve(tc.key, params)
		if !ok || cmd.Name != tc.name || cmd.Value == nil || *cmd.Value != tc.value {
			t.Fatalf("%s: got %+v ok=%v", tc.key, cmd, ok)
		}
	}
}

func TestDragWrapsToVacuum(t *testing.T) {
	cmd, ok := Resolve(KeyD, simulation.Parameters{DragScale: 1})
	if !ok || *cmd.Value != 0 {
		t.Fatalf("expected drag to wrap to zero, got %+v", cmd)
	}
}

func TestResolveActionKeys(t *testing.T) {
	want := map[Key]string{
		KeySpace: lab.CommandToggleLaunch,
		KeyR:     lab.CommandReset,
		KeyF:     lab.CommandToggleForceVectors,
		KeyC:     lab.CommandToggleChallenge,
	}
	for key, name := range want {
		cmd, ok := Resolve(key, simulation.Parameters{})
		if !ok || cmd.Name != name || cmd.Value != nil {
			t.Fatalf("%s: got %+v", key, cmd)
		}
	}
	if _, ok := Resolve(Key("x"), simulation.Parameters{}); ok {
		t.Fatal("unbound keys must not resolve")
	}
}

func TestBindingsCoverEveryKey(t *testing.T) {
	list := Bindings()
	if len(list) != 13 {
		t.Fatalf("expected 13 bindings, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Key >= list[i].Key {
			t.Fatalf("bindings not sorted at %d", i)
		}
	}
	for _, b := range list {
		if _, ok := Resolve(b.Key, simulation.Parameters{}); !ok {
			t.Fatalf("binding %s does not resolve", b.Key)
		}
	}
}

package lab

import (
	"errors"
	"math"
	"testing"

	"projectilelab/server/internal/simulation"
)

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"  SET_ANGLE ","value":60}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Name != CommandSetAngle || cmd.Value == nil || *cmd.Value != 60 {
		t.Fatalf("unexpected command %+v", cmd)
	}

	for _, raw := range []string{"", "{", `{"value":3}`, `{"command":"   "}`} {
		if _, err := DecodeCommand([]byte(raw)); !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("%q: expected invalid command, got %v", raw, err)
		}
	}
}

func TestApplyRoutesEveryCommand(t *testing.T) {
	l := newTestLab(t)
	value := func(v float64) *float64 { return &v }
	enabled := true

	snap, err := l.Apply(Command{Name: CommandSetAngle, Value: value(70)})
	if err != nil || snap.State.Angle != 70 {
		t.Fatalf("set angle: %v %+v", err, snap.State)
	}
	if _, err := l.Apply(Command{Name: CommandSetVelocity, Value: value(33)}); err != nil {
		t.Fatalf("set velocity: %v", err)
	}
	if _, err := l.Apply(Command{Name: CommandSetMass, Value: value(2.5)}); err != nil {
		t.Fatalf("set mass: %v", err)
	}
	if _, err := l.Apply(Command{Name: CommandSetAirResistance, Value: value(0.4)}); err != nil {
		t.Fatalf("set drag: %v", err)
	}
	if _, err := l.Apply(Command{Name: CommandSetWind, Value: value(-4)}); err != nil {
		t.Fatalf("set wind: %v", err)
	}
	if _, err := l.Apply(Command{Name: CommandShowForceVectors, Enabled: &enabled}); err != nil {
		t.Fatalf("show vectors: %v", err)
	}
	want := simulation.Parameters{Angle: 70, LaunchSpeed: 33, Mass: 2.5, DragScale: 0.4, WindSpeed: -4, ShowForceVectors: true}
	if got := l.Parameters(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if _, err := l.Apply(Command{Name: CommandToggleForceVectors}); err != nil || l.Parameters().ShowForceVectors {
		t.Fatalf("toggle vectors: %v", err)
	}

	snap, err = l.Apply(Command{Name: "Launch"})
	if err != nil || !snap.State.IsLaunched {
		t.Fatalf("launch: %v", err)
	}
	if snap.Session != "test-session" {
		t.Fatalf("unexpected session %q", snap.Session)
	}
	if _, err := l.Apply(Command{Name: CommandReset}); err != nil || l.State().IsLaunched {
		t.Fatalf("reset: %v", err)
	}
	if _, err := l.Apply(Command{Name: CommandStartChallenge}); err != nil || !l.Challenge().Active {
		t.Fatalf("start challenge: %v", err)
	}
	if _, err := l.Apply(Command{Name: CommandStopChallenge}); err != nil || l.Challenge().Active {
		t.Fatalf("stop challenge: %v", err)
	}
}

func TestApplyRejectsBadCommands(t *testing.T) {
	l := newTestLab(t)
	nan := math.NaN()
	cases := []struct {
		name string
		cmd  Command
		want error
	}{
		{name: "unknown", cmd: Command{Name: "fire_cannon"}, want: ErrUnknownCommand},
		{name: "missing value", cmd: Command{Name: CommandSetMass}, want: ErrInvalidCommand},
		{name: "missing enabled", cmd: Command{Name: CommandShowForceVectors}, want: ErrInvalidCommand},
		{name: "nan", cmd: Command{Name: CommandSetWind, Value: &nan}, want: simulation.ErrInvalidParameter},
	}
	for _, tc := range cases {
		if _, err := l.Apply(tc.cmd); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCommandNamesAreSortedAndComplete(t *testing.T) {
	names := CommandNames()
	if len(names) != 13 {
		t.Fatalf("expected 13 commands, got %d: %v", len(names), names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

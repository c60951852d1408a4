package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"projectilelab/server/internal/simulation"
)

const sample = `{"seed": 11, "shots": [
	{"angle": 45, "launch_speed": 20},
	{"angle": 30, "launch_speed": 20, "mass": 2, "air_resistance": 0.5, "wind_speed": -3}
]}`

func TestDecodeConfigAppliesDefaults(t *testing.T) {
	cfg, err := DecodeConfig(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != defaultWidth || cfg.Height != defaultHeight || cfg.MaxSteps != defaultMaxSteps {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Shots[0].Mass != simulation.DefaultMass || cfg.Shots[1].Mass != 2 {
		t.Fatalf("unexpected masses: %+v", cfg.Shots)
	}
}

func TestDecodeConfigRejectsBadInput(t *testing.T) {
	for _, raw := range []string{`{"shots": []}`, `{"shots": [{"angle": 10}], "bogus": 1}`, `not json`} {
		if _, err := DecodeConfig(strings.NewReader(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestRunFliesEveryShot(t *testing.T) {
	cfg, err := DecodeConfig(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	log, err := Run(cfg, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(log.Shots) != 2 {
		t.Fatalf("expected two shots, got %d", len(log.Shots))
	}
	vacuum, dragged := log.Shots[0], log.Shots[1]
	if !vacuum.Summary.Landed || vacuum.Summary.Range <= 0 || vacuum.Summary.MaxHeight <= 0 {
		t.Fatalf("vacuum shot did not fly: %+v", vacuum.Summary)
	}
	//1.- Drag, headwind and a flatter angle all shorten the shot.
	if dragged.Summary.Range >= vacuum.Summary.Range {
		t.Fatalf("expected dragged range %.2f below %.2f", dragged.Summary.Range, vacuum.Summary.Range)
	}
	//2.- Both shots share a seed and so share a target.
	if vacuum.Summary.Target.X != dragged.Summary.Target.X {
		t.Fatalf("targets differ: %+v vs %+v", vacuum.Summary.Target, dragged.Summary.Target)
	}
	if uint64(len(vacuum.Frames)) != vacuum.Summary.Steps {
		t.Fatalf("frames %d vs steps %d", len(vacuum.Frames), vacuum.Summary.Steps)
	}

	out := Chart(cfg, log)
	if !strings.Contains(out, "altitude (m) per step") || !strings.Contains(out, "BATCH seed 11") {
		t.Fatalf("unexpected chart:\n%s", out)
	}
}

func TestRunHonoursStepLimit(t *testing.T) {
	cfg := Config{Width: 800, Height: 600, MaxSteps: 5, Shots: []simulation.Parameters{{Angle: 80, LaunchSpeed: 50, Mass: 1}}}
	log, err := Run(cfg, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	shot := log.Shots[0]
	if shot.Summary.Steps != 5 || shot.Summary.Landed || len(shot.Frames) != 0 {
		t.Fatalf("unexpected capped shot %+v", shot.Summary)
	}
}

func TestWritePNG(t *testing.T) {
	cfg, err := DecodeConfig(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	log, err := Run(cfg, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	path := filepath.Join(t.TempDir(), "shots.png")
	if err := WritePNG(cfg, log, path); err != nil {
		t.Fatalf("write png: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty png, err=%v", err)
	}
}

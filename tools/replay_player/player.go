// Package replayplayer decodes flight recordings for inspection from the shell.
package replayplayer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/guptarohit/asciigraph"

	"projectilelab/server/internal/replay"
)

// Summary condenses a recording into the numbers operators usually want first.
type Summary struct {
	Directory   string  `json:"directory"`
	Session     string  `json:"session"`
	Outcome     string  `json:"outcome,omitempty"`
	Frames      int     `json:"frames"`
	Events      int     `json:"events"`
	DurationMs  int64   `json:"duration_ms"`
	MaxHeight   float64 `json:"max_height_m"`
	Range       float64 `json:"range_m"`
	TargetHit   bool    `json:"target_hit"`
	LaunchAngle float64 `json:"launch_angle_deg"`
	LaunchSpeed float64 `json:"launch_speed_ms"`
}

// Bundle is the document the CLI prints.
type Bundle struct {
	Summary   Summary           `json:"summary"`
	Recording *replay.Recording `json:"recording,omitempty"`
}

// ReplayBundle loads the recording at path, which may be the recording directory
// or its manifest.json.
func ReplayBundle(path string) (*replay.Recording, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	//1.- Accept the manifest path too so shell completion on files works.
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	rec, err := replay.Load(dir)
	if err != nil {
		return nil, err
	}
	if rec.Manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported manifest version %d", rec.Manifest.Version)
	}
	return rec, nil
}

// Summarise derives the flight summary from the decoded frames and events.
func Summarise(rec *replay.Recording) Summary {
	if rec == nil {
		return Summary{}
	}
	summary := Summary{
		Directory:   rec.Directory,
		Session:     rec.Header.Flight.Session,
		Outcome:     rec.Header.Outcome,
		Frames:      len(rec.Frames),
		Events:      len(rec.Events),
		LaunchAngle: rec.Header.Flight.Parameters.Angle,
		LaunchSpeed: rec.Header.Flight.Parameters.LaunchSpeed,
	}
	for _, event := range rec.Events {
		if event.Type == "target_hit" {
			summary.TargetHit = true
		}
	}
	if len(rec.Frames) == 0 {
		return summary
	}
	first, last := rec.Frames[0], rec.Frames[len(rec.Frames)-1]
	summary.DurationMs = last.SimulatedMs - first.SimulatedMs
	for _, frame := range rec.Frames {
		summary.MaxHeight = math.Max(summary.MaxHeight, frame.Frame.Readout.MaxHeight)
		summary.Range = math.Max(summary.Range, frame.Frame.Readout.Range)
		if frame.Frame.TargetHit {
			summary.TargetHit = true
		}
	}
	return summary
}

// Plot renders the altitude profile as an ASCII chart.
func Plot(rec *replay.Recording, width, height int) string {
	altitudes := rec.Altitudes()
	if len(altitudes) == 0 {
		return "no frames recorded\n"
	}
	if width <= 0 {
		width = 60
	}
	if height <= 0 {
		height = 12
	}
	return asciigraph.Plot(altitudes,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.Caption(fmt.Sprintf("altitude (m) over %d frames", len(altitudes))),
	) + "\n"
}

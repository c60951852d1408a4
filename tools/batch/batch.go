// Package batch flies launch configurations headless and reports on them.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"projectilelab/server/internal/simulation"
)

const (
	defaultWidth    = 800
	defaultHeight   = 600
	defaultMaxSteps = 60 * 60
)

// Config describes one batch of shots flown on the same surface.
type Config struct {
	Width    float64                 `json:"width"`
	Height   float64                 `json:"height"`
	Seed     int64                   `json:"seed"`
	MaxSteps int                     `json:"max_steps"`
	Shots    []simulation.Parameters `json:"shots"`
}

// Summary condenses a single flight.
type Summary struct {
	Steps        uint64            `json:"steps"`
	TimeOfFlight float64           `json:"time_of_flight"`
	MaxHeight    float64           `json:"max_height"`
	Range        float64           `json:"range"`
	TargetHit    bool              `json:"target_hit"`
	Landed       bool              `json:"landed"`
	Target       simulation.Target `json:"target"`
}

// Shot is one flown configuration.
type Shot struct {
	Parameters simulation.Parameters `json:"parameters"`
	Frames     []simulation.Frame    `json:"frames,omitempty"`
	Summary    Summary               `json:"summary"`
}

// Log is the document the CLI prints.
type Log struct {
	Seed  int64  `json:"seed"`
	Shots []Shot `json:"shots"`
}

// DecodeConfig parses a JSON batch config and applies defaults.
func DecodeConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode batch config: %w", err)
	}
	if len(cfg.Shots) == 0 {
		return Config{}, errors.New("batch config has no shots")
	}
	if cfg.Width == 0 {
		cfg.Width = defaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = defaultHeight
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	for i := range cfg.Shots {
		//1.- A shot that omits the mass flies the default projectile.
		if cfg.Shots[i].Mass == 0 {
			cfg.Shots[i].Mass = simulation.DefaultMass
		}
	}
	return cfg, nil
}

// Run flies every shot on a fresh engine seeded identically so targets agree.
func Run(cfg Config, keepFrames bool) (Log, error) {
	out := Log{Seed: cfg.Seed, Shots: make([]Shot, 0, len(cfg.Shots))}
	for i, params := range cfg.Shots {
		shot, err := fly(cfg, params, keepFrames)
		if err != nil {
			return Log{}, fmt.Errorf("shot %d: %w", i, err)
		}
		out.Shots = append(out.Shots, shot)
	}
	return out, nil
}

func fly(cfg Config, params simulation.Parameters, keepFrames bool) (Shot, error) {
	engine, err := simulation.New(cfg.Width, cfg.Height, simulation.WithSeed(cfg.Seed), simulation.WithParameters(params))
	if err != nil {
		return Shot{}, err
	}
	defer engine.Dispose()
	shot := Shot{Parameters: engine.Parameters()}
	if err := engine.Launch(); err != nil {
		return Shot{}, err
	}
	var last simulation.Frame
	for i := 0; i < cfg.MaxSteps && engine.Launched(); i++ {
		frame, err := engine.Step()
		if err != nil {
			return Shot{}, err
		}
		if keepFrames {
			shot.Frames = append(shot.Frames, frame)
		}
		if frame.TargetHit {
			shot.Summary.TargetHit = true
		}
		last = frame
	}
	readout := last.Readout
	shot.Summary.Steps = last.Step
	shot.Summary.TimeOfFlight = readout.TimeOfFlight
	shot.Summary.MaxHeight = readout.MaxHeight
	shot.Summary.Range = readout.Range
	shot.Summary.Landed = last.Landed
	shot.Summary.Target = engine.Target()
	return shot, nil
}

// Altitudes returns the height in metres of each recorded frame.
func (s Shot) Altitudes(groundY float64) []float64 {
	out := make([]float64, 0, len(s.Frames))
	for _, frame := range s.Frames {
		out = append(out, (groundY-frame.Position.Y)/simulation.PixelsPerMeter)
	}
	return out
}

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hitStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

// Chart renders an altitude graph of every shot plus a styled summary table.
// Shots must have been flown with frames kept.
func Chart(cfg Config, log Log) string {
	groundY := cfg.Height - simulation.GroundMargin
	series := make([][]float64, 0, len(log.Shots))
	for _, shot := range log.Shots {
		if alt := shot.Altitudes(groundY); len(alt) > 0 {
			series = append(series, alt)
		}
	}
	var b strings.Builder
	if len(series) > 0 {
		b.WriteString(asciigraph.PlotMany(series, asciigraph.Height(12), asciigraph.Width(70), asciigraph.Caption("altitude (m) per step")))
		b.WriteString("\n\n")
	}
	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("BATCH seed %d", log.Seed)) + "\n")
	for i, shot := range log.Shots {
		p := shot.Parameters
		title := fmt.Sprintf("#%d  %.0f° @ %.1f m/s", i+1, p.Angle, p.LaunchSpeed)
		if shot.Summary.TargetHit {
			s.WriteString(hitStyle.Render(title+"  HIT") + "\n")
		} else {
			s.WriteString(title + "\n")
		}
		s.WriteString(labelStyle.Render("  range") + valueStyle.Render(fmt.Sprintf("%.2f m", shot.Summary.Range)) + "\n")
		s.WriteString(labelStyle.Render("  max height") + valueStyle.Render(fmt.Sprintf("%.2f m", shot.Summary.MaxHeight)) + "\n")
		s.WriteString(labelStyle.Render("  flight time") + valueStyle.Render(fmt.Sprintf("%.2f s", shot.Summary.TimeOfFlight)) + "\n")
	}
	b.WriteString(boxStyle.Render(strings.TrimRight(s.String(), "\n")))
	b.WriteString("\n")
	return b.String()
}

// WritePNG plots every trajectory in metres and saves it to path. The file
// extension selects the image format.
func WritePNG(cfg Config, log Log, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectories (seed %d)", log.Seed)
	p.X.Label.Text = "distance (m)"
	p.Y.Label.Text = "altitude (m)"

	groundY := cfg.Height - simulation.GroundMargin
	for i, shot := range log.Shots {
		if len(shot.Frames) == 0 {
			continue
		}
		points := make(plotter.XYs, len(shot.Frames))
		for j, frame := range shot.Frames {
			points[j].X = (frame.Position.X - simulation.PadX) / simulation.PixelsPerMeter
			points[j].Y = (groundY - frame.Position.Y) / simulation.PixelsPerMeter
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return fmt.Errorf("shot %d line: %w", i, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%.0f° @ %.1f m/s", shot.Parameters.Angle, shot.Parameters.LaunchSpeed), line)
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

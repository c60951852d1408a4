package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/simulation"
)

// Recorder opens one Writer per flight and routes frames and events into it.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	now      func() time.Time
	log      *logging.Logger
	current  *Writer
	outcome  string
	flights  int64
	frames   int64
	events   int64
	lastDir  string
	lastTime time.Time
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Active         bool      `json:"active"`
	BufferedFrames int       `json:"buffered_frames"`
	Flights        int64     `json:"flights"`
	Frames         int64     `json:"frames"`
	Events         int64     `json:"events"`
	LastRecording  string    `json:"last_recording,omitempty"`
	LastFinished   time.Time `json:"last_finished,omitempty"`
}

// NewRecorder constructs a recorder that writes flight bundles into dir.
func NewRecorder(dir string, clock func() time.Time, logger *logging.Logger) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("recording directory must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.L()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, now: clock, log: logger}, nil
}

// BeginFlight opens a new recording. An unfinished recording is closed first.
func (r *Recorder) BeginFlight(flight Flight) error {
	if r == nil {
		return fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.outcome = "abandoned"
		if err := r.finishLocked(); err != nil {
			r.log.Warn("close abandoned recording failed", logging.Error(err))
		}
	}
	writer, _, err := NewWriter(r.dir, flight.Session, r.now)
	if err != nil {
		return err
	}
	writer.SetFlight(flight)
	r.current = writer
	r.outcome = ""
	r.flights++
	return nil
}

// RecordFrame appends one physics frame to the active recording.
func (r *Recorder) RecordFrame(frame simulation.Frame) error {
	if r == nil {
		return fmt.Errorf("recorder not configured")
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	//1.- The outcome is latched from the terminal frame so the header can report it.
	if frame.Terminated {
		r.outcome = "missed"
		if frame.Landed {
			r.outcome = "landed"
		}
	}
	if err := r.current.AppendFrame(frame.Step, simulatedMs(frame.Readout.TimeOfFlight), payload); err != nil {
		return err
	}
	r.frames++
	return nil
}

// RecordEvent appends one lab event to the active recording.
func (r *Recorder) RecordEvent(kind string, tick uint64, payload map[string]any) error {
	if r == nil {
		return fmt.Errorf("recorder not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	if kind == "reset" && r.outcome == "" {
		r.outcome = "reset"
	}
	var simMs int64
	if t, ok := payload["time_of_flight"].(float64); ok {
		simMs = simulatedMs(t)
	} else if t, ok := payload["time"].(float64); ok {
		simMs = simulatedMs(t)
	}
	if err := r.current.AppendEvent(tick, simMs, kind, data); err != nil {
		return err
	}
	r.events++
	return nil
}

// EndFlight closes the active recording, if any.
func (r *Recorder) EndFlight() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishLocked()
}

// Flush forces the active recording's buffered frames to disk and returns its
// directory. It is the operator's dump hook.
func (r *Recorder) Flush() (string, error) {
	if r == nil {
		return "", fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		if r.lastDir == "" {
			return "", fmt.Errorf("no flight recorded yet")
		}
		return r.lastDir, nil
	}
	if err := r.current.Flush(); err != nil {
		return "", err
	}
	return r.current.Directory(), nil
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{
		Active:        r.current != nil,
		Flights:       r.flights,
		Frames:        r.frames,
		Events:        r.events,
		LastRecording: r.lastDir,
		LastFinished:  r.lastTime,
	}
	if r.current != nil {
		stats.BufferedFrames = r.current.Buffered()
	}
	return stats
}

func (r *Recorder) finishLocked() error {
	if r.current == nil {
		return nil
	}
	writer := r.current
	r.current = nil
	if r.outcome != "" {
		writer.SetOutcome(r.outcome)
	}
	err := writer.Close()
	r.lastDir = writer.Directory()
	r.lastTime = r.now().UTC()
	if err == nil {
		r.log.Info("flight recording closed", logging.String("directory", r.lastDir), logging.String("outcome", r.outcome))
	}
	return err
}

func simulatedMs(seconds float64) int64 {
	return int64(seconds*1000 + 0.5)
}

package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"projectilelab/server/internal/simulation"
)

// EventRecord is one decoded entry of a recording's event log.
type EventRecord struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  time.Time       `json:"captured_at"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// FrameRecord is one decoded physics frame.
type FrameRecord struct {
	Tick        uint64           `json:"tick"`
	SimulatedMs int64            `json:"simulated_ms"`
	CapturedAt  time.Time        `json:"captured_at"`
	Frame       simulation.Frame `json:"frame"`
}

// Recording is a fully decoded flight bundle.
type Recording struct {
	Directory string        `json:"directory"`
	Manifest  Manifest      `json:"manifest"`
	Header    Header        `json:"header"`
	Events    []EventRecord `json:"events"`
	Frames    []FrameRecord `json:"frames"`
}

// Load rehydrates the recording stored in dir.
func Load(dir string) (*Recording, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("recording path must be provided")
	}
	rec := &Recording{Directory: dir}

	//1.- The manifest names the two streams; the header describes the launch.
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &rec.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if rec.Header, err = ReadHeader(filepath.Join(dir, headerFile)); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if rec.Events, err = loadEvents(filepath.Join(dir, rec.Manifest.EventsPath)); err != nil {
		return nil, err
	}
	if rec.Frames, err = loadFrames(filepath.Join(dir, rec.Manifest.FramesPath)); err != nil {
		return nil, err
	}
	//2.- Frames arrive in cadence batches; order them by tick for playback.
	sort.SliceStable(rec.Frames, func(i, j int) bool { return rec.Frames[i].Tick < rec.Frames[j].Tick })
	return rec, nil
}

func loadEvents(path string) ([]EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	raw, err := io.ReadAll(snappy.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var records []EventRecord
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry eventLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, entry.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse event captured_at: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(entry.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		records = append(records, EventRecord{
			Tick:        entry.Tick,
			SimulatedMs: entry.SimulatedMs,
			CapturedAt:  captured,
			Type:        entry.Type,
			Payload:     json.RawMessage(payload),
		})
	}
	return records, nil
}

func loadFrames(path string) ([]FrameRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}

	var records []FrameRecord
	for offset := 0; offset < len(raw); {
		if offset+frameHeaderSize > len(raw) {
			return nil, fmt.Errorf("truncated frame header at byte %d", offset)
		}
		tick := binary.LittleEndian.Uint64(raw[offset : offset+8])
		simMs := int64(binary.LittleEndian.Uint64(raw[offset+8 : offset+16]))
		captured := int64(binary.LittleEndian.Uint64(raw[offset+16 : offset+24]))
		size := int(binary.LittleEndian.Uint32(raw[offset+24 : offset+28]))
		offset += frameHeaderSize
		if offset+size > len(raw) {
			return nil, fmt.Errorf("truncated frame payload at tick %d", tick)
		}
		var frame simulation.Frame
		if err := json.Unmarshal(raw[offset:offset+size], &frame); err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", tick, err)
		}
		offset += size
		records = append(records, FrameRecord{
			Tick:        tick,
			SimulatedMs: simMs,
			CapturedAt:  time.Unix(0, captured).UTC(),
			Frame:       frame,
		})
	}
	return records, nil
}

// Replay iterates over the frames in tick order.
func (r *Recording) Replay(apply func(FrameRecord) error) error {
	if r == nil {
		return fmt.Errorf("recording not loaded")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, frame := range r.Frames {
		if err := apply(frame); err != nil {
			return err
		}
	}
	return nil
}

// Altitudes returns the projectile height above the ground, in metres, for each
// recorded frame.
func (r *Recording) Altitudes() []float64 {
	if r == nil {
		return nil
	}
	groundY := r.Header.Flight.Surface.Height - simulation.GroundMargin
	out := make([]float64, 0, len(r.Frames))
	for _, frame := range r.Frames {
		out = append(out, (groundY-frame.Frame.Position.Y)/simulation.PixelsPerMeter)
	}
	return out
}

package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var sessionCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	frameInterval = 200 * time.Millisecond

	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"
	manifestFile = "manifest.json"
	headerFile   = "header.json"

	frameHeaderSize = 8 + 8 + 8 + 4
)

// frameBlob stores frame metadata before it is persisted to disk.
type frameBlob struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// eventLine is the JSON layout of one entry in the event log.
type eventLine struct {
	Tick        uint64 `json:"tick"`
	SimulatedMs int64  `json:"simulated_ms"`
	CapturedAt  string `json:"captured_at"`
	Type        string `json:"type"`
	PayloadB64  string `json:"payload_b64"`
}

// Writer streams one flight recording to disk: a snappy event log and a zstd
// frame stream flushed on a fixed cadence.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	lastFlush   time.Time
	flight      Flight
	frames      int
	outcome     string
	closed      bool
}

// Manifest describes the recording layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// NewWriter prepares the recording directory and opens compressed sinks.
func NewWriter(root, session string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("recording root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := sessionCleaner.ReplaceAllString(session, "")
	if cleaned == "" {
		cleaned = "flight"
	}
	created := clock().UTC()
	path, err := createRecordingDir(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(frameInterval / time.Millisecond),
		EventsPath:      eventsFile,
		FramesPath:      framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFile), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}
	return writer, manifest, nil
}

// createRecordingDir creates root/name, suffixing the name when a recording from
// the same second already exists.
func createRecordingDir(root, name string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	candidate := name
	for attempt := 1; ; attempt++ {
		path := filepath.Join(root, candidate)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt > 1000 {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", name, attempt)
	}
}

// Directory exposes the directory backing the recording.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// SetFlight records the launch description persisted in the header.
func (w *Writer) SetFlight(flight Flight) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.flight = flight
	w.mu.Unlock()
}

// SetOutcome records how the flight ended, for example "landed" or "reset".
func (w *Writer) SetOutcome(outcome string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.outcome = outcome
	w.mu.Unlock()
}

// AppendEvent writes a single JSON event line to the compressed event log.
func (w *Writer) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}

	//1.- Base64 keeps arbitrary payload bytes safe inside the JSON line.
	line, err := json.Marshal(eventLine{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		PayloadB64:  base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendFrame buffers a frame until the 5 Hz cadence is reached.
func (w *Writer) AppendFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}

	w.pending = append(w.pending, frameBlob{Tick: tick, SimulatedMs: simulatedMs, CapturedAt: captured, Payload: clone})
	w.frames++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= frameInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// Buffered reports how many frames await the next cadence flush.
func (w *Writer) Buffered() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush forces pending frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.frameStream.Flush(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes the header, flushes all buffers and releases file handles.
// Closing twice is a no-op.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every flush and close, surfacing the first failure.
	var firstErr error
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		Flight:        w.flight,
		Frames:        w.frames,
		Outcome:       w.outcome,
		FilePointer:   manifestFile,
	}
	if err := WriteHeader(filepath.Join(w.dir, headerFile), header); err != nil {
		firstErr = err
	}
	if err := w.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	//1.- Length-prefixed frames let readers step through the stream.
	header := make([]byte, frameHeaderSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.SimulatedMs))
		binary.LittleEndian.PutUint64(header[16:24], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[24:28], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}

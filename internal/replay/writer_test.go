package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"projectilelab/server/internal/simulation"
)

func TestWriterAppendAndFlushCadence(t *testing.T) {
	tmp := t.TempDir()
	base := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "Lab Session!", clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if filepath.Base(writer.Directory()) != "LabSession-20240710T120000Z" {
		t.Fatalf("unexpected bundle name %q", filepath.Base(writer.Directory()))
	}
	writer.SetFlight(Flight{Session: "Lab Session!", Seed: 42, Parameters: simulation.Parameters{Angle: 30, LaunchSpeed: 25, Mass: 2}})
	writer.SetOutcome("landed")

	if manifest.FrameIntervalMs != 200 {
		t.Fatalf("expected frame interval 200 ms, got %d", manifest.FrameIntervalMs)
	}
	if err := writer.AppendEvent(10, 33, "launch", []byte(`{"angle":30}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}

	framePayload := []byte{0x01, 0x02, 0x03}
	if err := writer.AppendFrame(1, 100, framePayload); err != nil {
		t.Fatalf("append frame 1: %v", err)
	}
	now = now.Add(100 * time.Millisecond)
	if err := writer.AppendFrame(2, 200, framePayload); err != nil {
		t.Fatalf("append frame 2: %v", err)
	}
	if writer.Buffered() != 2 {
		t.Fatalf("frames inside the cadence window should stay buffered, got %d", writer.Buffered())
	}
	now = now.Add(120 * time.Millisecond)
	if err := writer.AppendFrame(3, 300, framePayload); err != nil {
		t.Fatalf("append frame 3: %v", err)
	}
	if writer.Buffered() != 0 {
		t.Fatalf("cadence flush should drain the buffer, got %d", writer.Buffered())
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if err := writer.AppendEvent(11, 0, "late", nil); err == nil {
		t.Fatalf("expected append after close to fail")
	}

	manifestBytes, err := os.ReadFile(filepath.Join(writer.Directory(), manifestFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var onDisk Manifest
	if err := json.Unmarshal(manifestBytes, &onDisk); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if onDisk.EventsPath != "events.jsonl.sz" || onDisk.FramesPath != "frames.bin.zst" {
		t.Fatalf("unexpected manifest paths: %+v", onDisk)
	}

	eventFile, err := os.Open(filepath.Join(writer.Directory(), onDisk.EventsPath))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer eventFile.Close()
	eventData, err := io.ReadAll(snappy.NewReader(eventFile))
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	lines := bytesSplitLines(eventData)
	if len(lines) != 1 {
		t.Fatalf("expected 1 event line, got %d", len(lines))
	}
	var record eventLine
	if err := json.Unmarshal(lines[0], &record); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if record.Tick != 10 || record.Type != "launch" || record.SimulatedMs != 33 {
		t.Fatalf("unexpected event data: %+v", record)
	}
	payload, err := base64.StdEncoding.DecodeString(record.PayloadB64)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(payload) != `{"angle":30}` {
		t.Fatalf("unexpected event payload: %q", payload)
	}

	frameFile, err := os.Open(filepath.Join(writer.Directory(), onDisk.FramesPath))
	if err != nil {
		t.Fatalf("open frames: %v", err)
	}
	defer frameFile.Close()
	frameReader, err := zstd.NewReader(frameFile)
	if err != nil {
		t.Fatalf("frame reader: %v", err)
	}
	defer frameReader.Close()
	frameBytes, err := io.ReadAll(frameReader)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	frames := decodeFrameBlobs(frameBytes)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for idx, fr := range frames {
		if fr.Tick != uint64(idx+1) || fr.SimulatedMs != int64((idx+1)*100) || len(fr.Payload) != len(framePayload) {
			t.Fatalf("unexpected frame %d: %+v", idx, fr)
		}
	}

	header, err := ReadHeader(filepath.Join(writer.Directory(), headerFile))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.Flight.Seed != 42 || header.Flight.Parameters.Angle != 30 || header.Frames != 3 || header.Outcome != "landed" {
		t.Fatalf("unexpected header: %+v", header)
	}
	if header.FilePointer != manifestFile {
		t.Fatalf("unexpected header file pointer: %q", header.FilePointer)
	}
}

func TestWriterManualFlush(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 10, 13, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, _, err := NewWriter(tmp, "manual", clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	payload := []byte{0xAA, 0xBB}
	if err := writer.AppendFrame(1, 10, payload); err != nil {
		t.Fatalf("append frame 1: %v", err)
	}
	now = now.Add(50 * time.Millisecond)
	if err := writer.AppendFrame(2, 20, payload); err != nil {
		t.Fatalf("append frame 2: %v", err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("manual flush: %v", err)
	}
	if writer.Buffered() != 0 {
		t.Fatalf("expected flush to drain pending frames")
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	frameFile, err := os.Open(filepath.Join(writer.Directory(), framesFile))
	if err != nil {
		t.Fatalf("open frames: %v", err)
	}
	defer frameFile.Close()
	frameReader, err := zstd.NewReader(frameFile)
	if err != nil {
		t.Fatalf("frame reader: %v", err)
	}
	defer frameReader.Close()
	frameBytes, err := io.ReadAll(frameReader)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if frames := decodeFrameBlobs(frameBytes); len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
}

func TestWriterSuffixesCollidingBundles(t *testing.T) {
	tmp := t.TempDir()
	clock := func() time.Time { return time.Date(2024, 7, 10, 14, 0, 0, 0, time.UTC) }
	first, _, err := NewWriter(tmp, "s", clock)
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}
	defer first.Close()
	second, _, err := NewWriter(tmp, "s", clock)
	if err != nil {
		t.Fatalf("second writer: %v", err)
	}
	defer second.Close()
	if first.Directory() == second.Directory() {
		t.Fatalf("expected distinct bundle directories")
	}
	if filepath.Base(second.Directory()) != "s-20240710T140000Z-1" {
		t.Fatalf("unexpected suffixed name %q", filepath.Base(second.Directory()))
	}
}

type decodedFrame struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

func decodeFrameBlobs(raw []byte) []decodedFrame {
	var frames []decodedFrame
	offset := 0
	for offset+28 <= len(raw) {
		tick := binary.LittleEndian.Uint64(raw[offset : offset+8])
		offset += 8
		sim := int64(binary.LittleEndian.Uint64(raw[offset : offset+8]))
		offset += 8
		captured := int64(binary.LittleEndian.Uint64(raw[offset : offset+8]))
		offset += 8
		size := int(binary.LittleEndian.Uint32(raw[offset : offset+4]))
		offset += 4
		if offset+size > len(raw) {
			break
		}
		payload := append([]byte(nil), raw[offset:offset+size]...)
		offset += size
		frames = append(frames, decodedFrame{
			Tick:        tick,
			SimulatedMs: sim,
			CapturedAt:  time.Unix(0, captured).UTC(),
			Payload:     payload,
		})
	}
	return frames
}

func bytesSplitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for idx, b := range data {
		if b == '\n' {
			line := append([]byte(nil), data[start:idx]...)
			lines = append(lines, line)
			start = idx + 1
		}
	}
	if start < len(data) {
		line := append([]byte(nil), data[start:]...)
		lines = append(lines, line)
	}
	return lines
}

package telemetry

import (
	"bytes"
	"testing"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"position":{"x":30,"y":550}}`), 20)
	for _, name := range CompressorNames() {
		compressor, err := CompressorByName(name)
		if err != nil {
			t.Fatalf("%s: resolve: %v", name, err)
		}
		if compressor.Name() != name {
			t.Fatalf("expected codec %q, got %q", name, compressor.Name())
		}
		compressed, err := compressor.Compress(payload)
		if err != nil {
			t.Fatalf("%s: compress: %v", name, err)
		}
		if len(compressed) == 0 || len(compressed) >= len(payload) {
			t.Fatalf("%s: expected a smaller non-empty payload, got %d bytes", name, len(compressed))
		}
		decompressed, err := compressor.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s: decompress: %v", name, err)
		}
		if !bytes.Equal(decompressed, payload) {
			t.Fatalf("%s: round trip mismatch", name)
		}
		if _, err := compressor.Decompress(nil); err == nil {
			t.Fatalf("%s: expected error for empty payload", name)
		}
	}
}

func TestCompressorByNameIdentityAndUnknown(t *testing.T) {
	for _, name := range []string{"", "identity", "JSON"} {
		compressor, err := CompressorByName(name)
		if err != nil || compressor != nil {
			t.Fatalf("%q should select plain text, got %v %v", name, compressor, err)
		}
	}
	if _, err := CompressorByName("brotli"); err == nil {
		t.Fatalf("expected unsupported codec error")
	}
}

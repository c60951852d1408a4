package telemetry

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compressor applies symmetric compression to payload byte slices.
type Compressor interface {
	//1.- Name returns the codec identifier advertised to clients.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

// CompressorByName resolves a codec from its advertised name. The empty name and
// "identity" return nil, meaning payloads are sent as plain text.
func CompressorByName(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "identity", "json":
		return nil, nil
	case "gzip":
		return NewGZIPCompressor(), nil
	case "zstd":
		return NewZstdCompressor()
	case "snappy":
		return NewSnappyCompressor(), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q (want one of %s)", name, strings.Join(CompressorNames(), ", "))
}

// CompressorNames lists the supported codec names, sorted.
func CompressorNames() []string {
	names := []string{"gzip", "snappy", "zstd"}
	sort.Strings(names)
	return names
}

// gzipCompressor wraps the standard library gzip implementation.
type gzipCompressor struct{}

// NewGZIPCompressor constructs a Compressor backed by gzip.
func NewGZIPCompressor() Compressor {
	return gzipCompressor{}
}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("gzip copy: %w", err)
	}
	return buf.Bytes(), nil
}

// zstdCompressor reuses one encoder and decoder; both are safe for concurrent
// EncodeAll and DecodeAll calls.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor constructs a Compressor backed by zstd.
func NewZstdCompressor() (Compressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (*zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zstd decompress: empty payload")
	}
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// snappyCompressor uses the snappy block format.
type snappyCompressor struct{}

// NewSnappyCompressor constructs a Compressor backed by snappy.
func NewSnappyCompressor() Compressor {
	return snappyCompressor{}
}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"projectilelab/server/internal/simulation"
)

// HeaderSchemaVersion tracks the schema version for recording header documents.
const HeaderSchemaVersion = 1

// Surface is the drawing surface the flight was simulated on.
type Surface struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Flight describes the launch a recording captures.
type Flight struct {
	Session    string                `json:"session"`
	Seed       int64                 `json:"seed"`
	StartTick  uint64                `json:"start_tick"`
	Surface    Surface               `json:"surface"`
	Parameters simulation.Parameters `json:"parameters"`
	Target     simulation.Target     `json:"target"`
}

// Header represents the metadata persisted alongside a recording.
type Header struct {
	SchemaVersion int    `json:"schema_version"`
	Flight        Flight `json:"flight"`
	Frames        int    `json:"frames"`
	Outcome       string `json:"outcome,omitempty"`
	FilePointer   string `json:"file_pointer"`
}

// Validate ensures the header contains enough information for catalogue tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	//1.- Catalogue tooling needs the manifest pointer to locate the streams.
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	if h.Frames < 0 {
		return fmt.Errorf("frames must not be negative")
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes a recording header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}

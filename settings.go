package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/simulation"
)

type settingsOption func(*SettingsStore)

// WithSettingsClock overrides the save timestamp source; primarily used in tests.
func WithSettingsClock(clock func() time.Time) settingsOption {
	return func(s *SettingsStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// SettingsStore persists the launch parameters so a restarted server resumes
// with the sliders where the last user left them.
type SettingsStore struct {
	mu       sync.Mutex
	path     string
	interval time.Duration
	log      *logging.Logger
	now      func() time.Time

	params   simulation.Parameters
	restored bool
	dirty    bool

	flushCh   chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type settingsFile struct {
	SavedAt    time.Time             `json:"saved_at"`
	Parameters simulation.Parameters `json:"parameters"`
}

// NewSettingsStore loads any previously saved parameters from path and starts the
// periodic writer. An empty path or non-positive interval disables persistence.
func NewSettingsStore(path string, interval time.Duration, logger *logging.Logger, opts ...settingsOption) (*SettingsStore, error) {
	if path == "" || interval <= 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.L()
	}
	store := &SettingsStore{
		path:     path,
		interval: interval,
		log:      logger,
		now:      time.Now,
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	go store.loop()
	return store, nil
}

func (s *SettingsStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var file settingsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = file.Parameters
	s.restored = true
	s.mu.Unlock()
	s.log.Info("launch settings restored", logging.String("path", s.path), logging.String("saved_at", file.SavedAt.Format(time.RFC3339)))
	return nil
}

// Restored returns the parameters loaded at startup, or nil when none were saved.
func (s *SettingsStore) Restored() *simulation.Parameters {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.restored {
		return nil
	}
	params := s.params
	return &params
}

func (s *SettingsStore) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.flushCh:
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

// Record stores params as the latest settings. Unchanged values are ignored.
func (s *SettingsStore) Record(params simulation.Parameters) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.restored && s.params == params {
		s.mu.Unlock()
		return
	}
	s.params = params
	s.restored = true
	s.dirty = true
	s.mu.Unlock()
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// Follow records the parameters carried by every state update until updates
// closes or ctx ends.
func (s *SettingsStore) Follow(ctx context.Context, updates <-chan lab.Telemetry) {
	if s == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Kind == lab.TelemetryState {
				s.Record(update.Parameters)
			}
		}
	}
}

// Flush immediately persists the current settings to disk.
func (s *SettingsStore) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	data, err := json.MarshalIndent(settingsFile{SavedAt: s.now().UTC(), Parameters: s.params}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	//1.- Write through a temp file so a crash never leaves truncated JSON behind.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *SettingsStore) flush() {
	if err := s.Flush(); err != nil {
		s.log.Error("failed to persist launch settings", logging.Error(err))
	}
}

// Close stops the writer goroutine after a final flush. It is safe to call twice.
func (s *SettingsStore) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	return nil
}

// Package timesync estimates how far each remote client's clock sits from the
// server's so client-stamped commands can be judged on the server timeline.
package timesync

import (
	"context"
	"sync"
	"time"

	"projectilelab/server/internal/logging"
)

// driftWarnThreshold marks offsets large enough to be worth an operator's attention.
const driftWarnThreshold = time.Second

// Sample is one clock reading pushed to a client.
type Sample struct {
	ServerMs            int64 `json:"server_ms"`
	SessionMs           int64 `json:"session_ms"`
	RecommendedOffsetMs int64 `json:"recommended_offset_ms"`
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the wall clock; primarily used in tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service streams clock samples and tracks a smoothed offset per client.
type Service struct {
	interval time.Duration
	now      func() time.Time
	started  time.Time
	log      *logging.Logger

	mu      sync.Mutex
	offsets map[string]int64
}

// NewService builds a service emitting samples every interval.
func NewService(interval time.Duration, logger *logging.Logger, opts ...Option) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logging.L()
	}
	s := &Service{
		interval: interval,
		now:      time.Now,
		log:      logger,
		offsets:  make(map[string]int64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.started = s.now()
	return s
}

// Sample returns the current reading for clientID.
func (s *Service) Sample(clientID string) Sample {
	if s == nil {
		return Sample{ServerMs: time.Now().UnixMilli()}
	}
	now := s.now()
	s.mu.Lock()
	offset := s.offsets[clientID]
	s.mu.Unlock()
	return Sample{
		ServerMs:            now.UnixMilli(),
		SessionMs:           now.Sub(s.started).Milliseconds(),
		RecommendedOffsetMs: offset,
	}
}

// Observe folds a client-reported timestamp into the client's offset estimate and
// returns the updated offset in milliseconds (server minus client).
func (s *Service) Observe(clientID string, clientMs int64) int64 {
	if s == nil || clientID == "" || clientMs <= 0 {
		return 0
	}
	measured := s.now().UnixMilli() - clientMs
	s.mu.Lock()
	offset, seen := s.offsets[clientID]
	if !seen {
		offset = measured
	} else {
		//1.- Smooth with a quarter-weight moving average so one slow packet does not swing it.
		offset += (measured - offset) / 4
	}
	s.offsets[clientID] = offset
	s.mu.Unlock()

	drift := time.Duration(offset) * time.Millisecond
	if drift > driftWarnThreshold || drift < -driftWarnThreshold {
		s.log.Warn("client clock drift", logging.String("client_id", clientID), logging.Int64("offset_ms", offset))
	} else {
		s.log.Debug("client clock drift", logging.String("client_id", clientID), logging.Int64("offset_ms", offset))
	}
	return offset
}

// Adjust maps a client timestamp onto the server clock.
func (s *Service) Adjust(clientID string, clientMs int64) time.Time {
	if clientMs <= 0 {
		return time.Time{}
	}
	if s == nil {
		return time.UnixMilli(clientMs)
	}
	s.mu.Lock()
	offset := s.offsets[clientID]
	s.mu.Unlock()
	return time.UnixMilli(clientMs + offset)
}

// Forget drops the estimate of a disconnected client.
func (s *Service) Forget(clientID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.offsets, clientID)
	s.mu.Unlock()
}

// Stream pushes samples to send until ctx ends or send fails.
func (s *Service) Stream(ctx context.Context, clientID string, send func(Sample) error) error {
	if s == nil || send == nil {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	//1.- Emit an initial sample immediately to minimise startup skew.
	if err := send(s.Sample(clientID)); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			//2.- Stream successive samples at the configured cadence.
			if err := send(s.Sample(clientID)); err != nil {
				return err
			}
		}
	}
}

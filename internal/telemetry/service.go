// Package telemetry exposes the projectile lab over gRPC: throttled frame
// telemetry, the sequenced event stream and a control RPC. Messages are the
// well-known Struct and Empty types so no generated code is required.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"projectilelab/server/internal/challenge"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/simulation"
)

// DefaultFrameRateHz caps StreamFrames when no rate is configured.
const DefaultFrameRateHz = 30

const eventBuffer = 64

// Option customises the behaviour of the gRPC service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithFrameRate sets the StreamFrames cadence in Hz.
func WithFrameRate(hz float64) Option {
	return func(s *Service) {
		if hz > 0 {
			s.frameRate = hz
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements TelemetryServer on top of a lab bridge.
type Service struct {
	lab       LabBridge
	frameRate float64
	newTicker tickerFactory
	log       *logging.Logger
}

var _ TelemetryServer = (*Service)(nil)

// NewService wires the gRPC service to the lab bridge and optional settings.
func NewService(bridge LabBridge, opts ...Option) *Service {
	service := &Service{lab: bridge, frameRate: DefaultFrameRateHz, newTicker: defaultTickerFactory, log: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// StreamFrames relays lab telemetry at the configured cadence. Between ticks only
// the newest plain frame is kept; target hits, terminal frames and command-driven
// state updates are never coalesced away.
func (s *Service) StreamFrames(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s == nil || s.lab == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	ctx := stream.Context()
	//1.- Subscribe to the lab fan-out so we receive future updates.
	updates, cancel, err := s.lab.SubscribeTelemetry(ctx)
	if err != nil {
		return toStatus(err)
	}
	defer cancel()

	tickCh, stop := s.newTicker(time.Duration(float64(time.Second) / s.frameRate))
	defer stop()

	var (
		pending []lab.Telemetry
		closed  bool
	)
	for {
		select {
		case <-ctx.Done():
			return contextStatus(ctx)
		case update, ok := <-updates:
			if !ok {
				//2.- Drain what is buffered before ending the stream.
				closed = true
				updates = nil
				if len(pending) == 0 {
					return nil
				}
				continue
			}
			if n := len(pending); n > 0 && coalescable(pending[n-1]) && coalescable(update) {
				pending[n-1] = update
				continue
			}
			pending = append(pending, update)
		case <-tickCh:
			if len(pending) == 0 {
				if closed {
					return nil
				}
				continue
			}
			for _, update := range pending {
				msg, err := TelemetryStruct(update)
				if err != nil {
					return status.Errorf(codes.Internal, "encode telemetry: %v", err)
				}
				if err := stream.Send(msg); err != nil {
					return err
				}
			}
			pending = pending[:0]
		}
	}
}

func coalescable(update lab.Telemetry) bool {
	return update.Kind == lab.TelemetryFrame && !update.TargetHit && !update.Terminated
}

// StreamEvents delivers the lab event log, replaying retained history first.
// Each delivered envelope is acknowledged once it has been sent.
func (s *Service) StreamEvents(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s == nil || s.lab == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	source := s.lab.Events()
	if source == nil {
		return status.Error(codes.Unavailable, "event stream not configured")
	}
	ctx := stream.Context()
	sub, err := source.Subscribe(ctx, "grpc-"+uuid.NewString(), eventBuffer)
	if err != nil {
		return status.Errorf(codes.Internal, "subscribe events: %v", err)
	}
	defer sub.Release()

	for {
		select {
		case <-ctx.Done():
			return contextStatus(ctx)
		case env, ok := <-sub.Events():
			if !ok {
				//1.- Cancellation also closes the subscription; report it as such.
				if ctx.Err() != nil {
					return contextStatus(ctx)
				}
				return nil
			}
			msg := env.Struct()
			msg.Fields["type"] = structpb.NewStringValue("event")
			if err := stream.Send(msg); err != nil {
				return err
			}
			if err := sub.Ack(env.Sequence); err != nil {
				s.log.Warn("event ack failed", logging.Error(err))
			}
		}
	}
}

// Control applies one command and returns the resulting lab snapshot.
func (s *Service) Control(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.lab == nil {
		return nil, status.Error(codes.FailedPrecondition, "control unavailable")
	}
	cmd, err := CommandFromStruct(req)
	if err != nil {
		return nil, toStatus(err)
	}
	snapshot, err := s.lab.Apply(cmd)
	if err != nil {
		logging.LoggerFromContext(ctx).Debug("control command rejected", logging.String("command", cmd.Name), logging.Error(err))
		return nil, toStatus(err)
	}
	msg, err := ToStruct(snapshot)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	return msg, nil
}

// toStatus maps lab errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lab.ErrUnknownCommand), errors.Is(err, lab.ErrInvalidCommand), errors.Is(err, simulation.ErrInvalidParameter):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, simulation.ErrAlreadyLaunched), errors.Is(err, simulation.ErrNotLaunched), errors.Is(err, challenge.ErrAlreadyActive):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, lab.ErrClosed), errors.Is(err, simulation.ErrDisposed):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func contextStatus(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return status.Error(codes.Canceled, "stream cancelled")
	}
	return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
}

package logging

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TraceIDMetadataKey carries trace identifiers on gRPC calls.
const TraceIDMetadataKey = "x-trace-id"

func traceFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(TraceIDMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// UnaryServerInterceptor attaches a trace-scoped logger to every unary call and
// logs its outcome.
func UnaryServerInterceptor(base *Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, logger, _ := WithTrace(ctx, base, traceFromMetadata(ctx))
		started := time.Now()
		resp, err := handler(ctx, req)
		fields := []Field{String("method", info.FullMethod), Duration("elapsed", time.Since(started))}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, String("code", status.Code(err).String()), Error(err))...)
		} else {
			logger.Debug("grpc call served", fields...)
		}
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
func StreamServerInterceptor(base *Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, logger, _ := WithTrace(ss.Context(), base, traceFromMetadata(ss.Context()))
		logger.Debug("grpc stream opened", String("method", info.FullMethod))
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		if err != nil && status.Code(err) != codes.Canceled {
			logger.Warn("grpc stream closed with error", String("method", info.FullMethod), Error(err))
		}
		return err
	}
}

// tracedStream overrides the stream context so handlers see the trace logger.
type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context {
	return s.ctx
}

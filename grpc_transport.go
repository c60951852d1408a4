package main

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	configpkg "projectilelab/server/internal/config"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/telemetry"
)

const adminTokenMetadataKey = "x-lab-admin-token"

// controlMethod is the only RPC that mutates the lab.
var controlMethod = "/" + telemetry.ServiceName + "/Control"

// configureGRPC assembles server options: TLS when a key pair is configured,
// trace logging on every call and admin-token checks on Control.
func configureGRPC(cfg *configpkg.Config, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grpc config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	var opts []grpc.ServerOption

	if cfg.TLSCertPath != "" {
		creds, err := loadTLSCredentials(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
		logger.Info("gRPC TLS enabled")
	}

	unary := []grpc.UnaryServerInterceptor{logging.UnaryServerInterceptor(logger)}
	if cfg.AdminToken != "" {
		unary = append(unary, newAdminTokenInterceptor(cfg.AdminToken))
		logger.Info("gRPC control requires admin token")
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(logging.StreamServerInterceptor(logger)),
	)
	return opts, nil
}

// newGRPCServer registers the telemetry and health services on a fresh server.
func newGRPCServer(svc telemetry.TelemetryServer, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(opts...)
	telemetry.RegisterTelemetryServer(server, svc)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(telemetry.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthSrv)
	return server, healthSrv
}

// newAdminTokenInterceptor rejects Control calls lacking the admin token. Read-only
// calls pass through untouched.
func newAdminTokenInterceptor(token string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(token)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info == nil || info.FullMethod != controlMethod {
			return handler(ctx, req)
		}
		if normalized == "" {
			return nil, status.Error(codes.Unauthenticated, "admin token not configured")
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractAdminToken(md)
		if candidate == "" {
			return nil, status.Error(codes.Unauthenticated, "missing admin token")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(normalized)) != 1 {
			return nil, status.Error(codes.PermissionDenied, "invalid admin token")
		}
		return handler(ctx, req)
	}
}

func extractAdminToken(md metadata.MD) string {
	if md == nil {
		return ""
	}
	for _, value := range md.Get(adminTokenMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func loadTLSCredentials(certPath, keyPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"projectilelab/server/internal/config"
	"projectilelab/server/internal/events"
	httpapi "projectilelab/server/internal/http"
	"projectilelab/server/internal/input"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/networking"
	"projectilelab/server/internal/replay"
	"projectilelab/server/internal/telemetry"
	"projectilelab/server/internal/timesync"
)

const (
	shutdownTimeout      = 5 * time.Second
	recordingSweepPeriod = 10 * time.Minute
	commandMaxAge        = 2 * time.Second
	commandMinInterval   = 10 * time.Millisecond
)

// ServerStats is the JSON body of /api/stats.
type ServerStats struct {
	Session       string               `json:"session"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	Lab           lab.Stats            `json:"lab"`
	Hub           HubStats             `json:"hub"`
	Recorder      *replay.Stats        `json:"recorder,omitempty"`
	Storage       *replay.StorageStats `json:"storage,omitempty"`
}

type statsProvider interface {
	Stats() ServerStats
}

// Server ties the lab session to its outer surfaces and answers readiness probes.
type Server struct {
	startedAt time.Time
	session   *lab.Lab
	hub       *Hub
	recorder  *replay.Recorder
	cleaner   *replay.Cleaner

	mu         sync.Mutex
	startupErr error
}

// SnapshotClientCounts reports websocket clients for readiness.
func (s *Server) SnapshotClientCounts() (clients, pending int) {
	if s == nil || s.hub == nil {
		return 0, 0
	}
	return s.hub.SnapshotClientCounts()
}

// StartupError returns the first listener failure, if any.
func (s *Server) StartupError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startupErr
}

func (s *Server) setStartupError(err error) {
	s.mu.Lock()
	if s.startupErr == nil {
		s.startupErr = err
	}
	s.mu.Unlock()
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Stats gathers lab, hub and recording counters.
func (s *Server) Stats() ServerStats {
	stats := ServerStats{
		Session:       s.session.Session(),
		UptimeSeconds: s.Uptime().Seconds(),
		Lab:           s.session.Stats(),
	}
	if s.hub != nil {
		stats.Hub = s.hub.Stats()
	}
	if s.recorder != nil {
		snapshot := s.recorder.Snapshot()
		stats.Recorder = &snapshot
	}
	if s.cleaner != nil {
		storage := s.cleaner.Stats()
		stats.Storage = &storage
	}
	return stats
}

// statsHandler serves a point-in-time stats snapshot as JSON.
func statsHandler(provider statsProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats := provider.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(stats)
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "projectile lab: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	server := &Server{startedAt: time.Now()}

	//1.- Storage: event log, flight recordings and persisted launch settings.
	stream := events.NewStream(events.Config{})
	labOpts := []lab.Option{lab.WithLogger(logger), lab.WithEventStream(stream)}
	if cfg.Recording.Dir != "" {
		recorder, err := replay.NewRecorder(cfg.Recording.Dir, time.Now, logger)
		if err != nil {
			return fmt.Errorf("init recorder: %w", err)
		}
		server.recorder = recorder
		labOpts = append(labOpts, lab.WithRecorder(recorder))
		server.cleaner = replay.NewCleaner(cfg.Recording.Dir, replay.RetentionPolicy{
			MaxRecordings: cfg.Recording.MaxRecordings,
			MaxAge:        cfg.Recording.MaxAge,
		}, logger)
		go server.cleaner.Run(ctx, recordingSweepPeriod)
	}
	settings, err := NewSettingsStore(cfg.Settings.Path, cfg.Settings.Interval, logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	defer settings.Close()

	//2.- The lab session and its fixed-step loop.
	session, err := lab.New(lab.Config{
		Width:             cfg.Surface.Width,
		Height:            cfg.Surface.Height,
		Seed:              cfg.Simulation.Seed,
		TickHz:            cfg.Simulation.TickHz,
		ChallengeDuration: cfg.Challenge.Duration,
		PointsPerHit:      cfg.Challenge.PointsPerHit,
		Parameters:        settings.Restored(),
	}, labOpts...)
	if err != nil {
		return fmt.Errorf("create lab: %w", err)
	}
	defer session.Close()
	server.session = session
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start lab: %w", err)
	}
	if settings != nil {
		updates, cancel, err := session.SubscribeTelemetry(ctx)
		if err != nil {
			return fmt.Errorf("follow settings: %w", err)
		}
		defer cancel()
		go settings.Follow(ctx, updates)
	}

	//3.- Websocket hub with inbound screening, clock sync and outbound metering.
	gate := input.NewGate(input.Config{MaxAge: commandMaxAge, MinInterval: commandMinInterval}, logger)
	regulator := networking.NewRegulator(networking.DefaultBytesPerSecond, nil)
	clock := timesync.NewService(cfg.PingInterval, logger)
	hub := NewHub(session, cfg.AllowedOrigins, cfg.MaxPayloadBytes, cfg.MaxClients, cfg.PingInterval, logger,
		WithCommandGate(gate), WithRegulator(regulator), WithTimeSync(clock))
	server.hub = hub

	//4.- HTTP surface.
	handlerOpts := httpapi.Options{
		Logger:      logger,
		Readiness:   server,
		Lab:         session,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewDumpThrottle(cfg.ReplayDumpWindow, cfg.ReplayDumpBurst, nil),
	}
	if server.recorder != nil {
		recorder := server.recorder
		handlerOpts.Replay = httpapi.ReplayDumperFunc(func(context.Context) (string, error) {
			return recorder.Flush()
		})
		handlerOpts.ReplayStats = recorder.Snapshot
		handlerOpts.StorageStats = server.cleaner.Stats
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	httpapi.NewHandlerSet(handlerOpts).Register(mux)
	registerControlDocEndpoints(mux)
	mux.Handle("/api/stats", statsHandler(server))
	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	//5.- gRPC surface.
	grpcOpts, err := configureGRPC(cfg, logger)
	if err != nil {
		return fmt.Errorf("configure grpc: %w", err)
	}
	service := telemetry.NewService(session,
		telemetry.WithFrameRate(cfg.Simulation.FrameStreamHz),
		telemetry.WithLogger(logger))
	grpcServer, healthSrv := newGRPCServer(service, grpcOpts...)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	tlsEnabled := cfg.TLSCertPath != ""
	errCh := make(chan error, 2)
	go func() {
		var err error
		if tlsEnabled {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.setStartupError(err)
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			server.setStartupError(err)
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	logger.Info("projectile lab listening",
		logging.String("session", session.Session()),
		logging.String("http", listenerURL(cfg.Address, tlsEnabled)),
		logging.String("websocket", websocketURL(cfg.Address, tlsEnabled)),
		logging.String("grpc", grpcTarget(cfg.GRPCAddress)),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("listener failed", logging.Error(runErr))
	}

	//6.- Drain in reverse: stop advertising health, close sockets, then the lab.
	healthSrv.Shutdown()
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	if err := session.Close(); err != nil {
		logger.Warn("lab close failed", logging.Error(err))
	}
	if server.recorder != nil {
		if _, err := server.recorder.Flush(); err != nil {
			logger.Warn("final recording flush failed", logging.Error(err))
		}
	}
	return runErr
}

// Package config loads the lab server's runtime tunables from LAB_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the HTTP and websocket API listens on.
	DefaultAddr = ":8080"
	// DefaultGRPCAddr is the default address of the gRPC telemetry service.
	DefaultGRPCAddr = ":9090"
	// DefaultPingInterval controls the keepalive cadence for websocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound websocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent websocket connections. Zero disables the limit.
	DefaultMaxClients = 64

	// DefaultReplayDumpWindow bounds how frequently recording flushes may be requested.
	DefaultReplayDumpWindow = time.Minute
	// DefaultReplayDumpBurst sets how many flush requests may be made per window.
	DefaultReplayDumpBurst = 1

	// DefaultSurfaceWidth and DefaultSurfaceHeight size the simulated canvas in pixels.
	DefaultSurfaceWidth  = 800.0
	DefaultSurfaceHeight = 600.0
	// MinSurfaceWidth and MinSurfaceHeight mirror the engine's smallest usable surface.
	MinSurfaceWidth  = 200.0
	MinSurfaceHeight = 140.0

	// DefaultTickHz is the lab loop frequency. Physics always advances in fixed
	// 1/60 s steps of wall time, so the rate changes cadence, not flight speed.
	DefaultTickHz = 60.0
	// DefaultFrameStreamHz caps how often gRPC frame streams emit.
	DefaultFrameStreamHz = 30.0

	// DefaultChallengeDuration is the length of a challenge round.
	DefaultChallengeDuration = 60 * time.Second
	// DefaultPointsPerHit is the challenge score for one target hit.
	DefaultPointsPerHit = 100

	// DefaultRecordingMax bounds how many flight recordings are retained.
	DefaultRecordingMax = 50
	// DefaultRecordingMaxAge expires old flight recordings.
	DefaultRecordingMaxAge = 72 * time.Hour

	// DefaultSettingsInterval controls how frequently launch settings are persisted.
	DefaultSettingsInterval = 30 * time.Second

	// DefaultLogLevel controls verbosity for lab logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "projectilelab.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the lab server.
type Config struct {
	Address          string
	GRPCAddress      string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	MaxClients       int
	TLSCertPath      string
	TLSKeyPath       string
	AdminToken       string
	ReplayDumpWindow time.Duration
	ReplayDumpBurst  int
	Surface          SurfaceConfig
	Simulation       SimulationConfig
	Challenge        ChallengeConfig
	Recording        RecordingConfig
	Settings         SettingsConfig
	Logging          LoggingConfig
}

// SurfaceConfig sizes the simulated drawing surface.
type SurfaceConfig struct {
	Width  float64
	Height float64
}

// SimulationConfig tunes the physics loop.
type SimulationConfig struct {
	// Seed feeds target placement and particles; zero seeds from the clock.
	Seed          int64
	TickHz        float64
	FrameStreamHz float64
}

// ChallengeConfig tunes the timed challenge.
type ChallengeConfig struct {
	Duration     time.Duration
	PointsPerHit int
}

// RecordingConfig controls flight recordings. An empty Dir disables recording.
type RecordingConfig struct {
	Dir           string
	MaxRecordings int
	MaxAge        time.Duration
}

// SettingsConfig controls launch-parameter persistence. An empty Path disables it.
type SettingsConfig struct {
	Path     string
	Interval time.Duration
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the lab configuration from environment variables, applying defaults
// and returning one descriptive error listing every invalid override.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("LAB_ADDR", DefaultAddr),
		GRPCAddress:      getString("LAB_GRPC_ADDR", DefaultGRPCAddr),
		AllowedOrigins:   parseList(os.Getenv("LAB_ALLOWED_ORIGINS")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		MaxClients:       DefaultMaxClients,
		TLSCertPath:      strings.TrimSpace(os.Getenv("LAB_TLS_CERT")),
		TLSKeyPath:       strings.TrimSpace(os.Getenv("LAB_TLS_KEY")),
		AdminToken:       strings.TrimSpace(os.Getenv("LAB_ADMIN_TOKEN")),
		ReplayDumpWindow: DefaultReplayDumpWindow,
		ReplayDumpBurst:  DefaultReplayDumpBurst,
		Surface:          SurfaceConfig{Width: DefaultSurfaceWidth, Height: DefaultSurfaceHeight},
		Simulation:       SimulationConfig{TickHz: DefaultTickHz, FrameStreamHz: DefaultFrameStreamHz},
		Challenge:        ChallengeConfig{Duration: DefaultChallengeDuration, PointsPerHit: DefaultPointsPerHit},
		Recording: RecordingConfig{
			Dir:           strings.TrimSpace(os.Getenv("LAB_RECORDING_DIR")),
			MaxRecordings: DefaultRecordingMax,
			MaxAge:        DefaultRecordingMaxAge,
		},
		Settings: SettingsConfig{
			Path:     strings.TrimSpace(os.Getenv("LAB_SETTINGS_PATH")),
			Interval: DefaultSettingsInterval,
		},
		Logging: LoggingConfig{
			Level:      getString("LAB_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("LAB_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	p := &parser{}

	//1.- Transport limits.
	p.int64Var("LAB_MAX_PAYLOAD_BYTES", &cfg.MaxPayloadBytes, 1)
	p.durationVar("LAB_PING_INTERVAL", &cfg.PingInterval)
	p.intVar("LAB_MAX_CLIENTS", &cfg.MaxClients, 0)
	p.durationVar("LAB_DUMP_WINDOW", &cfg.ReplayDumpWindow)
	p.intVar("LAB_DUMP_BURST", &cfg.ReplayDumpBurst, 1)

	//2.- Simulation surface and cadence.
	p.floatVar("LAB_SURFACE_WIDTH", &cfg.Surface.Width, MinSurfaceWidth)
	p.floatVar("LAB_SURFACE_HEIGHT", &cfg.Surface.Height, MinSurfaceHeight)
	if raw := strings.TrimSpace(os.Getenv("LAB_SEED")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			p.problems = append(p.problems, fmt.Sprintf("LAB_SEED must be an integer, got %q", raw))
		} else {
			cfg.Simulation.Seed = value
		}
	}
	p.floatVar("LAB_TICK_HZ", &cfg.Simulation.TickHz, 1)
	p.floatVar("LAB_FRAME_STREAM_HZ", &cfg.Simulation.FrameStreamHz, 1)

	//3.- Challenge, recordings and settings persistence.
	p.durationVar("LAB_CHALLENGE_DURATION", &cfg.Challenge.Duration)
	p.intVar("LAB_POINTS_PER_HIT", &cfg.Challenge.PointsPerHit, 1)
	p.intVar("LAB_RECORDING_MAX", &cfg.Recording.MaxRecordings, 0)
	p.durationVar("LAB_RECORDING_MAX_AGE", &cfg.Recording.MaxAge)
	p.durationVar("LAB_SETTINGS_INTERVAL", &cfg.Settings.Interval)

	//4.- Logging.
	p.intVar("LAB_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB, 1)
	p.intVar("LAB_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups, 0)
	p.intVar("LAB_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays, 0)
	p.boolVar("LAB_LOG_COMPRESS", &cfg.Logging.Compress)

	problems := p.problems
	if cfg.Challenge.Duration < time.Second {
		problems = append(problems, fmt.Sprintf("LAB_CHALLENGE_DURATION must be at least 1s, got %v", cfg.Challenge.Duration))
	}
	if cfg.Simulation.FrameStreamHz > cfg.Simulation.TickHz {
		problems = append(problems, fmt.Sprintf("LAB_FRAME_STREAM_HZ (%v) must not exceed LAB_TICK_HZ (%v)", cfg.Simulation.FrameStreamHz, cfg.Simulation.TickHz))
	}
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "LAB_TLS_CERT and LAB_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// parser accumulates validation problems while applying overrides.
type parser struct {
	problems []string
}

func (p *parser) intVar(key string, dst *int, min int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min {
		p.problems = append(p.problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, min, raw))
		return
	}
	*dst = value
}

func (p *parser) int64Var(key string, dst *int64, min int64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < min {
		p.problems = append(p.problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, min, raw))
		return
	}
	*dst = value
}

func (p *parser) floatVar(key string, dst *float64, min float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value >= min) || value > 1e6 {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a number >= %v, got %q", key, min, raw))
		return
	}
	*dst = value
}

func (p *parser) durationVar(key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}

func (p *parser) boolVar(key string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return
	}
	*dst = value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}

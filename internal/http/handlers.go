package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"projectilelab/server/internal/challenge"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/replay"
	"projectilelab/server/internal/simulation"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// LabAPI is the slice of the lab session served over HTTP.
type LabAPI interface {
	State() simulation.State
	Readout() simulation.Readout
	Drawable() simulation.Drawable
	Challenge() challenge.Snapshot
	Apply(cmd lab.Command) (lab.Snapshot, error)
	Stats() lab.Stats
}

// ReplayDumper flushes the active flight recording and returns its location.
type ReplayDumper interface {
	DumpReplay(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently a caller may invoke sensitive operations.
// Denials carry a retry hint.
type RateLimiter interface {
	Allow(caller string) (bool, time.Duration)
}

// Options configures the HandlerSet.
type Options struct {
	Logger       *logging.Logger
	Readiness    ReadinessProvider
	Lab          LabAPI
	Replay       ReplayDumper
	AdminToken   string
	RateLimiter  RateLimiter
	TimeSource   func() time.Time
	ReplayStats  func() replay.Stats
	StorageStats func() replay.StorageStats
}

// HandlerSet bundles the lab API and operational handlers.
type HandlerSet struct {
	logger       *logging.Logger
	readiness    ReadinessProvider
	lab          LabAPI
	replay       ReplayDumper
	adminToken   string
	rateLimiter  RateLimiter
	now          func() time.Time
	replayStats  func() replay.Stats
	storageStats func() replay.StorageStats
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:       logger,
		readiness:    opts.Readiness,
		lab:          opts.Lab,
		replay:       opts.Replay,
		adminToken:   strings.TrimSpace(opts.AdminToken),
		rateLimiter:  opts.RateLimiter,
		now:          now,
		replayStats:  opts.ReplayStats,
		storageStats: opts.StorageStats,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
	mux.HandleFunc("/api/state", h.StateHandler())
	mux.HandleFunc("/api/readout", h.ReadoutHandler())
	mux.HandleFunc("/api/drawable", h.DrawableHandler())
	mux.HandleFunc("/api/challenge", h.ChallengeHandler())
	mux.HandleFunc("/api/command", h.CommandHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports server readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, pending, uptime := h.clientCounts()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP lab_uptime_seconds Server uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE lab_uptime_seconds gauge\n")
		fmt.Fprintf(w, "lab_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP lab_ws_clients Current connected WebSocket clients.\n")
		fmt.Fprintf(w, "# TYPE lab_ws_clients gauge\n")
		fmt.Fprintf(w, "lab_ws_clients %d\n", clients)

		fmt.Fprintf(w, "# HELP lab_ws_pending_clients Pending WebSocket handshakes awaiting upgrade.\n")
		fmt.Fprintf(w, "# TYPE lab_ws_pending_clients gauge\n")
		fmt.Fprintf(w, "lab_ws_pending_clients %d\n", pending)

		if h.lab != nil {
			stats := h.lab.Stats()
			fmt.Fprintf(w, "# HELP lab_frames_total Physics frames stepped.\n")
			fmt.Fprintf(w, "# TYPE lab_frames_total counter\n")
			fmt.Fprintf(w, "lab_frames_total %d\n", stats.Frames)
			fmt.Fprintf(w, "# HELP lab_flights_total Flights that reached a terminal frame.\n")
			fmt.Fprintf(w, "# TYPE lab_flights_total counter\n")
			fmt.Fprintf(w, "lab_flights_total %d\n", stats.Flights)
			fmt.Fprintf(w, "# HELP lab_landings_total Flights that ended on the ground.\n")
			fmt.Fprintf(w, "# TYPE lab_landings_total counter\n")
			fmt.Fprintf(w, "lab_landings_total %d\n", stats.Landings)
			fmt.Fprintf(w, "# HELP lab_target_hits_total Targets hit.\n")
			fmt.Fprintf(w, "# TYPE lab_target_hits_total counter\n")
			fmt.Fprintf(w, "lab_target_hits_total %d\n", stats.TargetHits)
			fmt.Fprintf(w, "# HELP lab_challenges_completed_total Challenge rounds that ran to expiry.\n")
			fmt.Fprintf(w, "# TYPE lab_challenges_completed_total counter\n")
			fmt.Fprintf(w, "lab_challenges_completed_total %d\n", stats.ChallengesCompleted)
			fmt.Fprintf(w, "# HELP lab_telemetry_subscribers Live telemetry subscribers.\n")
			fmt.Fprintf(w, "# TYPE lab_telemetry_subscribers gauge\n")
			fmt.Fprintf(w, "lab_telemetry_subscribers %d\n", stats.Subscribers)
			fmt.Fprintf(w, "# HELP lab_telemetry_dropped_total Telemetry updates dropped for slow subscribers.\n")
			fmt.Fprintf(w, "# TYPE lab_telemetry_dropped_total counter\n")
			fmt.Fprintf(w, "lab_telemetry_dropped_total %d\n", stats.DroppedTelemetry)

			fmt.Fprintf(w, "# HELP lab_tick_duration_seconds Lab tick processing time.\n")
			fmt.Fprintf(w, "# TYPE lab_tick_duration_seconds gauge\n")
			fmt.Fprintf(w, "lab_tick_duration_seconds{stat=\"avg\"} %.6f\n", stats.Tick.Average.Seconds())
			fmt.Fprintf(w, "lab_tick_duration_seconds{stat=\"max\"} %.6f\n", stats.Tick.Max.Seconds())
			fmt.Fprintf(w, "lab_tick_duration_seconds{stat=\"last\"} %.6f\n", stats.Tick.Last.Seconds())
			fmt.Fprintf(w, "# HELP lab_ticks_late_total Ticks that exceeded the frame budget.\n")
			fmt.Fprintf(w, "# TYPE lab_ticks_late_total counter\n")
			fmt.Fprintf(w, "lab_ticks_late_total %d\n", stats.Tick.Late)

			round := h.lab.Challenge()
			active := 0
			if round.Active {
				active = 1
			}
			fmt.Fprintf(w, "# HELP lab_challenge_active Whether a challenge round is running.\n")
			fmt.Fprintf(w, "# TYPE lab_challenge_active gauge\n")
			fmt.Fprintf(w, "lab_challenge_active %d\n", active)
			fmt.Fprintf(w, "# HELP lab_challenge_score Score of the current or last round.\n")
			fmt.Fprintf(w, "# TYPE lab_challenge_score gauge\n")
			fmt.Fprintf(w, "lab_challenge_score %d\n", round.Score)
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			fmt.Fprintf(w, "# HELP lab_recorder_buffered_frames Recorded frames awaiting flush.\n")
			fmt.Fprintf(w, "# TYPE lab_recorder_buffered_frames gauge\n")
			fmt.Fprintf(w, "lab_recorder_buffered_frames %d\n", stats.BufferedFrames)
			fmt.Fprintf(w, "# HELP lab_recorder_flights_total Flight recordings completed.\n")
			fmt.Fprintf(w, "# TYPE lab_recorder_flights_total counter\n")
			fmt.Fprintf(w, "lab_recorder_flights_total %d\n", stats.Flights)
			fmt.Fprintf(w, "# HELP lab_recorder_frames_total Frames written to recordings.\n")
			fmt.Fprintf(w, "# TYPE lab_recorder_frames_total counter\n")
			fmt.Fprintf(w, "lab_recorder_frames_total %d\n", stats.Frames)
		}
		if h.storageStats != nil {
			stats := h.storageStats()
			fmt.Fprintf(w, "# HELP lab_recordings_stored Flight recordings retained on disk.\n")
			fmt.Fprintf(w, "# TYPE lab_recordings_stored gauge\n")
			fmt.Fprintf(w, "lab_recordings_stored %d\n", stats.Recordings)
			fmt.Fprintf(w, "# HELP lab_recordings_bytes Disk footprint of retained recordings.\n")
			fmt.Fprintf(w, "# TYPE lab_recordings_bytes gauge\n")
			fmt.Fprintf(w, "lab_recordings_bytes %d\n", stats.Bytes)
		}
	}
}

// ReplayDumpHandler authorises and triggers a flush of the active recording.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil {
			if ok, retry := h.rateLimiter.Allow(callerKey(r)); !ok {
				reqLogger.Warn("replay dump denied: rate limit exceeded", logging.Duration("retry_after", retry))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}
		if h.replay == nil {
			reqLogger.Warn("replay dump denied: no dumper configured")
			http.Error(w, "replay dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.DumpReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay dump trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger replay dump", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay dump triggered", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) clientCounts() (clients, pending int, uptime float64) {
	if h.readiness == nil {
		return 0, 0, 0
	}
	clients, pending = h.readiness.SnapshotClientCounts()
	return clients, pending, h.readiness.Uptime().Seconds()
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

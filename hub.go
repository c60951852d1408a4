package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"

	"projectilelab/server/internal/events"
	"projectilelab/server/internal/input"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/networking"
	"projectilelab/server/internal/telemetry"
	"projectilelab/server/internal/timesync"
)

const (
	clientSendBuffer = 32
	writeWait        = 5 * time.Second
	eventBuffer      = 64
)

// HubStats summarises websocket activity for /api/stats.
type HubStats struct {
	Clients          int                           `json:"clients"`
	Pending          int                           `json:"pending"`
	MessagesSent     uint64                        `json:"messages_sent"`
	MessagesShed     int64                         `json:"messages_shed"`
	CommandsApplied  uint64                        `json:"commands_applied"`
	CommandsRejected uint64                        `json:"commands_rejected"`
	Bandwidth        []networking.Usage            `json:"bandwidth,omitempty"`
	Drops            map[string]input.DropCounters `json:"drops,omitempty"`
}

// HubOption customises hub construction.
type HubOption func(*Hub)

// WithCommandGate screens inbound commands through gate.
func WithCommandGate(gate *input.Gate) HubOption {
	return func(h *Hub) {
		h.gate = gate
	}
}

// WithRegulator meters outbound telemetry per client.
func WithRegulator(regulator *networking.Regulator) HubOption {
	return func(h *Hub) {
		h.regulator = regulator
	}
}

// WithTimeSync streams clock samples and maps client stamps onto server time.
func WithTimeSync(clock *timesync.Service) HubOption {
	return func(h *Hub) {
		h.clock = clock
	}
}

// Hub serves lab telemetry and accepts lab commands over websockets.
type Hub struct {
	lab          telemetry.LabBridge
	log          *logging.Logger
	upgrader     websocket.Upgrader
	maxPayload   int64
	maxClients   int
	pingInterval time.Duration
	gate         *input.Gate
	regulator    *networking.Regulator
	clock        *timesync.Service

	mu      sync.Mutex
	clients map[string]*wsClient
	pending int

	sent     atomic.Uint64
	applied  atomic.Uint64
	rejected atomic.Uint64
}

type wsClient struct {
	id         string
	conn       *websocket.Conn
	compressor telemetry.Compressor
	replies    chan []byte
	cancel     context.CancelFunc
}

// NewHub wires a websocket hub to the lab.
func NewHub(bridge telemetry.LabBridge, allowedOrigins []string, maxPayload int64, maxClients int, pingInterval time.Duration, logger *logging.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = logging.L()
	}
	hub := &Hub{
		lab:          bridge,
		log:          logger.With(logging.String("component", "ws_hub")),
		maxPayload:   maxPayload,
		maxClients:   maxClients,
		pingInterval: pingInterval,
		clients:      make(map[string]*wsClient),
	}
	hub.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	return hub
}

// originChecker accepts every origin when the allow-list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	normalised := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		normalised[strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))] = struct{}{}
	}
	_, wildcard := normalised["*"]
	return func(r *http.Request) bool {
		if len(normalised) == 0 || wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			//1.- Non-browser clients do not send an Origin header.
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Host == "" {
			return false
		}
		_, ok := normalised[strings.ToLower(parsed.Scheme+"://"+parsed.Host)]
		return ok
	}
}

// SnapshotClientCounts reports connected and handshaking clients.
func (h *Hub) SnapshotClientCounts() (clients, pending int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), h.pending
}

// Stats returns hub counters plus per-client metering.
func (h *Hub) Stats() HubStats {
	clients, pending := h.SnapshotClientCounts()
	return HubStats{
		Clients:          clients,
		Pending:          pending,
		MessagesSent:     h.sent.Load(),
		MessagesShed:     h.regulator.TotalShed(),
		CommandsApplied:  h.applied.Load(),
		CommandsRejected: h.rejected.Load(),
		Bandwidth:        h.regulator.Snapshot(),
		Drops:            h.gate.Metrics(),
	}
}

func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxClients > 0 && len(h.clients)+h.pending >= h.maxClients {
		return false
	}
	h.pending++
	return true
}

// ServeWS upgrades the request and streams telemetry until either side closes.
// The optional ?encoding= query selects a compressed binary framing.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	compressor, err := telemetry.CompressorByName(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.reserve() {
		h.log.Warn("websocket rejected: client limit reached", logging.Int("max_clients", h.maxClients))
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()
		h.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	//1.- Register the client and subscribe it to the lab before any traffic flows.
	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		id:         "ws-" + uuid.NewString(),
		conn:       conn,
		compressor: compressor,
		replies:    make(chan []byte, clientSendBuffer),
		cancel:     cancel,
	}
	logger := h.log.With(logging.String("client_id", client.id), logging.String("remote_addr", r.RemoteAddr))
	updates, stopTelemetry, err := h.lab.SubscribeTelemetry(ctx)
	if err != nil {
		cancel()
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()
		logger.Warn("telemetry subscription failed", logging.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lab unavailable"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	var eventCh <-chan *events.Envelope
	var sub *events.Subscription
	if stream := h.lab.Events(); stream != nil {
		if sub, err = stream.Subscribe(ctx, client.id, eventBuffer); err != nil {
			logger.Warn("event subscription failed", logging.Error(err))
		} else {
			eventCh = sub.Events()
		}
	}
	h.mu.Lock()
	h.pending--
	h.clients[client.id] = client
	h.mu.Unlock()
	logger.Info("websocket client connected", logging.String("encoding", r.URL.Query().Get("encoding")))

	go h.writeLoop(ctx, client, updates, eventCh, sub, logger)
	if h.clock != nil {
		go h.clock.Stream(ctx, client.id, func(sample timesync.Sample) error {
			h.reply(ctx, client, timeSyncReply(sample))
			return ctx.Err()
		})
	}
	go func() {
		h.readLoop(ctx, client, logger)
		//2.- Tear down in reverse order once the reader stops.
		cancel()
		stopTelemetry()
		if sub != nil {
			sub.Release()
		}
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		h.gate.Forget(client.id)
		h.regulator.Forget(client.id)
		h.clock.Forget(client.id)
		logger.Info("websocket client disconnected")
	}()
}

func (h *Hub) readLoop(ctx context.Context, client *wsClient, logger *logging.Logger) {
	conn := client.conn
	defer conn.Close()
	if h.maxPayload > 0 {
		conn.SetReadLimit(h.maxPayload)
	}
	deadline := func() {
		if h.pingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		}
	}
	deadline()
	conn.SetPongHandler(func(string) error {
		deadline()
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
		deadline()
		if client.compressor != nil {
			if raw, err = client.compressor.Decompress(raw); err != nil {
				h.reply(ctx, client, errorReply("", "decode", err))
				continue
			}
		}
		h.reply(ctx, client, h.handleCommand(client.id, raw, logger))
	}
}

// inboundMeta carries the optional ordering and clock fields around a command.
type inboundMeta struct {
	Type     string `json:"type"`
	Sequence uint64 `json:"seq"`
	SentAtMs int64  `json:"sent_at_ms"`
	ClientMs int64  `json:"client_ms"`
}

func timeSyncReply(sample timesync.Sample) map[string]any {
	return map[string]any{
		"type":                  "time_sync",
		"server_ms":             sample.ServerMs,
		"session_ms":            sample.SessionMs,
		"recommended_offset_ms": sample.RecommendedOffsetMs,
	}
}

func (h *Hub) handleCommand(clientID string, raw []byte, logger *logging.Logger) map[string]any {
	var meta inboundMeta
	_ = json.Unmarshal(raw, &meta)
	if meta.Type == "time_sync" {
		//1.- Clock probes never reach the lab; answer with the refreshed estimate.
		h.clock.Observe(clientID, meta.ClientMs)
		return timeSyncReply(h.clock.Sample(clientID))
	}
	cmd, err := lab.DecodeCommand(raw)
	if err != nil {
		h.rejected.Add(1)
		return errorReply("", "invalid", err)
	}
	submission := input.Submission{
		ClientID: clientID,
		Command:  cmd.Name,
		Sequence: meta.Sequence,
		SentAt:   h.clock.Adjust(clientID, meta.SentAtMs),
	}
	//2.- Screen ordering and spacing before touching the lab.
	if decision := h.gate.Evaluate(submission); !decision.Accepted {
		h.rejected.Add(1)
		return errorReply(cmd.Name, decision.Reason.String(), errors.New("command dropped"))
	}
	snapshot, err := h.lab.Apply(cmd)
	if err != nil {
		h.rejected.Add(1)
		logger.Debug("websocket command rejected", logging.String("command", cmd.Name), logging.Error(err))
		return errorReply(cmd.Name, "rejected", err)
	}
	h.applied.Add(1)
	reply := map[string]any{"type": "ack", "command": cmd.Name, "revision": float64(snapshot.Revision)}
	if meta.Sequence != 0 {
		reply["seq"] = float64(meta.Sequence)
	}
	return reply
}

func errorReply(command, reason string, err error) map[string]any {
	reply := map[string]any{"type": "error", "reason": reason, "error": err.Error()}
	if command != "" {
		reply["command"] = command
	}
	return reply
}

func (h *Hub) reply(ctx context.Context, client *wsClient, payload map[string]any) {
	msg, err := structpb.NewStruct(payload)
	if err != nil {
		h.log.Warn("encode reply failed", logging.Error(err))
		return
	}
	data, err := telemetry.MarshalJSON(msg)
	if err != nil {
		h.log.Warn("encode reply failed", logging.Error(err))
		return
	}
	select {
	case client.replies <- data:
	case <-ctx.Done():
	}
}

func sheddable(update lab.Telemetry) bool {
	return update.Kind == lab.TelemetryFrame && !update.TargetHit && !update.Terminated
}

func (h *Hub) writeLoop(ctx context.Context, client *wsClient, updates <-chan lab.Telemetry, eventCh <-chan *events.Envelope, sub *events.Subscription, logger *logging.Logger) {
	var pings <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}
	defer client.conn.Close()
	for {
		select {
		case <-ctx.Done():
			_ = client.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case update, ok := <-updates:
			if !ok {
				//1.- The lab closed; tell the client and stop.
				_ = client.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "lab closed"), time.Now().Add(writeWait))
				client.cancel()
				return
			}
			msg, err := telemetry.TelemetryStruct(update)
			if err != nil {
				logger.Warn("encode telemetry failed", logging.Error(err))
				continue
			}
			data, err := telemetry.MarshalJSON(msg)
			if err != nil {
				logger.Warn("encode telemetry failed", logging.Error(err))
				continue
			}
			if sheddable(update) && !h.regulator.Allow(client.id, len(data)) {
				continue
			}
			if err := h.write(client, data); err != nil {
				logger.Debug("websocket write failed", logging.Error(err))
				client.cancel()
				return
			}
		case env, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			msg := env.Struct()
			msg.Fields["type"] = structpb.NewStringValue("event")
			data, err := telemetry.MarshalJSON(msg)
			if err != nil {
				logger.Warn("encode event failed", logging.Error(err))
				continue
			}
			if err := h.write(client, data); err != nil {
				client.cancel()
				return
			}
			if err := sub.Ack(env.Sequence); err != nil {
				logger.Debug("event ack failed", logging.Error(err))
			}
		case data := <-client.replies:
			if err := h.write(client, data); err != nil {
				client.cancel()
				return
			}
		case <-pings:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				client.cancel()
				return
			}
		}
	}
}

// write frames data as text, or as compressed binary when the client asked for it.
func (h *Hub) write(client *wsClient, data []byte) error {
	kind := websocket.TextMessage
	if client.compressor != nil {
		compressed, err := client.compressor.Compress(data)
		if err != nil {
			return err
		}
		data = compressed
		kind = websocket.BinaryMessage
	}
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.conn.WriteMessage(kind, data); err != nil {
		return err
	}
	h.sent.Add(1)
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		client.cancel()
	}
}

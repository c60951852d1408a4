// Package events sequences lab notifications (launches, target hits, landings,
// resets and challenge transitions) and delivers them to subscribers with
// at-least-once semantics.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind enumerates the lab notifications carried by the stream.
type Kind string

const (
	KindLaunch         Kind = "launch"
	KindTargetHit      Kind = "target_hit"
	KindLanding        Kind = "landing"
	KindReset          Kind = "reset"
	KindChallengeStart Kind = "challenge_start"
	KindChallengeEnd   Kind = "challenge_end"
)

// Valid reports whether the kind is one the stream accepts.
func (k Kind) Valid() bool {
	switch k {
	case KindLaunch, KindTargetHit, KindLanding, KindReset, KindChallengeStart, KindChallengeEnd:
		return true
	}
	return false
}

// Envelope carries the payload together with sequencing metadata.
type Envelope struct {
	Sequence   uint64
	Kind       Kind
	Tick       uint64
	OccurredAt time.Time
	Payload    *structpb.Struct
}

// Clone duplicates the payload so receivers can mutate their copy safely.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Payload != nil {
		if msg, ok := proto.Clone(e.Payload).(*structpb.Struct); ok {
			clone.Payload = msg
		}
	}
	return &clone
}

// Struct renders the envelope as a self-describing message for transports.
func (e *Envelope) Struct() *structpb.Struct {
	if e == nil {
		return nil
	}
	fields := map[string]*structpb.Value{
		"sequence":    structpb.NewNumberValue(float64(e.Sequence)),
		"kind":        structpb.NewStringValue(string(e.Kind)),
		"tick":        structpb.NewNumberValue(float64(e.Tick)),
		"occurred_at": structpb.NewStringValue(e.OccurredAt.UTC().Format(time.RFC3339Nano)),
	}
	if e.Payload != nil {
		fields["payload"] = structpb.NewStructValue(e.Payload)
	}
	return &structpb.Struct{Fields: fields}
}

// Config controls the retention policy for the stream log and subscriber buffers.
type Config struct {
	Retain int
	// Now stamps envelopes; defaults to time.Now.
	Now func() time.Time
}

// Default retention keeps the last 512 events if no explicit value is provided.
const defaultRetention = 512

// Stream coordinates ordered event delivery with at-least-once semantics per subscriber.
type Stream struct {
	mu          sync.Mutex
	now         func() time.Time
	nextSeq     uint64
	retention   int
	logOrder    []uint64
	logPayloads map[uint64]*Envelope
	subscribers map[string]*subscriberState
}

// subscriberState persists acknowledgement state between transient connections.
type subscriberState struct {
	id      string
	pending []uint64
	lastAck uint64
	ch      chan *Envelope
	active  bool
}

// Subscription exposes the event channel and acknowledgement helpers for a subscriber.
type Subscription struct {
	id     string
	stream *Stream
	events <-chan *Envelope
	once   sync.Once
}

var (
	// ErrOutOfOrderAck signals that a subscriber attempted to acknowledge future sequences.
	ErrOutOfOrderAck = errors.New("ack sequence must match the next pending event")
	// ErrUnknownKind rejects payloads outside the lab vocabulary.
	ErrUnknownKind = errors.New("unknown event kind")
)

// NewStream constructs a stream using the provided configuration.
func NewStream(cfg Config) *Stream {
	retention := cfg.Retain
	if retention <= 0 {
		retention = defaultRetention
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Stream{
		now:         now,
		retention:   retention,
		logPayloads: make(map[uint64]*Envelope),
		subscribers: make(map[string]*subscriberState),
	}
}

// Subscribe attaches the logical subscriber to the stream and replays outstanding
// events. The subscription closes when ctx is cancelled or Close is called.
func (s *Stream) Subscribe(ctx context.Context, subscriberID string, buffer int) (*Subscription, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	if subscriberID == "" {
		return nil, errors.New("subscriber id must be provided")
	}
	if buffer <= 0 {
		buffer = 32
	}

	s.mu.Lock()
	state := s.ensureSubscriberLocked(subscriberID)
	if state.active && state.ch != nil {
		//1.- A reconnect supersedes the previous live channel.
		close(state.ch)
	}
	replay := s.collectReplayLocked(state)
	deliveries := s.prepareDeliveriesLocked(replay)
	ch := make(chan *Envelope, buffer+len(deliveries))
	for _, env := range deliveries {
		ch <- env
	}
	state.ch = ch
	state.active = true
	state.pending = append([]uint64(nil), replay...)
	s.mu.Unlock()

	sub := &Subscription{id: subscriberID, stream: s, events: ch}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub, nil
}

// ID returns the logical subscriber identifier.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Events exposes the ordered delivery channel for the subscriber.
func (s *Subscription) Events() <-chan *Envelope {
	if s == nil {
		return nil
	}
	return s.events
}

// Ack informs the stream that the subscriber processed the given sequence.
func (s *Subscription) Ack(sequence uint64) error {
	if s == nil || s.stream == nil {
		return errors.New("subscription closed")
	}
	return s.stream.ack(s.id, sequence)
}

// Close marks the subscription as inactive while preserving acknowledgement state.
func (s *Subscription) Close() {
	if s == nil || s.stream == nil {
		return
	}
	s.once.Do(func() {
		s.stream.deactivateSubscriber(s.id, s.events)
	})
}

// Release closes the subscription and forgets the subscriber entirely. Transient
// clients that never reconnect use it so their pending lists do not accumulate.
func (s *Subscription) Release() {
	if s == nil || s.stream == nil {
		return
	}
	s.Close()
	s.stream.forget(s.id)
}

func (s *Stream) ensureSubscriberLocked(subscriberID string) *subscriberState {
	state, ok := s.subscribers[subscriberID]
	if !ok {
		state = &subscriberState{id: subscriberID}
		s.subscribers[subscriberID] = state
	}
	return state
}

func (s *Stream) collectReplayLocked(state *subscriberState) []uint64 {
	//1.- When a subscriber reconnects we must replay any sequence greater than lastAck.
	replay := make([]uint64, 0, len(s.logOrder))
	for _, seq := range s.logOrder {
		if seq <= state.lastAck {
			continue
		}
		replay = append(replay, seq)
	}
	return replay
}

func (s *Stream) prepareDeliveriesLocked(sequences []uint64) []*Envelope {
	deliveries := make([]*Envelope, 0, len(sequences))
	for _, seq := range sequences {
		if payload, ok := s.logPayloads[seq]; ok {
			deliveries = append(deliveries, payload.Clone())
		}
	}
	return deliveries
}

// Publish converts the payload into a Struct and enqueues it for delivery.
func (s *Stream) Publish(kind Kind, tick uint64, payload map[string]any) (uint64, error) {
	if s == nil {
		return 0, errors.New("nil stream")
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	message, err := structpb.NewStruct(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return s.publishEnvelope(&Envelope{Kind: kind, Tick: tick, Payload: message})
}

// Latest returns up to n of the most recent retained envelopes, oldest first.
func (s *Stream) Latest(n int) []*Envelope {
	if s == nil || n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.logOrder) - n
	if start < 0 {
		start = 0
	}
	return s.prepareDeliveriesLocked(s.logOrder[start:])
}

// LastSequence reports the most recently assigned sequence number.
func (s *Stream) LastSequence() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

func (s *Stream) publishEnvelope(envelope *Envelope) (uint64, error) {
	if envelope == nil {
		return 0, errors.New("envelope required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	seq := s.nextSeq
	envelope.Sequence = seq
	envelope.OccurredAt = s.now()
	s.logPayloads[seq] = envelope
	s.logOrder = append(s.logOrder, seq)

	for _, state := range s.subscribers {
		state.pending = append(state.pending, seq)
		if !state.active || state.ch == nil {
			continue
		}
		//1.- Never block the publisher on a slow subscriber; the event stays pending for replay.
		select {
		case state.ch <- envelope.Clone():
		default:
		}
	}
	s.enforceRetentionLocked()
	return seq, nil
}

func (s *Stream) enforceRetentionLocked() {
	if len(s.logOrder) <= s.retention {
		return
	}
	//1.- The log is a hard cap; unacknowledged events older than the window are lost.
	pruneBefore := s.logOrder[len(s.logOrder)-s.retention-1]
	idx := sort.Search(len(s.logOrder), func(i int) bool { return s.logOrder[i] > pruneBefore })
	for _, seq := range s.logOrder[:idx] {
		delete(s.logPayloads, seq)
	}
	s.logOrder = append([]uint64(nil), s.logOrder[idx:]...)
	//2.- Drop pruned sequences from pending lists so acknowledgements can resume.
	for _, state := range s.subscribers {
		keep := sort.Search(len(state.pending), func(i int) bool { return state.pending[i] > pruneBefore })
		if keep > 0 {
			state.pending = append([]uint64(nil), state.pending[keep:]...)
			if pruneBefore > state.lastAck {
				state.lastAck = pruneBefore
			}
		}
	}
}

func (s *Stream) ack(subscriberID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("unknown subscriber %q", subscriberID)
	}
	if len(state.pending) == 0 {
		if sequence <= state.lastAck {
			return nil
		}
		return ErrOutOfOrderAck
	}
	expected := state.pending[0]
	if sequence != expected {
		return ErrOutOfOrderAck
	}
	state.pending = state.pending[1:]
	state.lastAck = sequence
	s.enforceRetentionLocked()
	return nil
}

func (s *Stream) deactivateSubscriber(subscriberID string, events <-chan *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok || state.ch == nil || (<-chan *Envelope)(state.ch) != events {
		return
	}
	state.active = false
	close(state.ch)
	state.ch = nil
}

func (s *Stream) forget(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.subscribers[subscriberID]; ok && state.ch == nil {
		delete(s.subscribers, subscriberID)
	}
}

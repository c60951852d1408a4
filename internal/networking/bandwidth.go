// Package networking meters outbound telemetry per websocket client so a slow
// link sheds frames instead of queueing an ever-growing backlog.
package networking

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultBytesPerSecond lets a 60 Hz frame stream of roughly 1 KiB messages through
// with headroom for event envelopes.
const DefaultBytesPerSecond = 96 * 1024.0

// Usage captures the metering state for a single client.
type Usage struct {
	ClientID       string    `json:"client_id"`
	AvailableBytes float64   `json:"available_bytes"`
	BytesPerSecond float64   `json:"bytes_per_second"`
	Delivered      int64     `json:"delivered"`
	Shed           int64     `json:"shed"`
	Since          time.Time `json:"since"`
}

type bucket struct {
	tokens    float64
	last      time.Time
	since     time.Time
	sent      int64
	delivered int64
	shed      int64
}

// Regulator enforces a token-bucket byte budget per client. Buckets start full
// so a fresh connection can receive its initial state burst at once.
type Regulator struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewRegulator constructs a regulator refilling at bytesPerSecond. The burst
// capacity equals one second of traffic.
func NewRegulator(bytesPerSecond float64, clock func() time.Time) *Regulator {
	if !(bytesPerSecond > 0) {
		bytesPerSecond = DefaultBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &Regulator{
		buckets:  make(map[string]*bucket),
		capacity: bytesPerSecond,
		refill:   bytesPerSecond,
		now:      clock,
	}
}

func (r *Regulator) replenish(b *bucket, now time.Time) {
	//1.- Ignore clock steps backwards.
	if !now.After(b.last) {
		return
	}
	b.tokens = math.Min(r.capacity, b.tokens+now.Sub(b.last).Seconds()*r.refill)
	b.last = now
}

// Allow charges size bytes against the client's budget and reports whether the
// message may be sent. Refusals are counted as shed messages.
func (r *Regulator) Allow(clientID string, size int) bool {
	if r == nil || clientID == "" || size <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b := r.buckets[clientID]
	if b == nil {
		b = &bucket{tokens: r.capacity, last: now, since: now}
		r.buckets[clientID] = b
	}
	r.replenish(b, now)
	if float64(size) > b.tokens {
		b.shed++
		return false
	}
	b.tokens -= float64(size)
	b.sent += int64(size)
	b.delivered++
	return true
}

// Forget removes the bucket of a disconnected client.
func (r *Regulator) Forget(clientID string) {
	if r == nil || clientID == "" {
		return
	}
	r.mu.Lock()
	delete(r.buckets, clientID)
	r.mu.Unlock()
}

// Snapshot reports the metering state of every connected client, ordered by id.
func (r *Regulator) Snapshot() []Usage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buckets) == 0 {
		return nil
	}
	now := r.now()
	usage := make([]Usage, 0, len(r.buckets))
	for clientID, b := range r.buckets {
		r.replenish(b, now)
		rate := 0.0
		if observed := now.Sub(b.since).Seconds(); observed > 0 {
			rate = float64(b.sent) / observed
		}
		usage = append(usage, Usage{
			ClientID:       clientID,
			AvailableBytes: math.Max(b.tokens, 0),
			BytesPerSecond: rate,
			Delivered:      b.delivered,
			Shed:           b.shed,
			Since:          b.since,
		})
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].ClientID < usage[j].ClientID })
	return usage
}

// TotalShed sums shed messages across connected clients.
func (r *Regulator) TotalShed() int64 {
	var total int64
	for _, u := range r.Snapshot() {
		total += u.Shed
	}
	return total
}

package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DumpThrottle bounds recording flushes per caller. Every remote host may
// request at most burst dumps in any window; one busy operator cannot starve
// another.
type DumpThrottle struct {
	window time.Duration
	burst  int
	now    func() time.Time

	mu      sync.Mutex
	callers map[string][]time.Time
}

// NewDumpThrottle builds a throttle. A non-positive window or burst disables it.
func NewDumpThrottle(window time.Duration, burst int, clock func() time.Time) *DumpThrottle {
	if clock == nil {
		clock = time.Now
	}
	return &DumpThrottle{window: window, burst: burst, now: clock, callers: make(map[string][]time.Time)}
}

// Allow records a dump request from caller. When it is denied the duration says
// how long until the caller's oldest request leaves the window.
func (t *DumpThrottle) Allow(caller string) (bool, time.Duration) {
	if t == nil || t.window <= 0 || t.burst <= 0 {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)
	//1.- Age out every caller so hosts that went quiet do not pin memory.
	for key, stamps := range t.callers {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(t.callers, key)
			continue
		}
		t.callers[key] = kept
	}

	stamps := t.callers[caller]
	if len(stamps) >= t.burst {
		return false, stamps[0].Add(t.window).Sub(now)
	}
	t.callers[caller] = append(stamps, now)
	return true, 0
}

// Callers reports how many hosts currently have requests inside the window.
func (t *DumpThrottle) Callers() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.callers)
}

// callerKey identifies the requesting host, ignoring the ephemeral port.
func callerKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

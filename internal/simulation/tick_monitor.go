package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed lab tick durations.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	// Late counts ticks whose work exceeded the frame budget.
	Late int
}

// AverageFPS derives the frames-per-second equivalent of the sampled tick duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the lab loop.
type TickMonitor struct {
	mu      sync.Mutex
	budget  time.Duration
	samples int
	late    int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewTickMonitor constructs an empty monitor. Ticks slower than budget are
// counted as late; a zero budget disables the count.
func NewTickMonitor(budget time.Duration) *TickMonitor {
	return &TickMonitor{budget: budget}
}

// Observe records the duration of a completed tick.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	if m.budget > 0 && duration > m.budget {
		m.late++
	}
	m.last = duration
}

// Snapshot returns a copy of the aggregated tick statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	snapshot := TickMetricsSnapshot{Samples: m.samples, Max: m.max, Last: m.last, Late: m.late}
	total := m.total
	m.mu.Unlock()

	if snapshot.Samples > 0 {
		snapshot.Average = total / time.Duration(snapshot.Samples)
	}
	return snapshot
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.late = 0, 0
	m.total, m.max, m.last = 0, 0, 0
	m.mu.Unlock()
}

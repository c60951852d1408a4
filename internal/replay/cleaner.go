package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"projectilelab/server/internal/logging"
)

// defaultLiveGrace protects a bundle whose header has not been written yet.
// The writer only emits header.json on Close, so a fresh headerless bundle is
// most likely a flight that is still in the air.
const defaultLiveGrace = 10 * time.Minute

// incompleteOutcome labels bundles whose header is missing or unreadable.
const incompleteOutcome = "incomplete"

// RetentionPolicy decides which flight recordings stay on disk.
//
// MaxRecordings caps the bundle count. When the cap bites, recordings are
// ranked by how they ended: flights that reached the ground are kept over
// missed ones, those over reset or abandoned flights, and bundles without a
// readable header go first. Ties keep the newest. MaxAge drops any recording
// older than the limit regardless of rank.
type RetentionPolicy struct {
	MaxRecordings int
	MaxAge        time.Duration
	LiveGrace     time.Duration
}

// StorageStats summarises the recordings left after the last sweep.
type StorageStats struct {
	Recordings int            `json:"recordings"`
	Frames     int            `json:"frames"`
	Bytes      int64          `json:"bytes"`
	Outcomes   map[string]int `json:"outcomes,omitempty"`
	Live       int            `json:"live"`
	Removed    int            `json:"removed"`
	LastSweep  time.Time      `json:"last_sweep"`
}

// Cleaner periodically prunes flight recordings according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided recording directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	if policy.LiveGrace <= 0 {
		policy.LiveGrace = defaultLiveGrace
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	if c.stats.Outcomes != nil {
		stats.Outcomes = make(map[string]int, len(c.stats.Outcomes))
		for outcome, n := range c.stats.Outcomes {
			stats.Outcomes[outcome] = n
		}
	}
	return stats
}

// bundle is one recording directory with what its header says about it.
type bundle struct {
	name    string
	path    string
	size    int64
	modTime time.Time
	frames  int
	outcome string
	live    bool
}

// rank orders bundles for the count cap; lower ranks are kept first.
func (b bundle) rank() int {
	switch b.outcome {
	case "landed":
		return 0
	case "missed":
		return 1
	case incompleteOutcome:
		return 3
	default:
		return 2
	}
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("recording retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	now := c.now()
	bundles := c.collect(entries, now)
	stats := StorageStats{LastSweep: now, Outcomes: make(map[string]int)}
	kept := 0
	for _, b := range bundles {
		//1.- A flight still being written is neither counted against the cap nor removed.
		if b.live {
			stats.Live++
			stats.Bytes += b.size
			continue
		}
		if reason := c.removalReason(b, now, kept); reason != "" {
			if err := os.RemoveAll(b.path); err != nil {
				c.log.Warn("recording retention removal failed", logging.Error(err), logging.String("recording", b.name))
			} else {
				stats.Removed++
				c.log.Info("recording retention removed bundle",
					logging.String("recording", b.name),
					logging.String("outcome", b.outcome),
					logging.String("reason", reason))
				continue
			}
		}
		kept++
		stats.Recordings++
		stats.Frames += b.frames
		stats.Bytes += b.size
		stats.Outcomes[b.outcome]++
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect reads every bundle header and returns the bundles in keep order.
func (c *Cleaner) collect(entries []os.DirEntry, now time.Time) []bundle {
	bundles := make([]bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("recording retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, latest, err := bundleFootprint(path)
		if err != nil {
			c.log.Warn("recording retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		b := bundle{name: entry.Name(), path: path, size: size, modTime: latest}
		header, err := ReadHeader(filepath.Join(path, headerFile))
		switch {
		case err == nil:
			b.frames = header.Frames
			b.outcome = header.Outcome
			if b.outcome == "" {
				b.outcome = "unknown"
			}
		case now.Sub(latest) < c.policy.LiveGrace:
			b.outcome = incompleteOutcome
			b.live = true
		default:
			b.outcome = incompleteOutcome
		}
		bundles = append(bundles, b)
	}
	sort.SliceStable(bundles, func(i, j int) bool {
		if ri, rj := bundles[i].rank(), bundles[j].rank(); ri != rj {
			return ri < rj
		}
		return bundles[i].modTime.After(bundles[j].modTime)
	})
	return bundles
}

func (c *Cleaner) removalReason(b bundle, now time.Time, kept int) string {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxRecordings > 0 && kept >= c.policy.MaxRecordings {
		reasons = append(reasons, fmt.Sprintf(">=%d recordings", c.policy.MaxRecordings))
	}
	return strings.Join(reasons, ", ")
}

// bundleFootprint sums file sizes under root and reports the newest file time.
func bundleFootprint(root string) (int64, time.Time, error) {
	var total int64
	var latest time.Time
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return total, latest, walkErr
}

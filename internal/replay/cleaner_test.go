package replay

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"projectilelab/server/internal/logging"
)

func TestCleanerEnforcesMaxRecordings(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	//1.- Three landed flights of equal rank: the cap keeps the newest two.
	writeBundle(t, tmp, "alpha-20240715T090000Z", now.Add(-3*time.Hour), 64, &Header{Outcome: "landed", Frames: 10})
	writeBundle(t, tmp, "bravo-20240715T100000Z", now.Add(-2*time.Hour), 32, &Header{Outcome: "landed", Frames: 20})
	writeBundle(t, tmp, "charlie-20240715T110000Z", now.Add(-time.Hour), 48, &Header{Outcome: "landed", Frames: 30})

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxRecordings: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listEntries(t, tmp)
	if len(remaining) != 2 || remaining[0] != "bravo-20240715T100000Z" || remaining[1] != "charlie-20240715T110000Z" {
		t.Fatalf("unexpected retained recordings: %v", remaining)
	}
	stats := cleaner.Stats()
	if stats.Recordings != 2 || stats.Frames != 50 || stats.Removed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Bytes != 32+48+headerSize(t, tmp, "bravo-20240715T100000Z")+headerSize(t, tmp, "charlie-20240715T110000Z") {
		t.Fatalf("unexpected byte total %d", stats.Bytes)
	}
	if stats.LastSweep.IsZero() {
		t.Fatalf("expected last sweep timestamp to be recorded")
	}
}

func TestCleanerRanksByOutcome(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	//1.- The oldest bundle is the only landed flight; newer ones ended worse.
	writeBundle(t, tmp, "landed-old", now.Add(-5*time.Hour), 8, &Header{Outcome: "landed", Frames: 90})
	writeBundle(t, tmp, "missed", now.Add(-4*time.Hour), 8, &Header{Outcome: "missed", Frames: 40})
	writeBundle(t, tmp, "reset", now.Add(-2*time.Hour), 8, &Header{Outcome: "reset", Frames: 5})
	writeBundle(t, tmp, "broken", now.Add(-time.Hour), 8, nil)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxRecordings: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	if got, want := listEntries(t, tmp), []string{"landed-old", "missed"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("retained %v, want %v", got, want)
	}
	stats := cleaner.Stats()
	if want := map[string]int{"landed": 1, "missed": 1}; !reflect.DeepEqual(stats.Outcomes, want) {
		t.Fatalf("outcomes %v, want %v", stats.Outcomes, want)
	}
	if stats.Removed != 2 || stats.Frames != 130 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCleanerLeavesFlightsInProgress(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	writeBundle(t, tmp, "done", now.Add(-time.Hour), 8, &Header{Outcome: "missed", Frames: 12})
	//1.- No header yet and touched a minute ago: the recorder is still writing it.
	writeBundle(t, tmp, "writing", now.Add(-time.Minute), 8, nil)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxRecordings: 1}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	if got, want := listEntries(t, tmp), []string{"done", "writing"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("retained %v, want %v", got, want)
	}
	stats := cleaner.Stats()
	if stats.Recordings != 1 || stats.Live != 1 || stats.Removed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	writeBundle(t, tmp, "delta-20240714T080000Z", now.Add(-48*time.Hour), 16, &Header{Outcome: "landed"})
	writeBundle(t, tmp, "echo-20240716T070000Z", now.Add(-time.Hour), 5, &Header{Outcome: "reset"})
	//1.- Stray files beside the bundles are not recordings and stay put.
	stray := filepath.Join(tmp, "notes.txt")
	if err := os.WriteFile(stray, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxAge: 36 * time.Hour, MaxRecordings: 5}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	if got, want := listEntries(t, tmp), []string{"echo-20240716T070000Z", "notes.txt"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("retained %v, want %v", got, want)
	}
}

func TestCleanerStatsAreACopy(t *testing.T) {
	tmp := t.TempDir()
	writeBundle(t, tmp, "one", time.Now().Add(-time.Hour), 4, &Header{Outcome: "landed"})
	cleaner := NewCleaner(tmp, RetentionPolicy{}, logging.NewTestLogger())
	cleaner.RunOnce()

	stats := cleaner.Stats()
	stats.Outcomes["landed"] = 99
	if got := cleaner.Stats().Outcomes["landed"]; got != 1 {
		t.Fatalf("stats outcomes leaked a mutation: %d", got)
	}
}

func TestCleanerRunStopsWithContext(t *testing.T) {
	cleaner := NewCleaner(t.TempDir(), RetentionPolicy{MaxRecordings: 1}, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cleaner.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("cleaner did not stop after cancellation")
	}
	if cleaner.Stats().LastSweep.IsZero() {
		t.Fatalf("expected an eager sweep on start")
	}
}

// writeBundle lays out a recording directory. A nil header leaves the bundle
// without header.json, as the writer does until Close.
func writeBundle(t *testing.T, dir, name string, mod time.Time, payload int, header *Header) {
	t.Helper()
	bundle := filepath.Join(dir, name)
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bundle, framesFile), make([]byte, payload), 0o644); err != nil {
		t.Fatalf("WriteFile frames: %v", err)
	}
	if header != nil {
		h := *header
		h.SchemaVersion = HeaderSchemaVersion
		h.FilePointer = manifestFile
		if err := WriteHeader(filepath.Join(bundle, headerFile), h); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
	}
	entries, err := os.ReadDir(bundle)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if err := os.Chtimes(filepath.Join(bundle, entry.Name()), mod, mod); err != nil {
			t.Fatalf("Chtimes %s: %v", entry.Name(), err)
		}
	}
	if err := os.Chtimes(bundle, mod, mod); err != nil {
		t.Fatalf("Chtimes dir %s: %v", name, err)
	}
}

func headerSize(t *testing.T, dir, name string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(dir, name, headerFile))
	if err != nil {
		t.Fatalf("Stat header: %v", err)
	}
	return info.Size()
}

func listEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

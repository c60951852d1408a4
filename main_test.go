package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"projectilelab/server/internal/lab"
)

type fakeStats struct {
	stats ServerStats
	mu    sync.Mutex
	calls int
}

func (f *fakeStats) Stats() ServerStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stats
}

func TestStatsHandlerReturnsJSON(t *testing.T) {
	fake := &fakeStats{stats: ServerStats{
		Session: "abc",
		Lab:     lab.Stats{Frames: 120, Flights: 2, TargetHits: 1},
		Hub:     HubStats{Clients: 2, MessagesSent: 40},
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rr := httptest.NewRecorder()

	statsHandler(fake).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: got %q", ct)
	}

	var resp ServerStats
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Session != "abc" || resp.Lab.Frames != 120 || resp.Hub.Clients != 2 || resp.Hub.MessagesSent != 40 {
		t.Fatalf("unexpected stats: got %+v", resp)
	}
	if resp.Recorder != nil || resp.Storage != nil {
		t.Fatalf("recording stats should be omitted when recording is off: %+v", resp)
	}
	if fake.calls != 1 {
		t.Fatalf("expected Stats to be called once, got %d", fake.calls)
	}
}

func TestStatsHandlerRejectsWrites(t *testing.T) {
	fake := &fakeStats{}
	rr := httptest.NewRecorder()
	statsHandler(fake).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/stats", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if fake.calls != 0 {
		t.Fatalf("stats should not be gathered for rejected requests")
	}
}

func TestServerReadinessAndStats(t *testing.T) {
	session, err := lab.New(lab.Config{Seed: 9}, lab.WithSessionID("ready"))
	if err != nil {
		t.Fatalf("new lab: %v", err)
	}
	defer session.Close()

	server := &Server{startedAt: time.Now().Add(-time.Minute), session: session}
	if clients, pending := server.SnapshotClientCounts(); clients != 0 || pending != 0 {
		t.Fatalf("expected no clients without a hub, got %d/%d", clients, pending)
	}
	if server.Uptime() < time.Minute {
		t.Fatalf("uptime should count from startedAt")
	}

	//1.- Only the first startup failure is kept.
	server.setStartupError(errors.New("bind failed"))
	server.setStartupError(errors.New("later"))
	if err := server.StartupError(); err == nil || err.Error() != "bind failed" {
		t.Fatalf("unexpected startup error %v", err)
	}

	stats := server.Stats()
	if stats.Session != "ready" || stats.Recorder != nil || stats.Storage != nil {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestControlDocsEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	registerControlDocEndpoints(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/controls", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var docs []ControlDoc
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode docs: %v", err)
	}
	if len(docs) != len(defaultControlDocs) {
		t.Fatalf("expected %d docs, got %d", len(defaultControlDocs), len(docs))
	}
	known := make(map[string]bool)
	for _, name := range lab.CommandNames() {
		known[name] = true
	}
	for i, doc := range docs {
		if i > 0 && docs[i-1].Label > doc.Label {
			t.Fatalf("docs not sorted by label: %q before %q", docs[i-1].Label, doc.Label)
		}
		if !known[doc.Command] {
			t.Fatalf("control %q references unknown command %q", doc.ID, doc.Command)
		}
	}
	var wind *ControlDoc
	for i := range docs {
		if docs[i].ID == "wind" {
			wind = &docs[i]
		}
	}
	if wind == nil || wind.Range == nil || wind.Range.Min != -10 || wind.Range.Max != 10 {
		t.Fatalf("unexpected wind control %+v", wind)
	}
}

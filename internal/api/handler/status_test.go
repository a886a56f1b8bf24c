package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pitwall-labs/danksky/internal/repository"
	"github.com/pitwall-labs/danksky/internal/service"
)

type fakeHistory struct {
	entries []repository.HistoryEntry
	err     error
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]repository.HistoryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeHistory) Count(ctx context.Context) (int, error) {
	return len(f.entries), f.err
}

type fakeRunner struct {
	mu    sync.Mutex
	stats *service.CycleStats
	runs  int
}

func (f *fakeRunner) LastStats() *service.CycleStats { return f.stats }

func (f *fakeRunner) RunNow(ctx context.Context) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func newTestHandler(history *fakeHistory, runner *fakeRunner) *StatusHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStatusHandler(history, runner, "test", logger)
}

func TestLive(t *testing.T) {
	h := newTestHandler(&fakeHistory{}, &fakeRunner{})

	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestReady_HistoryDown(t *testing.T) {
	h := newTestHandler(&fakeHistory{err: errors.New("db gone")}, &fakeRunner{})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStats_IncludesLastCycle(t *testing.T) {
	runner := &fakeRunner{stats: &service.CycleStats{
		RunID:     "run-1",
		Seen:      10,
		Published: 3,
	}}
	h := newTestHandler(&fakeHistory{entries: make([]repository.HistoryEntry, 7)}, runner)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalPublished != 7 {
		t.Errorf("TotalPublished = %d, want 7", resp.TotalPublished)
	}
	if resp.LastCycle == nil || resp.LastCycle.RunID != "run-1" {
		t.Errorf("LastCycle = %+v", resp.LastCycle)
	}
}

func TestHistory(t *testing.T) {
	history := &fakeHistory{entries: []repository.HistoryEntry{
		{
			PostID:       "t3_abc",
			Title:        "Nice pass!",
			Author:       "alice",
			RootURI:      "at://x/1",
			PostsCreated: 2,
			PublishedAt:  time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}}
	h := newTestHandler(history, &fakeRunner{})

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || resp.Items[0].PostID != "t3_abc" {
		t.Errorf("items = %+v", resp.Items)
	}
}

func TestSync_Accepted(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestHandler(&fakeHistory{}, runner)

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runner.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background cycle never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitwall-labs/danksky/internal/api/handler"
	"github.com/pitwall-labs/danksky/internal/repository"
	"github.com/pitwall-labs/danksky/internal/service"
)

type stubHistory struct{}

func (stubHistory) Recent(ctx context.Context, limit int) ([]repository.HistoryEntry, error) {
	return nil, nil
}
func (stubHistory) Count(ctx context.Context) (int, error) { return 0, nil }

type stubRunner struct{}

func (stubRunner) LastStats() *service.CycleStats   { return nil }
func (stubRunner) RunNow(ctx context.Context) error { return nil }

func TestRouterRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewStatusHandler(stubHistory{}, stubRunner{}, "test", logger)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/api/v1/stats", http.StatusOK},
		{http.MethodGet, "/api/v1/history", http.StatusOK},
		{http.MethodPost, "/api/v1/sync", http.StatusAccepted},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

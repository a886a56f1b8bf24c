// Package handler implements the status API endpoints.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/pitwall-labs/danksky/internal/repository"
	"github.com/pitwall-labs/danksky/internal/service"
)

var startTime = time.Now()

// HistoryStore exposes the publish history to the API.
type HistoryStore interface {
	Recent(ctx context.Context, limit int) ([]repository.HistoryEntry, error)
	Count(ctx context.Context) (int, error)
}

// CycleRunner reports on and triggers sync cycles.
type CycleRunner interface {
	LastStats() *service.CycleStats
	RunNow(ctx context.Context) error
}

// StatusHandler serves health and operational status endpoints.
type StatusHandler struct {
	history HistoryStore
	runner  CycleRunner
	version string
	logger  *slog.Logger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(history HistoryStore, runner CycleRunner, version string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		history: history,
		runner:  runner,
		version: version,
		logger:  logger,
	}
}

// HealthResponse is the JSON body for health probes.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Live handles GET /health.
func (h *StatusHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. It verifies the history database answers.
func (h *StatusHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.history.Count(ctx); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// StatsResponse summarizes the process and the last sync cycle.
type StatsResponse struct {
	Uptime         int64               `json:"uptime_seconds"`
	UptimeHuman    string              `json:"uptime_human"`
	MemAllocMB     int64               `json:"mem_alloc_mb"`
	NumGoroutines  int                 `json:"num_goroutines"`
	TotalPublished int                 `json:"total_published"`
	LastCycle      *service.CycleStats `json:"last_cycle,omitempty"`
}

// Stats handles GET /api/v1/stats.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	total, err := h.history.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count history", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	uptime := time.Since(startTime)
	writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:         int64(uptime.Seconds()),
		UptimeHuman:    formatUptime(uptime),
		MemAllocMB:     int64(m.Alloc / 1024 / 1024),
		NumGoroutines:  runtime.NumGoroutine(),
		TotalPublished: total,
		LastCycle:      h.runner.LastStats(),
	})
}

// HistoryResponse is the JSON body for the history listing.
type HistoryResponse struct {
	Items []HistoryItem `json:"items"`
}

// HistoryItem is one published post in the listing.
type HistoryItem struct {
	PostID       string    `json:"post_id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	RootURI      string    `json:"root_uri"`
	PostsCreated int       `json:"posts_created"`
	MediaSkipped int       `json:"media_skipped"`
	PublishedAt  time.Time `json:"published_at"`
}

// History handles GET /api/v1/history.
func (h *StatusHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.Recent(r.Context(), 50)
	if err != nil {
		h.logger.Error("failed to list history", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	resp := HistoryResponse{Items: make([]HistoryItem, 0, len(entries))}
	for _, e := range entries {
		resp.Items = append(resp.Items, HistoryItem{
			PostID:       e.PostID.String(),
			Title:        e.Title,
			Author:       e.Author,
			RootURI:      e.RootURI,
			PostsCreated: e.PostsCreated,
			MediaSkipped: e.MediaSkipped,
			PublishedAt:  e.PublishedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sync handles POST /api/v1/sync and triggers an immediate cycle in
// the background. It returns 202 right away; a cycle already in
// flight absorbs the request.
func (h *StatusHandler) Sync(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := h.runner.RunNow(context.Background()); err != nil {
			h.logger.Error("manual sync failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// Package service orchestrates the repost pipeline: poll the source
// feed, skip what was already published, download and normalize
// media, publish the rest, and record the outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitwall-labs/danksky/internal/config"
	"github.com/pitwall-labs/danksky/internal/domain"
	"github.com/pitwall-labs/danksky/internal/publisher"
	"github.com/pitwall-labs/danksky/internal/repository"
)

// Feed lists recent posts from the source platform.
type Feed interface {
	RecentPosts(ctx context.Context) ([]domain.SourcePost, error)
}

// MediaFetcher downloads one media reference to a local path.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref domain.MediaRef, destPath string) error
}

// ThreadPublisher posts downloaded media as a thread.
type ThreadPublisher interface {
	Publish(ctx context.Context, post domain.SourcePost, files []string) (publisher.Result, error)
}

// Dedup tracks which source posts were already published.
type Dedup interface {
	Contains(id domain.PostID) bool
	Add(id domain.PostID) error
}

// History records published items for the status API.
type History interface {
	Record(ctx context.Context, entry repository.HistoryEntry) error
}

// CycleStats summarizes one sync cycle.
type CycleStats struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Seen         int       `json:"seen"`
	Skipped      int       `json:"skipped"`
	Published    int       `json:"published"`
	Failed       int       `json:"failed"`
	MediaSkipped int       `json:"media_skipped"`
}

// SyncService runs the poll-download-publish cycle.
type SyncService struct {
	feed      Feed
	fetcher   MediaFetcher
	publisher ThreadPublisher
	ledger    Dedup
	history   History
	reddit    config.RedditConfig
	storage   config.StorageConfig
	logger    *slog.Logger

	mu   sync.RWMutex
	last *CycleStats
	now  func() time.Time
}

// NewSyncService creates the orchestrator.
func NewSyncService(
	feed Feed,
	fetcher MediaFetcher,
	pub ThreadPublisher,
	ledger Dedup,
	history History,
	redditCfg config.RedditConfig,
	storageCfg config.StorageConfig,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		feed:      feed,
		fetcher:   fetcher,
		publisher: pub,
		ledger:    ledger,
		history:   history,
		reddit:    redditCfg,
		storage:   storageCfg,
		logger:    logger,
		now:       time.Now,
	}
}

// LastStats returns the stats of the most recently completed cycle,
// or nil if no cycle has run yet.
func (s *SyncService) LastStats() *CycleStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	stats := *s.last
	return &stats
}

// RunCycle executes one full sync pass. Per-post failures are counted
// and logged but do not abort the cycle; a ledger write failure does,
// because continuing without dedup risks double-posting.
func (s *SyncService) RunCycle(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{
		RunID:     uuid.New().String(),
		StartedAt: s.now(),
	}
	logger := s.logger.With("run_id", stats.RunID)
	logger.Info("starting sync cycle", "subreddit", s.reddit.Subreddit)

	posts, err := s.feed.RecentPosts(ctx)
	if err != nil {
		stats.FinishedAt = s.now()
		s.storeStats(stats)
		return stats, fmt.Errorf("list recent posts: %w", err)
	}
	stats.Seen = len(posts)

	cutoff := s.now().Add(-s.reddit.RecencyWindow)

	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			stats.FinishedAt = s.now()
			s.storeStats(stats)
			return stats, err
		}

		if s.ledger.Contains(post.ID) {
			stats.Skipped++
			continue
		}
		if post.CreatedAt.Before(cutoff) {
			logger.Debug("post outside recency window", "post_id", post.ID, "created_at", post.CreatedAt)
			stats.Skipped++
			continue
		}
		if !post.HasMedia() {
			logger.Debug("post has no usable media", "post_id", post.ID)
			stats.Skipped++
			continue
		}

		result, err := s.processPost(ctx, logger, post)
		if err != nil {
			if errors.Is(err, domain.ErrLedgerWrite) {
				stats.Failed++
				stats.FinishedAt = s.now()
				s.storeStats(stats)
				return stats, err
			}
			logger.Error("failed to publish post", "post_id", post.ID, "error", err)
			stats.Failed++
			continue
		}

		stats.Published++
		stats.MediaSkipped += result.MediaSkipped
	}

	stats.FinishedAt = s.now()
	s.storeStats(stats)
	logger.Info("sync cycle finished",
		"seen", stats.Seen,
		"skipped", stats.Skipped,
		"published", stats.Published,
		"failed", stats.Failed,
	)
	return stats, nil
}

// processPost downloads the post's media into a per-post scratch
// directory, publishes it, and marks the post published. The scratch
// directory is removed on every path.
func (s *SyncService) processPost(ctx context.Context, logger *slog.Logger, post domain.SourcePost) (publisher.Result, error) {
	scratch := filepath.Join(s.storage.ScratchPath, uuid.New().String())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return publisher.Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("failed to clean scratch dir", "path", scratch, "error", err)
		}
	}()

	var files []string
	for i, ref := range post.Media {
		name := fmt.Sprintf("temp_%s_%d%s", post.ID, i, filepath.Ext(domain.BaseFilename(ref.URL)))
		dest := filepath.Join(scratch, name)

		if err := s.fetcher.Fetch(ctx, ref, dest); err != nil {
			logger.Error("failed to download media", "post_id", post.ID, "url", ref.URL, "error", err)
			continue
		}
		files = append(files, dest)
	}

	if len(files) == 0 {
		return publisher.Result{}, domain.NewPostError(post.ID, "download", domain.ErrFetchFailed)
	}

	result, err := s.publisher.Publish(ctx, post, files)
	if err != nil {
		return result, err
	}

	// Mark published before anything else can fail. Losing the
	// history row is tolerable; reposting is not.
	if err := s.ledger.Add(post.ID); err != nil {
		return result, err
	}

	if s.history != nil {
		entry := repository.HistoryEntry{
			PostID:       post.ID,
			Title:        post.Title,
			Author:       post.Author,
			RootURI:      result.RootURI,
			PostsCreated: result.PostsCreated,
			MediaSkipped: result.MediaSkipped,
			PublishedAt:  s.now(),
		}
		if err := s.history.Record(ctx, entry); err != nil {
			logger.Warn("failed to record history", "post_id", post.ID, "error", err)
		}
	}

	logger.Info("published post",
		"post_id", post.ID,
		"root_uri", result.RootURI,
		"posts", result.PostsCreated,
		"media_skipped", result.MediaSkipped,
	)
	return result, nil
}

func (s *SyncService) storeStats(stats CycleStats) {
	s.mu.Lock()
	s.last = &stats
	s.mu.Unlock()
}

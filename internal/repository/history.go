// Package repository persists the publish history to SQLite for the
// status API. The ledger remains the source of truth for dedup; this
// store exists so operators can see what was posted and when.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pitwall-labs/danksky/internal/domain"
)

// HistoryEntry is one published source post.
type HistoryEntry struct {
	PostID       domain.PostID
	Title        string
	Author       string
	RootURI      string
	PostsCreated int
	MediaSkipped int
	PublishedAt  time.Time
}

// HistoryRepository stores publish history in SQLite.
type HistoryRepository struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string) (*HistoryRepository, error) {
	if path == "" {
		return nil, errors.New("history path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &HistoryRepository{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS published_items (
			post_id       TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			author        TEXT NOT NULL,
			root_uri      TEXT NOT NULL,
			posts_created INTEGER NOT NULL,
			media_skipped INTEGER NOT NULL,
			published_at  TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *HistoryRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record saves one published item, replacing any previous row for the
// same source post.
func (r *HistoryRepository) Record(ctx context.Context, entry HistoryEntry) error {
	if entry.PostID == "" {
		return errors.New("post_id is required")
	}
	if entry.PublishedAt.IsZero() {
		entry.PublishedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO published_items (
			post_id, title, author, root_uri, posts_created, media_skipped, published_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			root_uri = excluded.root_uri,
			posts_created = excluded.posts_created,
			media_skipped = excluded.media_skipped,
			published_at = excluded.published_at
	`,
		string(entry.PostID),
		entry.Title,
		entry.Author,
		entry.RootURI,
		entry.PostsCreated,
		entry.MediaSkipped,
		formatTime(entry.PublishedAt),
	)
	if err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	return nil
}

// Recent returns the most recently published items, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT post_id, title, author, root_uri, posts_created, media_skipped, published_at
		FROM published_items
		ORDER BY published_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry       HistoryEntry
			id          string
			publishedAt string
		)
		if err := rows.Scan(
			&id,
			&entry.Title,
			&entry.Author,
			&entry.RootURI,
			&entry.PostsCreated,
			&entry.MediaSkipped,
			&publishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.PostID = domain.PostID(id)
		entry.PublishedAt, err = parseTime(publishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse published_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent: %w", err)
	}

	return entries, nil
}

// Count returns the total number of published items.
func (r *HistoryRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM published_items").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count published: %w", err)
	}
	return count, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

// Package ledger persists the set of already-published post IDs so a
// post is delivered at most once across process restarts.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pitwall-labs/danksky/internal/domain"
)

// Ledger is a persistent set of post IDs backed by a JSON file. It is
// not safe for concurrent use; the sync cycle is the only writer.
type Ledger struct {
	path   string
	ids    []domain.PostID
	seen   map[domain.PostID]struct{}
	logger *slog.Logger
}

// Open loads the ledger at path. A missing file yields an empty
// ledger; a corrupt file is an error so a bad deploy cannot silently
// double-post the whole backlog.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{
		path:   path,
		seen:   make(map[domain.PostID]struct{}),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("ledger file not found, starting empty", "path", path)
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	if err := json.Unmarshal(data, &l.ids); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	for _, id := range l.ids {
		l.seen[id] = struct{}{}
	}
	logger.Info("loaded ledger", "path", path, "entries", len(l.ids))
	return l, nil
}

// Contains reports whether the post has already been published.
func (l *Ledger) Contains(id domain.PostID) bool {
	_, ok := l.seen[id]
	return ok
}

// Add records a published post and writes the ledger to disk
// immediately, so a crash after a successful publish cannot cause a
// duplicate on the next run.
func (l *Ledger) Add(id domain.PostID) error {
	if l.Contains(id) {
		return nil
	}
	l.ids = append(l.ids, id)
	l.seen[id] = struct{}{}

	if err := l.save(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLedgerWrite, err)
	}
	return nil
}

// Len returns the number of recorded posts.
func (l *Ledger) Len() int {
	return len(l.ids)
}

// save writes the full ID list via a temp file and rename so a crash
// mid-write never truncates the ledger.
func (l *Ledger) save() error {
	data, err := json.Marshal(l.ids)
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "ledger-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}

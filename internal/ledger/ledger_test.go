package ledger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pitwall-labs/danksky/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.json")

	l, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
	if l.Contains("t3_abc") {
		t.Error("empty ledger should not contain anything")
	}
}

func TestOpen_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, discardLogger()); err == nil {
		t.Fatal("expected error for corrupt ledger")
	}
}

func TestAdd_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.json")

	l, err := Open(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []domain.PostID{"t3_one", "t3_two"} {
		if err := l.Add(id); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}

	reloaded, err := Open(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len = %d, want 2", reloaded.Len())
	}
	if !reloaded.Contains("t3_one") || !reloaded.Contains("t3_two") {
		t.Error("reloaded ledger missing recorded IDs")
	}
	if reloaded.Contains("t3_three") {
		t.Error("reloaded ledger contains unrecorded ID")
	}
}

func TestAdd_DuplicateIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.json")
	l, err := Open(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Add("t3_abc"); err != nil {
		t.Fatal(err)
	}
	if err := l.Add("t3_abc"); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestAdd_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "posted.json")
	l, err := Open(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Add("t3_abc"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("ledger file not written: %v", err)
	}
}

func TestAdd_WriteFailureIsLedgerError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posted.json")
	l, err := Open(path, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Make the directory unwritable so the temp file cannot be created.
	if err := os.Chmod(dir, 0555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0755) })

	err = l.Add("t3_abc")
	if err == nil {
		t.Skip("running as root, cannot provoke write failure")
	}
	if !errors.Is(err, domain.ErrLedgerWrite) {
		t.Errorf("err = %v, want ErrLedgerWrite", err)
	}
}

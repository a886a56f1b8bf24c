package media

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testProcessor() *Processor {
	// Deliberately bogus binary paths: tests that would shell out are
	// expected to never reach the encoder.
	return &Processor{
		ffmpegPath:  "/nonexistent/ffmpeg",
		ffprobePath: "/nonexistent/ffprobe",
		logger:      slog.Default(),
	}
}

func TestTargetBitrateKbps(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int64
		duration float64
		want     int
	}{
		{
			name:     "30s clip under budget cap",
			maxBytes: 900 * 1024,
			duration: 30,
			want:     240,
		},
		{
			name:     "short clip hits bitrate cap",
			maxBytes: 900 * 1024,
			duration: 2,
			want:     2000,
		},
		{
			name:     "very long clip floors at 1",
			maxBytes: 10 * 1024,
			duration: 3600,
			want:     1,
		},
		{
			name:     "zero duration uses fallback",
			maxBytes: 900 * 1024,
			duration: 0,
			want:     240,
		},
		{
			name:     "negative duration uses fallback",
			maxBytes: 900 * 1024,
			duration: -5,
			want:     240,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetBitrateKbps(tt.maxBytes, tt.duration); got != tt.want {
				t.Errorf("targetBitrateKbps(%d, %v) = %d, want %d",
					tt.maxBytes, tt.duration, got, tt.want)
			}
		})
	}
}

func TestCompressVideo_AlreadyUnderBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	content := []byte("tiny fake video payload")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	p := testProcessor()

	// The encoder path is unreachable; an attempt to invoke it would
	// fail loudly against the bogus binary paths.
	if err := p.CompressVideo(context.Background(), path, 1024*1024); err != nil {
		t.Fatalf("CompressVideo should short-circuit under budget, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(content) {
		t.Error("file under budget must not be modified")
	}
}

func TestCompressVideo_MissingFile(t *testing.T) {
	p := testProcessor()
	err := p.CompressVideo(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), 1024)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTail(t *testing.T) {
	if got := tail([]byte("  short output\n")); got != "short output" {
		t.Errorf("tail = %q", got)
	}

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	if got := tail(long); len(got) != 400 {
		t.Errorf("tail length = %d, want 400", len(got))
	}
}

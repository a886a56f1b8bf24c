package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pitwall-labs/danksky/internal/config"
	"github.com/pitwall-labs/danksky/internal/domain"
)

// Muxer merges separately-downloaded video and audio streams.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
}

// Fetcher downloads remote media into scratch storage.
type Fetcher struct {
	client    *http.Client
	userAgent string
	attempts  int
	backoff   waiter
	muxer     Muxer
	logger    *slog.Logger
}

// waiter sleeps for the configured retry delay, honoring cancellation.
type waiter func(ctx context.Context) error

// New creates a fetcher. The muxer is invoked for video+audio pairs.
func New(cfg config.FetchConfig, muxer Muxer, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		attempts:  cfg.MaxAttempts,
		backoff:   delayWaiter(cfg),
		muxer:     muxer,
		logger:    logger,
	}
}

func delayWaiter(cfg config.FetchConfig) waiter {
	return func(ctx context.Context) error {
		timer := time.NewTimer(cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

// Fetch resolves a media reference into the file at destPath. For a
// video+audio pair the audio track is best-effort: when it is absent
// or fails to download, the video alone lands at destPath and the
// fetch still succeeds.
func (f *Fetcher) Fetch(ctx context.Context, ref domain.MediaRef, destPath string) error {
	if ref.Kind == domain.KindVideoWithAudio {
		return f.fetchPair(ctx, ref, destPath)
	}
	return f.download(ctx, ref.URL, destPath)
}

func (f *Fetcher) fetchPair(ctx context.Context, ref domain.MediaRef, destPath string) error {
	videoTmp := destPath + ".video"
	audioTmp := destPath + ".audio"

	if err := f.download(ctx, ref.URL, videoTmp); err != nil {
		return fmt.Errorf("fetch video stream: %w", err)
	}

	haveAudio := false
	if ref.AudioURL != "" {
		if err := f.download(ctx, ref.AudioURL, audioTmp); err != nil {
			// Expected for posts without an audio track.
			f.logger.Info("audio stream unavailable, keeping video only",
				"url", ref.AudioURL, "error", err)
		} else {
			haveAudio = true
		}
	}

	if !haveAudio {
		os.Remove(audioTmp)
		if err := os.Rename(videoTmp, destPath); err != nil {
			os.Remove(videoTmp)
			return fmt.Errorf("finalize video-only file: %w", err)
		}
		return nil
	}

	muxErr := f.muxer.Mux(ctx, videoTmp, audioTmp, destPath)
	os.Remove(videoTmp)
	os.Remove(audioTmp)
	if muxErr != nil {
		return muxErr
	}
	return nil
}

// download performs an HTTP GET with bounded retries. Only a 429
// response is retried, after a fixed backoff; every other failure is
// final. Success requires the destination file to exist non-empty.
func (f *Fetcher) download(ctx context.Context, url, destPath string) error {
	var lastErr error

	for attempt := 0; attempt < f.attempts; attempt++ {
		err := f.downloadOnce(ctx, url, destPath)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrRateLimited) {
			break
		}

		f.logger.Warn("rate limited, backing off",
			"url", url, "attempt", attempt+1)
		if werr := f.backoff(ctx); werr != nil {
			return werr
		}
	}

	return fmt.Errorf("%w: %v", domain.ErrFetchFailed, lastErr)
}

func (f *Fetcher) downloadOnce(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("write file: %w", err)
	}

	if written == 0 {
		os.Remove(destPath)
		return domain.ErrEmptyDownload
	}

	f.logger.Info("downloaded media", "url", url, "path", destPath, "bytes", written)
	return nil
}

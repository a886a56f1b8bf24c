package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pitwall-labs/danksky/internal/domain"
)

// maxBitrateKbps caps the target video bitrate regardless of duration.
const maxBitrateKbps = 2000

// fallbackDuration is assumed when ffprobe cannot determine a duration.
const fallbackDuration = 30.0

// Processor normalizes media files with ffmpeg/ffprobe.
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewProcessor creates a processor. ffmpeg and ffprobe must be in PATH.
func NewProcessor(logger *slog.Logger) (*Processor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Processor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger,
	}, nil
}

// HasAudio reports whether the file contains an audio stream.
func (p *Processor) HasAudio(ctx context.Context, path string) bool {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		p.logger.Warn("audio probe failed", "path", path, "error", err)
		return false
	}
	return strings.TrimSpace(string(output)) != ""
}

// Duration returns the media duration in seconds, or a 30s fallback
// when probing fails.
func (p *Processor) Duration(ctx context.Context, path string) float64 {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return fallbackDuration
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil || dur <= 0 {
		return fallbackDuration
	}
	return dur
}

// Mux merges separately-downloaded video and audio streams into one
// container. The video stream is copied unchanged, audio re-encoded
// to AAC. Input files are left in place; the caller deletes them.
func (p *Processor) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-y", outPath,
	)

	if output, err := cmd.CombinedOutput(); err != nil {
		p.logger.Error("mux failed", "error", err, "output", tail(output))
		return fmt.Errorf("%w: %v", domain.ErrMuxFailed, err)
	}

	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("%w: output not created", domain.ErrMuxFailed)
	}
	return nil
}

// ConvertGIF re-encodes an animated image as an mp4 with even pixel
// dimensions (required by the codec). On success the source file is
// deleted and the new path returned; on failure any partial output is
// deleted.
func (p *Processor) ConvertGIF(ctx context.Context, path string) (string, error) {
	outPath := strings.TrimSuffix(path, ".gif") + ".mp4"

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", path,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y", outPath,
	)

	if output, err := cmd.CombinedOutput(); err != nil {
		p.logger.Error("gif conversion failed", "path", path, "error", err, "output", tail(output))
		os.Remove(outPath)
		return "", fmt.Errorf("convert gif: %w", err)
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("convert gif: output not created")
	}

	os.Remove(path)
	return outPath, nil
}

// CompressVideo re-encodes the file in place until it fits maxBytes.
// Returns immediately when the file is already under budget. The
// encoding quality factor (CRF, 18 best to 35 worst) is bisected
// against a fixed target bitrate derived from the duration; the first
// attempt that lands under budget at the lowest candidate CRF, or
// within 90% of the budget, is accepted. Every rejected attempt's
// output is removed. Returns ErrBudgetUnreachable when no attempt fit.
func (p *Processor) CompressVideo(ctx context.Context, path string, maxBytes int64) error {
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat video: %w", err)
	}
	if stat.Size() <= maxBytes {
		return nil
	}

	// Audio presence is probed on this exact file, independent of
	// whether it came through the muxer.
	hasAudio := p.HasAudio(ctx, path)
	duration := p.Duration(ctx, path)
	bitrate := targetBitrateKbps(maxBytes, duration)

	p.logger.Info("compressing video",
		"path", path,
		"size_kb", stat.Size()/1024,
		"budget_kb", maxBytes/1024,
		"duration_s", fmt.Sprintf("%.1f", duration),
		"bitrate_kbps", bitrate,
		"has_audio", hasAudio,
	)

	outPath := path + "_compressed.mp4"
	lo, hi := 18, 35
	crf := lo

	for lo <= hi {
		span := hi - lo

		err := p.encodeAttempt(ctx, path, outPath, crf, bitrate, hasAudio)
		if err != nil {
			os.Remove(outPath)
			lo = crf + 1
			crf = (lo + hi) / 2
			continue
		}

		outStat, statErr := os.Stat(outPath)
		if statErr != nil {
			lo = crf + 1
			crf = (lo + hi) / 2
			continue
		}
		size := outStat.Size()
		p.logger.Info("compression attempt", "crf", crf, "size_kb", size/1024)

		if size <= maxBytes {
			if crf == lo || size > maxBytes*9/10 {
				os.Remove(path)
				if err := os.Rename(outPath, path); err != nil {
					return fmt.Errorf("replace video: %w", err)
				}
				return nil
			}
			hi = crf - 1
		} else {
			lo = crf + 1
		}

		os.Remove(outPath)

		if hi-lo >= span {
			return fmt.Errorf("compress video: search range failed to narrow")
		}
		crf = (lo + hi) / 2
	}

	return domain.ErrBudgetUnreachable
}

func (p *Processor) encodeAttempt(ctx context.Context, inPath, outPath string, crf, bitrate int, hasAudio bool) error {
	args := []string{
		"-i", inPath,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(crf),
		"-preset", "medium",
		"-movflags", "+faststart",
		"-b:v", fmt.Sprintf("%dk", bitrate),
		"-maxrate", fmt.Sprintf("%dk", min(bitrate*3/2, maxBitrateKbps)),
		"-bufsize", fmt.Sprintf("%dk", min(bitrate*2, maxBitrateKbps)),
	}

	if hasAudio {
		args = append(args,
			"-c:a", "aac",
			"-b:a", "128k",
			"-map", "0:v",
			"-map", "0:a",
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-y", outPath)

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		p.logger.Error("encode attempt failed", "crf", crf, "error", err, "output", tail(output))
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// targetBitrateKbps derives the video bitrate from the byte budget
// and duration, capped at maxBitrateKbps.
func targetBitrateKbps(maxBytes int64, duration float64) int {
	if duration <= 0 {
		duration = fallbackDuration
	}
	kbps := int(float64(maxBytes) * 8 / (duration * 1024))
	if kbps > maxBitrateKbps {
		return maxBitrateKbps
	}
	if kbps < 1 {
		return 1
	}
	return kbps
}

// tail returns the last part of process output for log context.
func tail(output []byte) string {
	const n = 400
	s := strings.TrimSpace(string(output))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/pitwall-labs/danksky/internal/bluesky"
	"github.com/pitwall-labs/danksky/internal/config"
	"github.com/pitwall-labs/danksky/internal/domain"
)

// Poster creates posts and uploads blobs on the destination platform.
type Poster interface {
	UploadBlob(ctx context.Context, data []byte, contentType string) (json.RawMessage, error)
	CreatePost(ctx context.Context, params bluesky.PostParams) (*bluesky.PostRef, error)
}

// Normalizer shrinks and converts local media files.
type Normalizer interface {
	CompressImage(path string, maxBytes int64) error
	CompressVideo(ctx context.Context, path string, maxBytes int64) error
	ConvertGIF(ctx context.Context, path string) (string, error)
}

// Result reports what a publish attempt actually created. Individual
// media failures are skipped, not fatal; MediaSkipped makes that
// partial success visible to the caller.
type Result struct {
	RootURI      string
	PostsCreated int
	MediaSkipped int
}

// Publisher turns a source post plus its downloaded media into a
// linked thread on the destination platform.
type Publisher struct {
	poster Poster
	media  Normalizer
	cfg    config.MediaConfig
	logger *slog.Logger
}

// New creates a publisher.
func New(poster Poster, media Normalizer, cfg config.MediaConfig, logger *slog.Logger) *Publisher {
	return &Publisher{
		poster: poster,
		media:  media,
		cfg:    cfg,
		logger: logger,
	}
}

// thread tracks the reply chain as posts are created. Replies always
// point at {root, immediately preceding post}, forming a single
// linear chain.
type thread struct {
	root   *bluesky.PostRef
	parent *bluesky.PostRef
}

func (t *thread) replyRef() *bluesky.ReplyRef {
	if t.root == nil {
		return nil
	}
	return &bluesky.ReplyRef{Root: *t.root, Parent: *t.parent}
}

func (t *thread) advance(ref *bluesky.PostRef) {
	if t.root == nil {
		t.root = ref
	}
	t.parent = ref
}

// Publish posts the item's media as a thread: image batches first
// (at most MaxImagesPerPost per post), then videos one per post.
// Media that cannot be shrunk under budget or fails to upload is
// skipped without aborting the rest. The returned error is
// ErrPublishFailed only when nothing could be posted at all.
func (p *Publisher) Publish(ctx context.Context, post domain.SourcePost, files []string) (Result, error) {
	hashtagLine := p.hashtagLine()
	quoted := "\"" + post.Title + "\"\n\n- u/" + post.Author
	chunks := SplitThread(quoted, p.cfg.PostCharLimit, utf8.RuneCountInString(hashtagLine)+2)
	formatted := chunks[0] + "\n\n" + hashtagLine
	facets := bluesky.TagFacets(formatted, p.cfg.AllHashtags())

	var images, videos []string
	for _, path := range files {
		switch domain.ClassifyFile(path) {
		case domain.KindImage:
			images = append(images, path)
		case domain.KindVideo, domain.KindAnimatedImage:
			videos = append(videos, path)
		default:
			p.logger.Warn("skipping unclassifiable file", "path", path)
		}
	}

	var th thread
	var result Result

	p.publishImages(ctx, images, formatted, facets, chunks[0], &th, &result)
	p.publishVideos(ctx, videos, formatted, facets, chunks[0], &th, &result)

	if th.root != nil {
		result.RootURI = th.root.URI
	}
	if result.PostsCreated == 0 && len(files) > 0 {
		return result, domain.NewPostError(post.ID, "publish", domain.ErrPublishFailed)
	}
	return result, nil
}

func (p *Publisher) hashtagLine() string {
	tags := p.cfg.AllHashtags()
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = "#" + tag
	}
	return strings.Join(parts, " ")
}

func (p *Publisher) publishImages(ctx context.Context, images []string, formatted string, facets []bluesky.Facet, caption string, th *thread, result *Result) {
	if len(images) == 0 {
		return
	}

	perPost := p.cfg.MaxImagesPerPost
	totalBatches := (len(images) + perPost - 1) / perPost

	for start := 0; start < len(images); start += perPost {
		end := start + perPost
		if end > len(images) {
			end = len(images)
		}
		batchNum := start/perPost + 1

		var embeds []bluesky.EmbedImage
		for _, path := range images[start:end] {
			blob, err := p.uploadImage(ctx, path, caption)
			if err != nil {
				p.logger.Error("skipping image", "path", path, "error", err)
				result.MediaSkipped++
				continue
			}
			embeds = append(embeds, *blob)
		}

		if len(embeds) == 0 {
			p.logger.Error("no images survived in batch", "batch", batchNum)
			continue
		}

		params := bluesky.PostParams{
			Text:  fmt.Sprintf("Continued... (%d/%d)", batchNum, totalBatches),
			Embed: bluesky.NewImagesEmbed(embeds),
			Reply: th.replyRef(),
		}
		if th.root == nil {
			params.Text = formatted
			params.Facets = facets
		}

		ref, err := p.poster.CreatePost(ctx, params)
		if err != nil {
			p.logger.Error("failed to create image post", "batch", batchNum, "error", err)
			result.MediaSkipped += len(embeds)
			continue
		}
		th.advance(ref)
		result.PostsCreated++
		p.logger.Info("posted image batch", "batch", batchNum, "images", len(embeds), "uri", ref.URI)
	}
}

func (p *Publisher) uploadImage(ctx context.Context, path, alt string) (*bluesky.EmbedImage, error) {
	if err := p.ensureImageBudget(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	blob, err := p.poster.UploadBlob(ctx, data, "image/jpeg")
	if err != nil {
		return nil, err
	}

	return &bluesky.EmbedImage{
		Alt:   truncateRunes(alt, p.cfg.PostCharLimit),
		Image: blob,
	}, nil
}

func (p *Publisher) ensureImageBudget(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	if stat.Size() <= p.cfg.MaxPostBytes() {
		return nil
	}
	return p.media.CompressImage(path, p.cfg.MaxPostBytes())
}

func (p *Publisher) publishVideos(ctx context.Context, videos []string, formatted string, facets []bluesky.Facet, caption string, th *thread, result *Result) {
	for _, path := range videos {
		if domain.ClassifyFile(path) == domain.KindAnimatedImage {
			converted, err := p.media.ConvertGIF(ctx, path)
			if err != nil {
				p.logger.Error("skipping animated image", "path", path, "error", err)
				result.MediaSkipped++
				continue
			}
			path = converted
		}

		if err := p.media.CompressVideo(ctx, path, p.cfg.MaxPostBytes()); err != nil {
			if errors.Is(err, domain.ErrBudgetUnreachable) {
				p.logger.Error("video cannot fit budget, skipping", "path", path)
			} else {
				p.logger.Error("video compression failed, skipping", "path", path, "error", err)
			}
			result.MediaSkipped++
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			p.logger.Error("skipping unreadable video", "path", path, "error", err)
			result.MediaSkipped++
			continue
		}

		blob, err := p.poster.UploadBlob(ctx, data, "video/mp4")
		if err != nil {
			p.logger.Error("video upload failed, skipping", "path", path, "error", err)
			result.MediaSkipped++
			continue
		}

		params := bluesky.PostParams{
			Text:  truncateRunes(caption, p.cfg.PostCharLimit-8) + " (Video)",
			Embed: bluesky.NewVideoEmbed(blob, truncateRunes(caption, p.cfg.PostCharLimit)),
			Reply: th.replyRef(),
		}
		if th.root == nil {
			params.Text = formatted
			params.Facets = facets
		}

		ref, err := p.poster.CreatePost(ctx, params)
		if err != nil {
			p.logger.Error("failed to create video post", "path", path, "error", err)
			result.MediaSkipped++
			continue
		}
		th.advance(ref)
		result.PostsCreated++
		p.logger.Info("posted video", "path", path, "uri", ref.URI)
	}
}

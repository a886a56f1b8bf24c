package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pitwall-labs/danksky/internal/config"
	"github.com/pitwall-labs/danksky/internal/domain"
)

const defaultBaseURL = "https://www.reddit.com"

// audioPatterns are the DASH audio filenames Reddit has used over
// time; the first one that answers a HEAD request wins.
var audioPatterns = []string{
	"/DASH_audio.mp4",
	"/DASH_AUDIO_128.mp4",
	"/DASH_audio_128.mp4",
	"/audio",
	"/DASH_audio",
	"/DASH_128.mp4",
	"/DASH_96.mp4",
	"/DASH_64.mp4",
}

// Client fetches recent posts from a subreddit's public JSON listing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	subreddit  string
	limit      int
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Reddit listing client.
func NewClient(cfg config.RedditConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    defaultBaseURL,
		subreddit:  cfg.Subreddit,
		limit:      cfg.Limit,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}
}

// RecentPosts returns the newest posts in the subreddit with their
// media references resolved.
func (c *Client) RecentPosts(ctx context.Context) ([]domain.SourcePost, error) {
	url := fmt.Sprintf("%s/r/%s/new.json?limit=%d&raw_json=1", c.baseURL, c.subreddit, c.limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", c.subreddit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("r/%s: status %d", c.subreddit, resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode r/%s: %w", c.subreddit, err)
	}

	posts := make([]domain.SourcePost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, c.toSourcePost(ctx, child.Data))
	}
	return posts, nil
}

func (c *Client) toSourcePost(ctx context.Context, p redditPost) domain.SourcePost {
	return domain.SourcePost{
		ID:        domain.PostID(p.ID),
		Title:     p.Title,
		Author:    p.Author,
		URL:       p.URL,
		Media:     c.resolveMedia(ctx, p),
		CreatedAt: time.Unix(int64(p.CreatedUTC), 0).UTC(),
	}
}

// resolveMedia turns a listing entry into concrete media references.
// Galleries expand to one reference per image; v.redd.it videos carry
// a probed audio companion URL when one answers.
func (c *Client) resolveMedia(ctx context.Context, p redditPost) []domain.MediaRef {
	switch {
	case strings.Contains(p.URL, "imgur.com"):
		return c.resolveImgur(p.URL)

	case p.IsGallery:
		return c.resolveGallery(p)

	case strings.Contains(p.URL, "v.redd.it"):
		return c.resolveRedditVideo(ctx, p)

	default:
		kind := domain.ClassifyURL(p.URL)
		if kind == domain.KindUnsupported {
			return nil
		}
		return []domain.MediaRef{{URL: p.URL, Kind: kind}}
	}
}

func (c *Client) resolveImgur(url string) []domain.MediaRef {
	kind := domain.ClassifyURL(url)
	if kind != domain.KindUnsupported {
		return []domain.MediaRef{{URL: url, Kind: kind}}
	}

	// Page link: rewrite to the direct image on i.imgur.com.
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	imgID := parts[len(parts)-1]
	if imgID == "" {
		return nil
	}
	direct := "https://i.imgur.com/" + imgID + ".png"
	return []domain.MediaRef{{URL: direct, Kind: domain.KindImage}}
}

func (c *Client) resolveGallery(p redditPost) []domain.MediaRef {
	if p.GalleryData == nil || p.MediaMetadata == nil {
		return nil
	}

	var refs []domain.MediaRef
	for _, item := range p.GalleryData.Items {
		meta, ok := p.MediaMetadata[item.MediaID]
		if !ok || len(meta.Previews) == 0 {
			c.logger.Warn("gallery item without preview", "media_id", item.MediaID)
			continue
		}
		// Swap the preview host for the full-resolution one.
		url := strings.Replace(meta.Previews[0].URL, "preview", "i", 1)
		kind := domain.ClassifyURL(url)
		if kind == domain.KindUnsupported {
			kind = domain.KindImage
		}
		refs = append(refs, domain.MediaRef{URL: url, Kind: kind})
	}
	return refs
}

func (c *Client) resolveRedditVideo(ctx context.Context, p redditPost) []domain.MediaRef {
	if p.Media == nil || p.Media.RedditVideo == nil || p.Media.RedditVideo.FallbackURL == "" {
		c.logger.Warn("video post without fallback url", "post_id", p.ID)
		return nil
	}

	videoURL := p.Media.RedditVideo.FallbackURL
	baseURL := videoURL
	if idx := strings.LastIndexByte(baseURL, '/'); idx != -1 {
		baseURL = baseURL[:idx]
	}

	audioURL := c.probeAudioURL(ctx, baseURL)
	return []domain.MediaRef{{
		URL:      videoURL,
		AudioURL: audioURL,
		Kind:     domain.KindVideoWithAudio,
	}}
}

// probeAudioURL tries the known DASH audio locations with HEAD
// requests and returns the first that answers 200, or "".
func (c *Client) probeAudioURL(ctx context.Context, baseURL string) string {
	for _, pattern := range audioPatterns {
		url := baseURL + pattern

		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
		if err != nil {
			cancel()
			continue
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		cancel()
		if err != nil {
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return url
		}
	}
	return ""
}

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID            string                   `json:"id"`
	Title         string                   `json:"title"`
	Author        string                   `json:"author"`
	URL           string                   `json:"url"`
	CreatedUTC    float64                  `json:"created_utc"`
	IsGallery     bool                     `json:"is_gallery"`
	GalleryData   *galleryData             `json:"gallery_data"`
	MediaMetadata map[string]mediaMetadata `json:"media_metadata"`
	Media         *postMedia               `json:"media"`
}

type galleryData struct {
	Items []galleryItem `json:"items"`
}

type galleryItem struct {
	MediaID string `json:"media_id"`
}

type mediaMetadata struct {
	Previews []preview `json:"p"`
}

type preview struct {
	URL string `json:"u"`
}

type postMedia struct {
	RedditVideo *redditVideo `json:"reddit_video"`
}

type redditVideo struct {
	FallbackURL string `json:"fallback_url"`
}

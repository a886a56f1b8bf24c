package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pitwall-labs/danksky/internal/config"
	"github.com/pitwall-labs/danksky/internal/domain"
)

const postCollection = "app.bsky.feed.post"

// PostRef identifies a created post.
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef links a post into a thread: Root is the first post of the
// thread, Parent the immediately preceding one.
type ReplyRef struct {
	Root   PostRef `json:"root"`
	Parent PostRef `json:"parent"`
}

// PostParams carries everything needed to create one post record.
type PostParams struct {
	Text   string
	Facets []Facet
	Embed  any
	Reply  *ReplyRef
}

// EmbedImages is the app.bsky.embed.images record embed.
type EmbedImages struct {
	Type   string       `json:"$type"`
	Images []EmbedImage `json:"images"`
}

// EmbedImage is one uploaded image inside an images embed.
type EmbedImage struct {
	Alt   string          `json:"alt"`
	Image json.RawMessage `json:"image"`
}

// EmbedVideo is the app.bsky.embed.video record embed.
type EmbedVideo struct {
	Type  string          `json:"$type"`
	Video json.RawMessage `json:"video"`
	Alt   string          `json:"alt,omitempty"`
}

// NewImagesEmbed builds an images embed from uploaded blobs.
func NewImagesEmbed(images []EmbedImage) *EmbedImages {
	return &EmbedImages{Type: "app.bsky.embed.images", Images: images}
}

// NewVideoEmbed builds a video embed from an uploaded blob.
func NewVideoEmbed(blob json.RawMessage, alt string) *EmbedVideo {
	return &EmbedVideo{Type: "app.bsky.embed.video", Video: blob, Alt: alt}
}

// Client is an authenticated XRPC client for a Bluesky PDS. The
// session is created by Login and refreshed transparently when the
// access token expires.
type Client struct {
	host       string
	identifier string
	password   string
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.Mutex
	accessJwt  string
	refreshJwt string
	did        string
}

// NewClient creates a Bluesky client. Login must be called before any
// posting operation.
func NewClient(cfg config.BlueskyConfig, logger *slog.Logger) *Client {
	return &Client{
		host:       strings.TrimSuffix(cfg.Host, "/"),
		identifier: cfg.Identifier,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// Login creates a new session with the configured credentials.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"identifier": c.identifier,
		"password":   c.password,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrLoginFailed, resp.StatusCode)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("%w: decode session: %v", domain.ErrLoginFailed, err)
	}

	c.mu.Lock()
	c.accessJwt = session.AccessJwt
	c.refreshJwt = session.RefreshJwt
	c.did = session.DID
	c.mu.Unlock()

	c.logger.Info("logged in to bluesky", "handle", session.Handle, "did", session.DID)
	return nil
}

// refresh exchanges the refresh token for a new session.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshJwt := c.refreshJwt
	c.mu.Unlock()
	if refreshJwt == "" {
		return domain.ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: refresh status %d", domain.ErrSessionExpired, resp.StatusCode)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("decode refreshed session: %w", err)
	}

	c.mu.Lock()
	c.accessJwt = session.AccessJwt
	c.refreshJwt = session.RefreshJwt
	c.did = session.DID
	c.mu.Unlock()

	c.logger.Info("refreshed bluesky session")
	return nil
}

// UploadBlob uploads raw media bytes and returns the blob reference
// to embed in a post record.
func (c *Client) UploadBlob(ctx context.Context, data []byte, contentType string) (json.RawMessage, error) {
	var blob json.RawMessage
	err := c.doAuthed(ctx, func(accessJwt string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.host+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+accessJwt)
		return c.httpClient.Do(req)
	}, func(resp *http.Response) error {
		var out struct {
			Blob json.RawMessage `json:"blob"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode upload response: %w", err)
		}
		blob = out.Blob
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	return blob, nil
}

// CreatePost creates one post record, optionally embedded and linked
// into a thread.
func (c *Client) CreatePost(ctx context.Context, params PostParams) (*PostRef, error) {
	record := map[string]any{
		"$type":     postCollection,
		"text":      params.Text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if len(params.Facets) > 0 {
		record["facets"] = params.Facets
	}
	if params.Embed != nil {
		record["embed"] = params.Embed
	}
	if params.Reply != nil {
		record["reply"] = params.Reply
	}

	var ref PostRef
	err := c.doAuthed(ctx, func(accessJwt string) (*http.Response, error) {
		c.mu.Lock()
		did := c.did
		c.mu.Unlock()

		body, err := json.Marshal(map[string]any{
			"repo":       did,
			"collection": postCollection,
			"record":     record,
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.host+"/xrpc/com.atproto.repo.createRecord", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessJwt)
		return c.httpClient.Do(req)
	}, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&ref)
	})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &ref, nil
}

// doAuthed runs an authenticated request, refreshing the session and
// replaying once when the access token is rejected as expired.
func (c *Client) doAuthed(ctx context.Context, do func(accessJwt string) (*http.Response, error), parse func(*http.Response) error) error {
	c.mu.Lock()
	accessJwt := c.accessJwt
	c.mu.Unlock()
	if accessJwt == "" {
		return domain.ErrNoSession
	}

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := do(accessJwt)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}

		if isExpiredToken(resp) && attempt == 0 {
			resp.Body.Close()
			if err := c.refresh(ctx); err != nil {
				return err
			}
			c.mu.Lock()
			accessJwt = c.accessJwt
			c.mu.Unlock()
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("xrpc error (status %d): %s", resp.StatusCode, body)
		}

		err = parse(resp)
		resp.Body.Close()
		return err
	}

	return domain.ErrSessionExpired
}

// isExpiredToken reports whether the response is the PDS rejecting an
// expired access token.
func isExpiredToken(resp *http.Response) bool {
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return false
	}
	// Allow the caller to re-read what's left; the body is consumed
	// either way since expired responses are discarded.
	resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), resp.Body))
	return bytes.Contains(body, []byte("ExpiredToken"))
}

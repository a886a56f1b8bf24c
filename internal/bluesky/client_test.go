package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pitwall-labs/danksky/internal/config"
	"github.com/pitwall-labs/danksky/internal/domain"
)

func newTestClient(host string) *Client {
	return NewClient(config.BlueskyConfig{
		Host:       host,
		Identifier: "bot.bsky.social",
		Password:   "app-password",
		Timeout:    5 * time.Second,
	}, slog.Default())
}

func sessionJSON(access, refresh string) string {
	return `{"accessJwt":"` + access + `","refreshJwt":"` + refresh + `","did":"did:plc:test","handle":"bot.bsky.social"}`
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.server.createSession" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["identifier"] != "bot.bsky.social" {
			t.Errorf("identifier = %q", creds["identifier"])
		}
		io.WriteString(w, sessionJSON("access-1", "refresh-1"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if c.accessJwt != "access-1" || c.did != "did:plc:test" {
		t.Errorf("session not stored: jwt=%q did=%q", c.accessJwt, c.did)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := newTestClient(server.URL).Login(context.Background())
	if !errors.Is(err, domain.ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
}

func TestCreatePost_RequiresSession(t *testing.T) {
	c := newTestClient("http://unused")
	_, err := c.CreatePost(context.Background(), PostParams{Text: "hi"})
	if !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestCreatePost(t *testing.T) {
	var gotRecord map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			io.WriteString(w, sessionJSON("access-1", "refresh-1"))
		case "/xrpc/com.atproto.repo.createRecord":
			if auth := r.Header.Get("Authorization"); auth != "Bearer access-1" {
				t.Errorf("Authorization = %q", auth)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			gotRecord, _ = body["record"].(map[string]any)
			io.WriteString(w, `{"uri":"at://did:plc:test/app.bsky.feed.post/3k1","cid":"bafy1"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	reply := &ReplyRef{
		Root:   PostRef{URI: "at://root", CID: "cid-root"},
		Parent: PostRef{URI: "at://parent", CID: "cid-parent"},
	}
	ref, err := c.CreatePost(context.Background(), PostParams{
		Text:   "hello #f1",
		Facets: TagFacets("hello #f1", []string{"f1"}),
		Reply:  reply,
	})
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if ref.URI != "at://did:plc:test/app.bsky.feed.post/3k1" || ref.CID != "bafy1" {
		t.Errorf("ref = %+v", ref)
	}

	if gotRecord["text"] != "hello #f1" {
		t.Errorf("record text = %v", gotRecord["text"])
	}
	if gotRecord["$type"] != "app.bsky.feed.post" {
		t.Errorf("record $type = %v", gotRecord["$type"])
	}
	if gotRecord["reply"] == nil {
		t.Error("record missing reply ref")
	}
	if gotRecord["facets"] == nil {
		t.Error("record missing facets")
	}
}

func TestUploadBlob(t *testing.T) {
	blobJSON := `{"$type":"blob","ref":{"$link":"bafyblob"},"mimeType":"image/jpeg","size":3}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			io.WriteString(w, sessionJSON("access-1", "refresh-1"))
		case "/xrpc/com.atproto.repo.uploadBlob":
			if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
				t.Errorf("Content-Type = %q", ct)
			}
			data, _ := io.ReadAll(r.Body)
			if string(data) != "abc" {
				t.Errorf("body = %q", data)
			}
			io.WriteString(w, `{"blob":`+blobJSON+`}`)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	blob, err := c.UploadBlob(context.Background(), []byte("abc"), "image/jpeg")
	if err != nil {
		t.Fatalf("UploadBlob failed: %v", err)
	}
	if string(blob) != blobJSON {
		t.Errorf("blob = %s", blob)
	}
}

func TestExpiredTokenRefreshAndReplay(t *testing.T) {
	var createCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			io.WriteString(w, sessionJSON("stale-token", "refresh-1"))
		case "/xrpc/com.atproto.server.refreshSession":
			if auth := r.Header.Get("Authorization"); auth != "Bearer refresh-1" {
				t.Errorf("refresh Authorization = %q", auth)
			}
			io.WriteString(w, sessionJSON("fresh-token", "refresh-2"))
		case "/xrpc/com.atproto.repo.createRecord":
			createCalls.Add(1)
			if r.Header.Get("Authorization") == "Bearer stale-token" {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"ExpiredToken","message":"Token has expired"}`)
				return
			}
			io.WriteString(w, `{"uri":"at://ok","cid":"bafy2"}`)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	ref, err := c.CreatePost(context.Background(), PostParams{Text: "hi"})
	if err != nil {
		t.Fatalf("CreatePost should succeed after refresh: %v", err)
	}
	if ref.URI != "at://ok" {
		t.Errorf("ref = %+v", ref)
	}
	if got := createCalls.Load(); got != 2 {
		t.Errorf("createRecord called %d times, want 2 (expired + replay)", got)
	}
	if c.refreshJwt != "refresh-2" {
		t.Errorf("refresh token not rotated: %q", c.refreshJwt)
	}
}

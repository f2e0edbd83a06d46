package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abusegal/telefeed/internal/blobstore"
	"github.com/abusegal/telefeed/internal/l10n"
	"github.com/abusegal/telefeed/internal/logging"
	mcpsrv "github.com/abusegal/telefeed/internal/mcp"
	"github.com/abusegal/telefeed/internal/retention"
	"github.com/abusegal/telefeed/internal/secrets"
	"github.com/abusegal/telefeed/internal/storage"
)

type fakeSync struct {
	calls int
	err   error
}

func (f *fakeSync) Sync(ctx context.Context) error {
	f.calls++
	return f.err
}

func newTestServer(t *testing.T, sync SyncRunner) (*Server, *storage.Store) {
	t.Helper()
	logging.Init(false, false)
	if err := l10n.Init(); err != nil {
		t.Fatalf("l10n: %v", err)
	}
	t.Setenv(secrets.InboundAPIKey, "sekrit")

	store, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	s, err := NewServer(Config{
		Store:       store,
		Logger:      logging.L(),
		Window:      retention.New(time.UTC, 24*time.Hour),
		Channels:    []string{"news"},
		Secrets:     secrets.NewEnvProvider(),
		Sync:        sync,
		SkipWorkers: true,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, store
}

func TestFeedRequiresAPIKey(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for _, target := range []string{"/", "/?api_key=wrong"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		s.Router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s code = %d, want 401", target, w.Code)
		}
		if w.Body.String() != "Unauthorized" {
			t.Fatalf("GET %s body = %q", target, w.Body.String())
		}
	}
}

func TestFeedRendersHTML(t *testing.T) {
	sync := &fakeSync{}
	s, store := newTestServer(t, sync)

	p := storage.Post{
		Key:       storage.PostKey("news", "1"),
		MsgID:     "1",
		ChannelID: "news",
		Text:      "breaking story",
		Date:      time.Now().Add(-time.Hour),
	}
	if _, err := store.WritePosts(context.Background(), []storage.Post{p}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?api_key=sekrit", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "breaking story") {
		t.Fatal("stored post missing from the feed")
	}
	if sync.calls != 1 {
		t.Fatalf("sync calls = %d, want 1", sync.calls)
	}
}

func TestFeedSyncFailure(t *testing.T) {
	s, _ := newTestServer(t, &fakeSync{err: errors.New("session is not authorized")})

	req := httptest.NewRequest(http.MethodGet, "/?api_key=sekrit", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "session is not authorized") {
		t.Fatalf("body = %q, want the error string", w.Body.String())
	}
}

func TestFeedMissingAPIKeySecret(t *testing.T) {
	s, _ := newTestServer(t, nil)
	t.Setenv(secrets.InboundAPIKey, "")

	req := httptest.NewRequest(http.MethodGet, "/?api_key=sekrit", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500 when the secret cannot be resolved", w.Code)
	}
}

func TestMediaServing(t *testing.T) {
	s, store := newTestServer(t, nil)
	bucket := blobstore.New(store, "", "")

	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	if _, err := bucket.Put(context.Background(), "news/7.jpg", "image/jpeg", payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Canonical bucket path and the stable /media alias serve the same object.
	for _, target := range []string{"/" + blobstore.DefaultBucket + "/news/7.jpg", "/media/news/7.jpg"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		s.Router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s code = %d", target, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Fatalf("GET %s content type = %q", target, ct)
		}
		if w.Body.Len() != len(payload) {
			t.Fatalf("GET %s body = %d bytes, want %d", target, w.Body.Len(), len(payload))
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/media/news/missing.jpg", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing object code = %d, want 404", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	// alive
	req := httptest.NewRequest(http.MethodGet, "/healthz/alive", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("alive code = %d", w.Code)
	}
	// ready
	req2 := httptest.NewRequest(http.MethodGet, "/healthz/ready", nil)
	w2 := httptest.NewRecorder()
	s.Router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("ready code = %d", w2.Code)
	}
}

func TestMCPRouteMounting(t *testing.T) {
	s, store := newTestServer(t, nil)

	// Without an MCP server configured the route does not exist.
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unconfigured /mcp code = %d, want 404", w.Code)
	}

	m, err := mcpsrv.New(store, retention.New(time.UTC, 24*time.Hour), []string{"news"})
	if err != nil {
		t.Fatalf("new mcp server: %v", err)
	}
	s2, err := NewServer(Config{
		Store:       store,
		Logger:      logging.L(),
		Window:      retention.New(time.UTC, 24*time.Hour),
		Channels:    []string{"news"},
		Secrets:     secrets.NewEnvProvider(),
		MCP:         m,
		SkipWorkers: true,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	// Match only; serving would hold the SSE stream open.
	rctx := chi.NewRouteContext()
	if !s2.Router.Match(rctx, http.MethodGet, "/mcp") {
		t.Fatal("/mcp route not mounted")
	}
}

func TestLangFromRequest(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", "he"},
		{"en", "en"},
		{"en-US,en;q=0.9", "en"},
		{"he-IL", "he"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Accept-Language", tc.header)
		}
		if got := langFromRequest(r, "he"); got != tc.want {
			t.Fatalf("langFromRequest(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/indexcheck/internal/fingerprint"
	"github.com/FranksOps/indexcheck/pkg/proxy"
	"github.com/FranksOps/indexcheck/pkg/useragent"
)

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}
	f, err := NewFetcher(cfg)
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	return f
}

func TestFetcher_Fetch(t *testing.T) {
	var mu sync.Mutex
	var agents []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer ts.Close()

	f := newTestFetcher(t, Config{UAPool: useragent.NewPool([]string{"ua-1", "ua-2"}, useragent.ModeSequential)})

	for i := 0; i < 2; i++ {
		doc, err := f.Fetch(context.Background(), ts.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.StatusCode != 200 || string(doc.Body) != "hello" {
			t.Errorf("unexpected document %d %q", doc.StatusCode, doc.Body)
		}
	}

	if len(agents) != 2 || agents[0] != "ua-1" || agents[1] != "ua-2" {
		t.Errorf("expected rotated user agents, got %v", agents)
	}
}

func TestFetcher_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	f := newTestFetcher(t, Config{})
	doc, err := f.Fetch(context.Background(), ts.URL+"/missing")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 404 {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if doc == nil || doc.StatusCode != 404 {
		t.Errorf("expected document alongside status error")
	}
	if IsBlocked(err) {
		t.Errorf("a plain 404 is not a block")
	}
}

func TestFetcher_Blocked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Attention Required! | Cloudflare"))
	}))
	defer ts.Close()

	f := newTestFetcher(t, Config{})
	_, err := f.Fetch(context.Background(), ts.URL+"/sitemap.xml")
	if !IsBlocked(err) {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestFetcher_MaxBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer ts.Close()

	f := newTestFetcher(t, Config{MaxBodyBytes: 4})
	doc, err := f.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(doc.Body) != "0123" {
		t.Errorf("expected truncated body, got %q", doc.Body)
	}
}

func TestFetcher_Proxy(t *testing.T) {
	var seen string
	// A plain HTTP proxy receives the absolute target URL.
	prx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.String()
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer prx.Close()

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(prx.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := newTestFetcher(t, Config{ProxyPool: pool})
	doc, err := f.Fetch(context.Background(), "http://sitemaps.invalid/sitemap.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(doc.Body) != "via proxy" {
		t.Errorf("expected proxied body, got %q", doc.Body)
	}
	if seen != "http://sitemaps.invalid/sitemap.xml" {
		t.Errorf("expected proxy to see absolute url, got %q", seen)
	}
}

func TestFetcher_ProxyFailureBenchesProxy(t *testing.T) {
	pool := proxy.NewPool(proxy.Config{MaxFailures: 1, Cooldown: time.Hour})
	// Nothing listens on port 1.
	if err := pool.Add("http://127.0.0.1:1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := newTestFetcher(t, Config{ProxyPool: pool, Timeout: 2 * time.Second})
	if _, err := f.Fetch(context.Background(), "http://sitemaps.invalid/"); err == nil {
		t.Fatalf("expected error through dead proxy")
	}
	if u := pool.Next(); u != nil {
		t.Errorf("expected failed proxy to be disabled, got %v", u)
	}
}

func TestFetcher_UnknownFingerprint(t *testing.T) {
	if _, err := NewFetcher(Config{Fingerprint: "netscape"}); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}

func TestSiteRoot(t *testing.T) {
	tests := map[string]string{
		"https://example.com/a/b?x=1": "https://example.com",
		"example.com":                 "https://example.com",
		"http://example.com:8080/":    "http://example.com:8080",
	}
	for in, want := range tests {
		got, err := siteRoot(in)
		if err != nil {
			t.Errorf("siteRoot(%q): %v", in, err)
			continue
		}
		if got.String() != want {
			t.Errorf("siteRoot(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := siteRoot(""); err == nil {
		t.Errorf("expected error for empty site")
	}
}

func TestFetcher_ProxyStats(t *testing.T) {
	f := newTestFetcher(t, Config{})
	if stats := f.ProxyStats(); stats != nil {
		t.Errorf("expected no stats without a pool, got %v", stats)
	}
}

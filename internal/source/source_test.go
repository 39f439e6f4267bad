package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/FranksOps/indexcheck/internal/batch"
)

func TestCollect(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<urlset><url><loc>https://a.com/</loc></url><url><loc>https://b.com/</loc></url></urlset>`))
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<rss version="2.0"><channel><title>t</title><item><link>https://b.com/</link></item><item><link>https://d.com/</link></item></channel></rss>`))
	})

	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte("https://c.com/\nhttps://a.com/\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := Collect(context.Background(), newTestFetcher(t, Config{}), Sources{
		Files:    []string{path},
		Sitemaps: []string{ts.URL + "/sitemap.xml"},
		Feeds:    []string{ts.URL + "/feed"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"https://c.com/", "https://a.com/", "https://b.com/", "https://d.com/"}
	if len(urls) != len(want) {
		t.Fatalf("expected %v, got %v", want, urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("url %d: expected %s, got %s", i, want[i], urls[i])
		}
	}
}

func TestCollect_NoSources(t *testing.T) {
	_, err := Collect(context.Background(), nil, Sources{})
	var cfgErr *batch.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCollect_RemoteWithoutFetcher(t *testing.T) {
	if _, err := Collect(context.Background(), nil, Sources{Feeds: []string{"https://example.com/feed"}}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
}

func TestCollect_FailingSource(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := Collect(context.Background(), newTestFetcher(t, Config{}), Sources{Sitemaps: []string{ts.URL + "/sitemap.xml"}})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
}

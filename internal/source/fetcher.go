package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/indexcheck/internal/bypass"
	"github.com/FranksOps/indexcheck/internal/fingerprint"
	"github.com/FranksOps/indexcheck/internal/metrics"
	"github.com/FranksOps/indexcheck/pkg/httpclient"
	"github.com/FranksOps/indexcheck/pkg/proxy"
	"github.com/FranksOps/indexcheck/pkg/ratelimit"
	"github.com/FranksOps/indexcheck/pkg/useragent"
)

// DefaultMaxBody caps a fetched sitemap, feed or page.
const DefaultMaxBody = 50 << 20

// Config configures a Fetcher.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	Fingerprint  fingerprint.Profile
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
	UAPool             *useragent.Pool
	ProxyPool          *proxy.Pool
	// Limiter paces every fetch. Nil means unpaced.
	Limiter *ratelimit.Limiter
	// MaxBodyBytes truncates larger bodies, default DefaultMaxBody.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Document is a fetched response.
type Document struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-2xx answer that was not a challenge page.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Fetcher downloads discovery documents with the configured TLS profile,
// User-Agent rotation, proxies and pacing.
type Fetcher struct {
	config Config
	client *httpclient.Client
	logger *slog.Logger
}

// NewFetcher initializes a new Fetcher with the given configuration. The
// transport is built once so connections are pooled across fetches.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil, useragent.ModeSequential)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBody
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Per-request proxy rotation: the pool's pick travels in the request context.
	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Proxy:              proxy.FromRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("source: setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("source: create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client, logger: cfg.Logger}, nil
}

// Fetch GETs targetURL. The returned Document is non-nil whenever a response
// arrived, including alongside a *StatusError or *bypass.BlockedError.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Document, error) {
	if f.config.Limiter != nil {
		if err := f.config.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("source: rate limiter: %w", err)
		}
	}

	activeProxy := f.config.ProxyPool.Next()

	req, err := http.NewRequestWithContext(proxy.WithProxy(ctx, activeProxy), http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UAPool.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req.Context(), req)
	if activeProxy != nil {
		_ = f.config.ProxyPool.Report(activeProxy, err)
		if err != nil {
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", targetURL, err)
	}

	doc := &Document{URL: targetURL, StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	f.logger.Debug("fetched", "url", targetURL, "status", resp.StatusCode, "bytes", len(body), "duration", time.Since(start))

	if err := bypass.Check(targetURL, bypass.Response{StatusCode: doc.StatusCode, Header: doc.Header, Body: doc.Body}); err != nil {
		return doc, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return doc, &StatusError{URL: targetURL, StatusCode: resp.StatusCode}
	}
	return doc, nil
}

// ProxyStats reports the health of the fetcher's proxies, nil without a pool.
func (f *Fetcher) ProxyStats() []proxy.Stat {
	return f.config.ProxyPool.Stats()
}

// IsBlocked reports whether err came from a challenge page.
func IsBlocked(err error) bool {
	var blocked *bypass.BlockedError
	return errors.As(err, &blocked)
}

func siteRoot(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("source: empty site")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Bare hosts like "example.com"
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return nil, fmt.Errorf("source: invalid site %q: %w", raw, err)
		}
	}
	if u.Host == "" {
		return nil, fmt.Errorf("source: invalid site %q", raw)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultSecretParams lists query parameters that are masked in errors.
var DefaultSecretParams = []string{"api_key", "token", "key"}

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	// UserAgent is set on requests that do not carry one already.
	UserAgent string
	// SecretParams are query parameters masked in returned errors.
	// Nil means DefaultSecretParams.
	SecretParams []string
	// Provide a custom Transport, e.g. for uTLS fingerprinting
	Transport http.RoundTripper
}

// Client wraps a standard http.Client to provide configurable timeouts,
// redirect policies, a default User-Agent and credential redaction.
type Client struct {
	*http.Client
	userAgent string
	secrets   *regexp.Regexp
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SecretParams == nil {
		cfg.SecretParams = DefaultSecretParams
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	// Setup custom redirect policy
	if cfg.MaxRedirects >= 0 {
		limit := cfg.MaxRedirects
		if limit == 0 {
			limit = 10
		}
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	} else {
		// Don't follow any redirects if max < 0
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.Transport != nil {
		c.Transport = cfg.Transport
	}

	var secrets *regexp.Regexp
	if len(cfg.SecretParams) > 0 {
		quoted := make([]string, len(cfg.SecretParams))
		for i, p := range cfg.SecretParams {
			quoted[i] = regexp.QuoteMeta(p)
		}
		secrets = regexp.MustCompile(`((?:^|[?&])(?:` + strings.Join(quoted, "|") + `)=)[^&\s"]*`)
	}

	return &Client{Client: c, userAgent: cfg.UserAgent, secrets: secrets}, nil
}

// Do executes an HTTP request. The provided context.Context should control
// the overarching request timeout/cancellation independent of the client timeout.
// Transport errors have secret query parameters masked.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("httpclient: context cannot be nil")
	}

	// Always clone the request with the provided context
	reqWithCtx := req.Clone(ctx)
	if c.userAgent != "" && reqWithCtx.Header.Get("User-Agent") == "" {
		reqWithCtx.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.Client.Do(reqWithCtx)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			// url.Error embeds the full request URL, credentials included.
			urlErr.URL = c.Redact(urlErr.URL)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, c.Redact(req.URL.Redacted()), err)
	}
	return resp, nil
}

// Redact masks the values of secret query parameters in s.
func (c *Client) Redact(s string) string {
	if c.secrets == nil {
		return s
	}
	return c.secrets.ReplaceAllString(s, "${1}REDACTED")
}

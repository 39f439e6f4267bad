// Package proxy rotates outbound source fetches across a list of proxies and
// benches the ones that keep failing.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when reporting on a proxy the pool does not hold.
var ErrNotFound = errors.New("proxy: not in pool")

// Config tunes benching. Zero values use the defaults.
type Config struct {
	// MaxFailures in a row benches a proxy, default 3.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out, default 5m.
	Cooldown time.Duration
}

// Stat is a snapshot of one proxy's health. URL has its password redacted.
type Stat struct {
	URL       string
	Successes int
	Failures  int
	Benched   bool
}

type entry struct {
	url          *url.URL
	successes    int
	failures     int // consecutive
	benchedUntil time.Time
}

// Pool hands out proxies round robin, skipping benched ones.
type Pool struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	order  []*entry
	byURL  map[string]*entry
	cursor int
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{cfg: cfg, now: time.Now, byURL: make(map[string]*entry)}
}

// LoadFile adds the proxies listed in path.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	defer f.Close()
	return p.Load(f)
}

// Load adds one proxy per line of r. Blank lines and '#' comments are skipped.
func (p *Pool) Load(r io.Reader) error {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: read list: %w", err)
	}
	return p.Add(lines...)
}

// Add parses and appends proxies. A missing scheme means http. Duplicates
// are ignored.
func (p *Pool) Add(raw ...string) error {
	parsed := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		if !strings.Contains(r, "://") {
			r = "http://" + r
		}
		u, err := url.Parse(r)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: %q has no host", u.Redacted())
		}
		parsed = append(parsed, u)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range parsed {
		key := u.String()
		if _, dup := p.byURL[key]; dup {
			continue
		}
		e := &entry{url: u}
		p.byURL[key] = e
		p.order = append(p.order, e)
	}
	return nil
}

// Len reports how many proxies the pool holds, benched or not.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Next returns the next proxy that is not benched, or nil when the pool is
// nil, empty or entirely benched.
func (p *Pool) Next() *url.URL {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.order {
		e := p.order[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.order)
		if !now.Before(e.benchedUntil) {
			return e.url
		}
	}
	return nil
}

// Report records the outcome of a request made through u. A nil err is a
// success and clears the failure streak; MaxFailures errors in a row bench
// the proxy for Cooldown.
func (p *Pool) Report(u *url.URL, err error) error {
	if u == nil {
		return errors.New("proxy: nil url")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byURL[u.String()]
	if !ok {
		return ErrNotFound
	}
	if err == nil {
		e.successes++
		e.failures = 0
		return nil
	}
	e.failures++
	if e.failures >= p.cfg.MaxFailures {
		e.benchedUntil = p.now().Add(p.cfg.Cooldown)
		e.failures = 0
	}
	return nil
}

// Stats returns the health of every proxy in pool order.
func (p *Pool) Stats() []Stat {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Stat, 0, len(p.order))
	for _, e := range p.order {
		out = append(out, Stat{
			URL:       e.url.Redacted(),
			Successes: e.successes,
			Failures:  e.failures,
			Benched:   now.Before(e.benchedUntil),
		})
	}
	return out
}

type contextKey struct{}

// WithProxy returns a context that routes requests built from it through u.
func WithProxy(ctx context.Context, u *url.URL) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext returns the proxy stored by WithProxy, if any.
func FromContext(ctx context.Context) (*url.URL, bool) {
	u, ok := ctx.Value(contextKey{}).(*url.URL)
	return u, ok && u != nil
}

// FromRequest is an http.Transport Proxy func. It prefers the proxy carried
// by the request context and falls back to the environment.
func FromRequest(req *http.Request) (*url.URL, error) {
	if u, ok := FromContext(req.Context()); ok {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}

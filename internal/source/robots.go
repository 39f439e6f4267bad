package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// Robots fetches and caches robots.txt per site root. A missing robots.txt
// (4xx) allows everything; 5xx disallows everything.
type Robots struct {
	fetcher *Fetcher
	mu      sync.Mutex
	cache   map[string]*robotstxt.RobotsData
}

// NewRobots creates a robots.txt reader bound to f.
func NewRobots(f *Fetcher) *Robots {
	return &Robots{fetcher: f, cache: make(map[string]*robotstxt.RobotsData)}
}

// Data returns the parsed robots.txt of site.
func (r *Robots) Data(ctx context.Context, site string) (*robotstxt.RobotsData, error) {
	root, err := siteRoot(site)
	if err != nil {
		return nil, err
	}
	key := root.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if data, ok := r.cache[key]; ok {
		return data, nil
	}

	robotsURL := key + "/robots.txt"
	doc, err := r.fetcher.Fetch(ctx, robotsURL)
	var statusErr *StatusError
	switch {
	case doc == nil:
		return nil, fmt.Errorf("robots %s: %w", robotsURL, err)
	case err != nil && !errors.As(err, &statusErr):
		return nil, fmt.Errorf("robots %s: %w", robotsURL, err)
	}

	data, err := robotstxt.FromStatusAndBytes(doc.StatusCode, doc.Body)
	if err != nil {
		return nil, fmt.Errorf("robots %s: parse: %w", robotsURL, err)
	}
	r.cache[key] = data
	return data, nil
}

// Allowed reports whether agent may fetch targetURL. Lookup failures allow.
func (r *Robots) Allowed(ctx context.Context, targetURL, agent string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	data, err := r.Data(ctx, targetURL)
	if err != nil {
		r.fetcher.logger.Debug("robots.txt lookup failed, allowing", "url", targetURL, "err", err)
		return true
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, agent)
}

// Sitemaps returns the sitemap URLs site declares, or /sitemap.xml when it
// declares none.
func (r *Robots) Sitemaps(ctx context.Context, site string) ([]string, error) {
	data, err := r.Data(ctx, site)
	if err != nil {
		return nil, err
	}
	if len(data.Sitemaps) > 0 {
		return data.Sitemaps, nil
	}
	root, _ := siteRoot(site)
	return []string{root.String() + "/sitemap.xml"}, nil
}

// URLs expands every sitemap site declares into page URLs.
func (r *Robots) URLs(ctx context.Context, site string) ([]string, error) {
	sitemaps, err := r.Sitemaps(ctx, site)
	if err != nil {
		return nil, err
	}

	var urls []string
	var errs []error
	for _, sm := range sitemaps {
		found, err := r.fetcher.Sitemap(ctx, sm)
		if err != nil {
			r.fetcher.logger.Warn("failed to fetch declared sitemap", "site", site, "sitemap", sm, "err", err)
			errs = append(errs, err)
			continue
		}
		urls = append(urls, found...)
	}
	if len(urls) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return urls, nil
}

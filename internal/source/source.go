// Package source gathers the URL list an indexation check runs on: plain
// lists and CSV columns on disk, and sitemaps, robots.txt declarations,
// crawled pages and feeds fetched over HTTP.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/metrics"
)

// Kind names a URL source.
type Kind string

const (
	KindFile    Kind = "file"
	KindSitemap Kind = "sitemap"
	KindRobots  Kind = "robots"
	KindPage    Kind = "page"
	KindFeed    Kind = "feed"
)

// Sources lists where to read URLs from.
type Sources struct {
	Files []string
	// Column selects the CSV column holding URLs.
	Column   string
	Sitemaps []string
	// Robots are sites whose robots.txt sitemaps are expanded.
	Robots []string
	// Pages are crawl seeds.
	Pages []string
	Feeds []string
	Crawl CrawlConfig
}

func (s Sources) remote() bool {
	return len(s.Sitemaps)+len(s.Robots)+len(s.Pages)+len(s.Feeds) > 0
}

// Empty reports whether no source is configured.
func (s Sources) Empty() bool {
	return len(s.Files) == 0 && !s.remote()
}

// Collect reads every configured source in order and returns the
// de-duplicated union. Any failing source fails the collection. f may be nil
// when only files are read.
func Collect(ctx context.Context, f *Fetcher, s Sources) ([]string, error) {
	if s.Empty() {
		return nil, &batch.ConfigurationError{Field: "urls", Reason: "no URL source given"}
	}
	if f == nil && s.remote() {
		return nil, errors.New("source: remote sources need a fetcher")
	}

	var all []string
	collect := func(kind Kind, from string, urls []string, err error) error {
		if err != nil {
			return fmt.Errorf("%s source %s: %w", kind, from, err)
		}
		metrics.SourceURLsTotal.WithLabelValues(string(kind)).Add(float64(len(urls)))
		if f != nil {
			f.logger.Info("urls collected", "source", kind, "from", from, "count", len(urls))
		}
		all = append(all, urls...)
		return nil
	}

	for _, path := range s.Files {
		urls, err := ReadFile(path, s.Column)
		if err := collect(KindFile, path, urls, err); err != nil {
			return nil, err
		}
	}
	for _, sm := range s.Sitemaps {
		urls, err := f.Sitemap(ctx, sm)
		if err := collect(KindSitemap, sm, urls, err); err != nil {
			return nil, err
		}
	}
	if len(s.Robots) > 0 {
		robots := NewRobots(f)
		for _, site := range s.Robots {
			urls, err := robots.URLs(ctx, site)
			if err := collect(KindRobots, site, urls, err); err != nil {
				return nil, err
			}
		}
	}
	if len(s.Pages) > 0 {
		urls, err := f.Crawl(ctx, s.Pages, s.Crawl)
		if err := collect(KindPage, fmt.Sprintf("%d seeds", len(s.Pages)), urls, err); err != nil {
			return nil, err
		}
	}
	for _, feed := range s.Feeds {
		urls, err := f.Feed(ctx, feed)
		if err := collect(KindFeed, feed, urls, err); err != nil {
			return nil, err
		}
	}

	return batch.Dedupe(all), nil
}

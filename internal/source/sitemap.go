package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/oxffaa/gopher-parse-sitemap"
)

// maxSitemapDepth bounds sitemap index nesting.
const maxSitemapDepth = 5

var errNotSitemap = errors.New("no urlset or sitemapindex found")

// Sitemap fetches a sitemap or sitemap index and recursively extracts every
// page location. Gzipped sitemaps are accepted. A nested sitemap that fails
// is logged and skipped.
func (f *Fetcher) Sitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	return f.sitemap(ctx, sitemapURL, 0, make(map[string]struct{}))
}

func (f *Fetcher) sitemap(ctx context.Context, sitemapURL string, depth int, seen map[string]struct{}) ([]string, error) {
	if _, ok := seen[sitemapURL]; ok {
		return nil, nil
	}
	seen[sitemapURL] = struct{}{}

	f.logger.Debug("fetching sitemap", "url", sitemapURL, "depth", depth)

	doc, err := f.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, err)
	}
	body, err := gunzip(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, err)
	}

	var urls []string
	err = sitemap.Parse(bytes.NewReader(body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})
	if err == nil && len(urls) > 0 {
		return urls, nil
	}

	// It might be a sitemap index
	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		if err == nil {
			err = indexErr
		}
		if err == nil && bytes.Contains(body, []byte("<urlset")) {
			// A well-formed but empty urlset
			return nil, nil
		}
		if err == nil {
			err = errNotSitemap
		}
		return nil, fmt.Errorf("sitemap %s: parse as sitemap or index: %w", sitemapURL, err)
	}

	if depth+1 > maxSitemapDepth {
		f.logger.Warn("sitemap index nested too deep", "url", sitemapURL, "depth", depth)
		return nil, nil
	}
	for _, nestedURL := range nested {
		nestedURLs, err := f.sitemap(ctx, nestedURL, depth+1, seen)
		if err != nil {
			if ctx.Err() != nil {
				return urls, ctx.Err()
			}
			f.logger.Warn("failed to fetch nested sitemap", "url", nestedURL, "err", err)
			continue
		}
		urls = append(urls, nestedURLs...)
	}
	return urls, nil
}

// gunzip returns body decompressed when it carries the gzip magic bytes.
func gunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, DefaultMaxBody))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

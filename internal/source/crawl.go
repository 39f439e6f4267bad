package source

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// CrawlConfig bounds a link crawl.
type CrawlConfig struct {
	// MaxDepth is the number of link hops followed from the seeds, default 1.
	MaxDepth int
	// MaxPages caps the number of URLs returned, 0 for no cap.
	MaxPages    int
	Concurrency int
	// Domains in scope. Empty means the seeds' hosts.
	Domains []string
	// RespectRobots drops URLs robots.txt disallows for UserAgent.
	RespectRobots bool
	UserAgent     string
}

// Crawl walks same-site links breadth first from seeds and returns every
// in-scope URL found, seeds first, in discovery order. Pages that fail to
// load are logged and contribute no links.
func (f *Fetcher) Crawl(ctx context.Context, seeds []string, cfg CrawlConfig) ([]string, error) {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	if len(cfg.Domains) == 0 {
		for _, s := range seeds {
			if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
				cfg.Domains = append(cfg.Domains, u.Hostname())
			}
		}
	}

	var robots *Robots
	if cfg.RespectRobots {
		robots = NewRobots(f)
	}

	c := &crawl{cfg: cfg, visited: make(map[string]struct{})}
	var found []string
	var frontier []string
	add := func(raw string) bool {
		if cfg.MaxPages > 0 && len(found) >= cfg.MaxPages {
			return false
		}
		norm, ok := c.admit(raw)
		if !ok {
			return true
		}
		if robots != nil && !robots.Allowed(ctx, norm, cfg.UserAgent) {
			f.logger.Debug("url blocked by robots.txt", "url", norm)
			return true
		}
		found = append(found, norm)
		frontier = append(frontier, norm)
		return true
	}

	for _, s := range seeds {
		if !add(s) {
			break
		}
	}

	for depth := 0; depth < cfg.MaxDepth && len(frontier) > 0; depth++ {
		pages := frontier
		frontier = nil

		links := make([][]string, len(pages))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for i, page := range pages {
			g.Go(func() error {
				doc, err := f.Fetch(gctx, page)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					f.logger.Warn("crawl fetch failed", "url", page, "err", err)
					return nil
				}
				if !strings.Contains(strings.ToLower(doc.Header.Get("Content-Type")), "text/html") {
					return nil
				}
				links[i] = extractLinks(page, doc.Body)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return found, err
		}

		for _, ls := range links {
			for _, l := range ls {
				if !add(l) {
					return found, nil
				}
			}
		}
	}
	return found, nil
}

type crawl struct {
	cfg     CrawlConfig
	visited map[string]struct{}
}

// admit normalizes raw and reports whether it is new and in scope.
func (c *crawl) admit(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	norm := u.String()

	if _, seen := c.visited[norm]; seen {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	inScope := false
	for _, domain := range c.cfg.Domains {
		d := strings.ToLower(domain)
		if host == d || strings.HasSuffix(host, "."+d) {
			inScope = true
			break
		}
	}
	if !inScope {
		return "", false
	}

	c.visited[norm] = struct{}{}
	return norm, true
}

func extractLinks(baseURL string, body []byte) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	// <base href> changes how relative links resolve
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			base = base.ResolveReference(u)
		}
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if rel, _ := s.Attr("rel"); strings.Contains(strings.ToLower(rel), "nofollow") {
			return
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(u).String())
	})
	return links
}

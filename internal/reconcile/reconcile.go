// Package reconcile turns downloaded result pages into per-URL verdicts.
package reconcile

import (
	"github.com/FranksOps/indexcheck/internal/storage"
)

// Index maps each query to the set of organic links returned for it, keeping
// the best rank per link. It is built once per run.
type Index struct {
	order []string
	links map[string]map[string]int
}

// NewIndex builds an index over pages. Repeated query/link pairs collapse.
func NewIndex(pages ...ResultPage) *Index {
	ix := &Index{links: make(map[string]map[string]int)}
	for _, p := range pages {
		ix.Add(p)
	}
	return ix
}

// Add merges one page into the index.
func (ix *Index) Add(page ResultPage) {
	for _, r := range page.Rows {
		set, ok := ix.links[r.Query]
		if !ok {
			set = make(map[string]int)
			ix.links[r.Query] = set
			ix.order = append(ix.order, r.Query)
		}
		if r.Link == "" {
			continue
		}
		if best, seen := set[r.Link]; !seen || (r.Position > 0 && (best == 0 || r.Position < best)) {
			set[r.Link] = r.Position
		}
	}
}

// Queries returns the distinct queries in first-seen order.
func (ix *Index) Queries() []string {
	return append([]string(nil), ix.order...)
}

// Lookup reports whether link was returned for query and at which best rank.
func (ix *Index) Lookup(query, link string) (int, bool) {
	pos, ok := ix.links[query][link]
	return pos, ok
}

// Reconcile produces one verdict per distinct URL, in urls order. A URL is
// indexed iff it appears verbatim among the links returned for itself as the
// query. URLs with no result rows are not indexed. With no urls, the queries
// found in the pages are used instead.
func Reconcile(urls []string, pages []ResultPage) []storage.Verdict {
	ix := NewIndex(pages...)
	if len(urls) == 0 {
		urls = ix.Queries()
	}

	seen := make(map[string]struct{}, len(urls))
	verdicts := make([]storage.Verdict, 0, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		pos, ok := ix.Lookup(u, u)
		verdicts = append(verdicts, storage.Verdict{URL: u, Indexed: ok, Position: pos})
	}
	return verdicts
}

// Count splits verdicts into indexed and not-indexed totals.
func Count(verdicts []storage.Verdict) (indexed, notIndexed int) {
	for _, v := range verdicts {
		if v.Indexed {
			indexed++
		} else {
			notIndexed++
		}
	}
	return indexed, notIndexed
}

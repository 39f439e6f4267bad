package reconcile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column names in the provider's CSV export.
const (
	ColumnQuery    = "search.q"
	ColumnLink     = "result.organic_results.link"
	ColumnPosition = "result.organic_results.position"
)

// Row binds a query to one organic result. A query that returned nothing is
// a single row with an empty Link.
type Row struct {
	Query    string
	Link     string
	Position int
}

// ResultPage is one downloaded export page.
type ResultPage struct {
	Source string
	Rows   []Row
}

// ParseCSV reads a result page, locating columns by header name.
func ParseCSV(r io.Reader, source string) (ResultPage, error) {
	page := ResultPage{Source: source}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return page, fmt.Errorf("result page %s: empty", source)
		}
		return page, fmt.Errorf("result page %s: read header: %w", source, err)
	}

	qi, li, pi := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case ColumnQuery:
			qi = i
		case ColumnLink:
			li = i
		case ColumnPosition:
			pi = i
		}
	}
	if qi < 0 || li < 0 {
		return page, fmt.Errorf("result page %s: missing %s or %s column", source, ColumnQuery, ColumnLink)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return page, fmt.Errorf("result page %s: %w", source, err)
		}
		if qi >= len(rec) || rec[qi] == "" {
			continue
		}

		row := Row{Query: rec[qi]}
		if li < len(rec) {
			row.Link = rec[li]
		}
		if pi >= 0 && pi < len(rec) {
			row.Position, _ = strconv.Atoi(strings.TrimSpace(rec[pi]))
		}
		page.Rows = append(page.Rows, row)
	}
	return page, nil
}

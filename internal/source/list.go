package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadList reads one URL per line. Blank lines and lines starting with '#'
// are skipped.
func ReadList(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("source: read list: %w", err)
	}
	return urls, nil
}

// ReadCSV reads the named column of a CSV file with a header row. An empty
// column name is accepted when the file has a single column.
func ReadCSV(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("source: csv is empty")
		}
		return nil, fmt.Errorf("source: read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	idx := -1
	switch {
	case column != "":
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), column) {
				idx = i
				break
			}
		}
	case len(header) == 1:
		idx = 0
	}
	if idx < 0 {
		return nil, fmt.Errorf("source: csv column %q not found (have %s)", column, strings.Join(header, ", "))
	}

	var urls []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source: read csv: %w", err)
		}
		if idx >= len(rec) {
			continue
		}
		if v := strings.TrimSpace(rec[idx]); v != "" {
			urls = append(urls, v)
		}
	}
	return urls, nil
}

// ReadFile reads a URL list from path, "-" meaning stdin. Files ending in
// .csv are read with ReadCSV, everything else with ReadList.
func ReadFile(path, column string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		defer f.Close()
		r = f
	}

	if strings.EqualFold(filepath.Ext(path), ".csv") || column != "" {
		return ReadCSV(r, column)
	}
	return ReadList(r)
}

package batch

import (
	"strings"
)

// Dedupe removes exact duplicates while preserving the order of first
// occurrence. Entries are kept verbatim; only empty or whitespace-only entries
// are dropped. Trimming belongs to the readers that produce the list.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Truncate caps urls at ceiling entries. When entries are dropped it returns a
// TruncationWarning describing the cut; the kept prefix is always in input order.
// A ceiling <= 0 disables truncation.
func Truncate(urls []string, ceiling int) ([]string, *TruncationWarning) {
	if ceiling <= 0 || len(urls) <= ceiling {
		return urls, nil
	}
	return urls[:ceiling:ceiling], &TruncationWarning{
		Limit:   ceiling,
		Total:   len(urls),
		Dropped: len(urls) - ceiling,
	}
}

// Chunk partitions urls into contiguous groups of at most maxSize entries.
// Concatenating the returned chunks yields urls unchanged.
func Chunk(urls []string, maxSize int) ([][]string, error) {
	if maxSize <= 0 {
		return nil, &ConfigurationError{Field: "max_chunk_size", Reason: "must be greater than zero"}
	}

	chunks := make([][]string, 0, (len(urls)+maxSize-1)/maxSize)
	for start := 0; start < len(urls); start += maxSize {
		end := start + maxSize
		if end > len(urls) {
			end = len(urls)
		}
		// Cap capacity so appending to one chunk never bleeds into the next.
		chunks = append(chunks, urls[start:end:end])
	}
	return chunks, nil
}

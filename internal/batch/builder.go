package batch

import (
	"strings"
)

const (
	DefaultResultCount   = 20
	DefaultMaxChunkSize  = 1000
	DefaultMaxTotalItems = 15000
)

// SearchConfig carries the per-run search parameters. APIKey is never
// serialized; it is supplied again by whoever executes a phase.
type SearchConfig struct {
	APIKey        string `json:"-"`
	Location      string `json:"location"`
	Domain        string `json:"domain"`
	ResultCount   int    `json:"result_count"`
	MaxChunkSize  int    `json:"max_chunk_size"`
	MaxTotalItems int    `json:"max_total_items"`
}

// WithDefaults returns a copy with zero numeric fields set to the provider defaults.
func (c SearchConfig) WithDefaults() SearchConfig {
	if c.ResultCount == 0 {
		c.ResultCount = DefaultResultCount
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.MaxTotalItems == 0 {
		c.MaxTotalItems = DefaultMaxTotalItems
	}
	return c
}

// Validate reports the first missing or out-of-range field.
func (c SearchConfig) Validate() error {
	required := []struct {
		field, value string
	}{
		{"api_key", c.APIKey},
		{"location", c.Location},
		{"domain", c.Domain},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigurationError{Field: r.field, Reason: "is required"}
		}
	}
	if c.ResultCount <= 0 {
		return &ConfigurationError{Field: "result_count", Reason: "must be greater than zero"}
	}
	if c.MaxChunkSize <= 0 {
		return &ConfigurationError{Field: "max_chunk_size", Reason: "must be greater than zero"}
	}
	if c.MaxTotalItems < 0 {
		return &ConfigurationError{Field: "max_total_items", Reason: "cannot be negative"}
	}
	return nil
}

// SearchRequest is a single search appended to a batch. The query is the URL
// being checked.
type SearchRequest struct {
	Query    string `json:"q"`
	Location string `json:"location"`
	Domain   string `json:"google_domain"`
	Num      int    `json:"num"`
}

// Descriptor is the body used to register an empty batch job.
type Descriptor struct {
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	ScheduleType string `json:"schedule_type"`
	Priority     string `json:"priority"`
	SearchesType string `json:"searches_type"`
}

// DefaultDescriptor describes a manually scheduled web search batch.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Name:         "indexation_checker",
		Enabled:      true,
		ScheduleType: "manual",
		Priority:     "normal",
		SearchesType: "web",
	}
}

// Build converts one chunk into search requests, one per URL and in chunk order.
func Build(chunk []string, cfg SearchConfig) ([]SearchRequest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reqs := make([]SearchRequest, 0, len(chunk))
	for _, u := range chunk {
		reqs = append(reqs, SearchRequest{
			Query:    u,
			Location: cfg.Location,
			Domain:   cfg.Domain,
			Num:      cfg.ResultCount,
		})
	}
	return reqs, nil
}

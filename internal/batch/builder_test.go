package batch

import (
	"errors"
	"testing"
)

func validConfig() SearchConfig {
	return SearchConfig{
		APIKey:   "key",
		Location: "France",
		Domain:   "google.fr",
	}.WithDefaults()
}

func TestBuild(t *testing.T) {
	chunk := []string{"https://a.com", "https://b.com"}
	reqs, err := Build(chunk, validConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	for i, r := range reqs {
		if r.Query != chunk[i] {
			t.Errorf("expected query %s, got %s", chunk[i], r.Query)
		}
		if r.Location != "France" || r.Domain != "google.fr" || r.Num != DefaultResultCount {
			t.Errorf("unexpected request %+v", r)
		}
	}

	again, _ := Build(chunk, validConfig())
	for i := range reqs {
		if reqs[i] != again[i] {
			t.Errorf("build is not deterministic at %d", i)
		}
	}
}

func TestBuild_MissingFields(t *testing.T) {
	for field, mutate := range map[string]func(*SearchConfig){
		"api_key":        func(c *SearchConfig) { c.APIKey = " " },
		"location":       func(c *SearchConfig) { c.Location = "" },
		"domain":         func(c *SearchConfig) { c.Domain = "" },
		"result_count":   func(c *SearchConfig) { c.ResultCount = -1 },
		"max_chunk_size": func(c *SearchConfig) { c.MaxChunkSize = -5 },
	} {
		cfg := validConfig()
		mutate(&cfg)
		_, err := Build([]string{"https://a.com"}, cfg)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected ConfigurationError, got %v", field, err)
		}
		if cfgErr.Field != field {
			t.Errorf("expected field %s, got %s", field, cfgErr.Field)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	c := SearchConfig{ResultCount: 50}.WithDefaults()
	if c.ResultCount != 50 || c.MaxChunkSize != DefaultMaxChunkSize || c.MaxTotalItems != DefaultMaxTotalItems {
		t.Errorf("unexpected defaults %+v", c)
	}
}

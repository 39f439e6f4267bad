// Package storagetest holds the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/storage"
)

// NewRun returns a run fixture created at the given time.
func NewRun(id string, created time.Time) *storage.Run {
	return &storage.Run{
		ID:   id,
		URLs: []string{"https://a.com/", "https://b.com/", "https://c.com/"},
		Config: batch.SearchConfig{
			APIKey:   "secret",
			Location: "France",
			Domain:   "google.fr",
		}.WithDefaults(),
		Status:      batch.StatusConfigured,
		Requested:   3,
		ChunksTotal: 1,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// Run exercises b with the shared backend contract. b must be empty.
func Run(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := NewRun("run-older", now.Add(-2*time.Hour))
	newer := NewRun("run-newer", now.Add(-1*time.Hour))

	for _, r := range []*storage.Run{older, newer} {
		if err := b.SaveRun(ctx, r); err != nil {
			t.Fatalf("Failed to save run %s: %v", r.ID, err)
		}
	}

	// Upsert: advance the newer run to RUNNING with a job id
	newer.JobID = "BATCH1"
	newer.Status = batch.StatusRunning
	newer.Accepted = 3
	newer.ChunksAppended = 1
	newer.UpdatedAt = now
	if err := b.SaveRun(ctx, newer); err != nil {
		t.Fatalf("Failed to update run: %v", err)
	}

	got, err := b.GetRun(ctx, "run-newer")
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.JobID != "BATCH1" || got.Status != batch.StatusRunning || got.Accepted != 3 || got.ChunksAppended != 1 {
		t.Errorf("Expected updated run, got %+v", got)
	}
	if len(got.URLs) != 3 || got.URLs[1] != "https://b.com/" {
		t.Errorf("Expected urls to round trip in order, got %v", got.URLs)
	}
	if got.Config.Location != "France" || got.Config.Domain != "google.fr" || got.Config.ResultCount != batch.DefaultResultCount {
		t.Errorf("Expected config to round trip, got %+v", got.Config)
	}
	if got.Config.APIKey != "" {
		t.Errorf("API key must never be persisted")
	}
	if got.CreatedAt.Unix() != newer.CreatedAt.Unix() {
		t.Errorf("Expected CreatedAt %v, got %v", newer.CreatedAt, got.CreatedAt)
	}

	if _, err := b.GetRun(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// ListRuns: newest first, filters, paging
	all, err := b.ListRuns(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(all))
	}
	if all[0].ID != "run-newer" {
		t.Errorf("Expected run-newer first, got %s", all[0].ID)
	}

	byJob, err := b.ListRuns(ctx, storage.Filter{JobID: "BATCH1"})
	if err != nil {
		t.Fatalf("Failed to list by job: %v", err)
	}
	if len(byJob) != 1 || byJob[0].ID != "run-newer" {
		t.Errorf("Expected only run-newer for job filter, got %d runs", len(byJob))
	}

	byStatus, err := b.ListRuns(ctx, storage.Filter{Status: batch.StatusConfigured})
	if err != nil {
		t.Fatalf("Failed to list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "run-older" {
		t.Errorf("Expected only run-older for status filter")
	}

	since := now.Add(-90 * time.Minute)
	bySince, err := b.ListRuns(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("Failed to list by since: %v", err)
	}
	if len(bySince) != 1 || bySince[0].ID != "run-newer" {
		t.Errorf("Expected only run-newer for since filter")
	}

	offset, err := b.ListRuns(ctx, storage.Filter{Offset: 1})
	if err != nil {
		t.Fatalf("Failed to list with offset: %v", err)
	}
	if len(offset) != 1 || offset[0].ID != "run-older" {
		t.Errorf("Expected run-older at offset 1")
	}

	limit, err := b.ListRuns(ctx, storage.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("Failed to list with limit: %v", err)
	}
	if len(limit) != 1 {
		t.Errorf("Expected 1 run with limit, got %d", len(limit))
	}

	// Verdicts: replace semantics and order
	first := []storage.Verdict{
		{URL: "https://a.com/", Indexed: false},
		{URL: "https://b.com/", Indexed: false},
		{URL: "https://c.com/", Indexed: false},
	}
	if err := b.SaveVerdicts(ctx, "run-newer", first); err != nil {
		t.Fatalf("Failed to save verdicts: %v", err)
	}
	second := []storage.Verdict{
		{URL: "https://a.com/", Indexed: true, Position: 1},
		{URL: "https://b.com/", Indexed: false},
		{URL: "https://c.com/", Indexed: true, Position: 7},
	}
	if err := b.SaveVerdicts(ctx, "run-newer", second); err != nil {
		t.Fatalf("Failed to replace verdicts: %v", err)
	}

	vs, err := b.QueryVerdicts(ctx, storage.VerdictFilter{RunID: "run-newer"})
	if err != nil {
		t.Fatalf("Failed to query verdicts: %v", err)
	}
	if len(vs) != 3 {
		t.Fatalf("Expected 3 verdicts after replace, got %d", len(vs))
	}
	for i := range second {
		if vs[i] != second[i] {
			t.Errorf("Verdict %d: expected %+v, got %+v", i, second[i], vs[i])
		}
	}

	yes := true
	indexed, err := b.QueryVerdicts(ctx, storage.VerdictFilter{RunID: "run-newer", Indexed: &yes})
	if err != nil {
		t.Fatalf("Failed to query indexed verdicts: %v", err)
	}
	if len(indexed) != 2 || indexed[1].URL != "https://c.com/" {
		t.Errorf("Expected 2 indexed verdicts in order, got %v", indexed)
	}

	paged, err := b.QueryVerdicts(ctx, storage.VerdictFilter{RunID: "run-newer", Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("Failed to page verdicts: %v", err)
	}
	if len(paged) != 1 || paged[0].URL != "https://b.com/" {
		t.Errorf("Expected b.com at offset 1, got %v", paged)
	}

	none, err := b.QueryVerdicts(ctx, storage.VerdictFilter{RunID: "run-older"})
	if err != nil {
		t.Fatalf("Failed to query empty verdicts: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no verdicts for run-older, got %d", len(none))
	}
}

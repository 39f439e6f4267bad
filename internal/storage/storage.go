package storage

import (
	"context"
	"errors"
	"time"

	"github.com/FranksOps/indexcheck/internal/batch"
)

// ErrNotFound is returned when a run id is unknown to the backend.
var ErrNotFound = errors.New("run not found")

// Run is the cross-phase state of one indexation check. It is the only state
// carried between configure, submit, start and retrieve.
type Run struct {
	ID             string             `json:"id"`
	JobID          string             `json:"job_id"`
	URLs           []string           `json:"urls"`
	Config         batch.SearchConfig `json:"config"`
	Status         batch.JobStatus    `json:"status"`
	Requested      int                `json:"requested"`
	Accepted       int                `json:"accepted"`
	ChunksTotal    int                `json:"chunks_total"`
	ChunksAppended int                `json:"chunks_appended"`
	LastError      string             `json:"last_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Verdict is the indexation outcome for one URL. Position is the best organic
// rank the URL was found at, or 0 when it was not found.
type Verdict struct {
	URL      string `json:"url"`
	Indexed  bool   `json:"indexed"`
	Position int    `json:"position,omitempty"`
}

// Filter narrows ListRuns.
type Filter struct {
	JobID  string
	Status batch.JobStatus
	Since  *time.Time
	Limit  int
	Offset int
}

// VerdictFilter narrows QueryVerdicts to one run.
type VerdictFilter struct {
	RunID   string
	Indexed *bool
	Limit   int
	Offset  int
}

// Backend persists runs and their verdicts.
//
// SaveRun upserts by Run.ID. SaveVerdicts replaces any verdicts previously
// stored for the run. QueryVerdicts returns verdicts in run URL order;
// ListRuns returns newest runs first.
type Backend interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter Filter) ([]*Run, error)
	SaveVerdicts(ctx context.Context, runID string, verdicts []Verdict) error
	QueryVerdicts(ctx context.Context, filter VerdictFilter) ([]Verdict, error)
	Close() error
}

// MatchRun reports whether a run passes the filter's field predicates.
// File and key-value backends use it to filter in memory.
func MatchRun(r *Run, f Filter) bool {
	if f.JobID != "" && r.JobID != f.JobID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page applies offset and limit to an already ordered slice.
func Page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// FilterVerdicts applies the Indexed predicate and paging in memory.
func FilterVerdicts(verdicts []Verdict, f VerdictFilter) []Verdict {
	out := make([]Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		if f.Indexed != nil && v.Indexed != *f.Indexed {
			continue
		}
		out = append(out, v)
	}
	return Page(out, f.Offset, f.Limit)
}

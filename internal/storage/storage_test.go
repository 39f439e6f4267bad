package storage

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/indexcheck/internal/batch"
)

// Ensure Backend interface exists and is implementable
type mockBackend struct{}

func (m *mockBackend) SaveRun(ctx context.Context, run *Run) error        { return nil }
func (m *mockBackend) GetRun(ctx context.Context, id string) (*Run, error) { return nil, ErrNotFound }
func (m *mockBackend) ListRuns(ctx context.Context, filter Filter) ([]*Run, error) {
	return nil, nil
}
func (m *mockBackend) SaveVerdicts(ctx context.Context, runID string, verdicts []Verdict) error {
	return nil
}
func (m *mockBackend) QueryVerdicts(ctx context.Context, filter VerdictFilter) ([]Verdict, error) {
	return nil, nil
}
func (m *mockBackend) Close() error { return nil }

func TestBackendInterface(t *testing.T) {
	var b Backend = &mockBackend{}
	_ = b
}

func TestMatchRun(t *testing.T) {
	now := time.Now()
	r := &Run{ID: "r1", JobID: "J1", Status: batch.StatusRunning, CreatedAt: now}

	if !MatchRun(r, Filter{}) {
		t.Error("empty filter should match")
	}
	if !MatchRun(r, Filter{JobID: "J1", Status: batch.StatusRunning}) {
		t.Error("expected job id + status match")
	}
	if MatchRun(r, Filter{Status: batch.StatusFinished}) {
		t.Error("status mismatch should not match")
	}
	later := now.Add(time.Minute)
	if MatchRun(r, Filter{Since: &later}) {
		t.Error("run created before Since should not match")
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	if got := Page(items, 1, 2); len(got) != 2 || got[0] != 2 {
		t.Errorf("unexpected page %v", got)
	}
	if got := Page(items, 10, 0); len(got) != 0 {
		t.Errorf("expected empty page, got %v", got)
	}
	if got := Page(items, 0, 0); len(got) != 5 {
		t.Errorf("expected all items, got %v", got)
	}
}

func TestFilterVerdicts(t *testing.T) {
	vs := []Verdict{
		{URL: "a", Indexed: true, Position: 1},
		{URL: "b"},
		{URL: "c", Indexed: true, Position: 4},
	}
	yes := true
	got := FilterVerdicts(vs, VerdictFilter{Indexed: &yes})
	if len(got) != 2 || got[1].URL != "c" {
		t.Errorf("unexpected indexed verdicts %v", got)
	}
	no := false
	got = FilterVerdicts(vs, VerdictFilter{Indexed: &no})
	if len(got) != 1 || got[0].URL != "b" {
		t.Errorf("unexpected not-indexed verdicts %v", got)
	}
}

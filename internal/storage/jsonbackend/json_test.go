package jsonbackend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/storage/storagetest"
)

func TestJSONBackend(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runs.ndjson")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create JSON backend: %v", err)
	}
	defer b.Close()

	storagetest.Run(t, b)
}

func TestJSONBackend_LatestSnapshotWins(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runs.ndjson")
	ctx := context.Background()

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create JSON backend: %v", err)
	}

	run := storagetest.NewRun("r1", time.Now().UTC())
	for _, status := range []batch.JobStatus{batch.StatusConfigured, batch.StatusCreated, batch.StatusRequestsAdded} {
		run.Status = status
		if err := b.SaveRun(ctx, run); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}
	b.Close()

	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("Failed to read state file: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Errorf("Expected 3 appended lines, got %d", n)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("API key leaked into state file")
	}

	b, err = New(filePath)
	if err != nil {
		t.Fatalf("Failed to reopen JSON backend: %v", err)
	}
	defer b.Close()

	got, err := b.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Status != batch.StatusRequestsAdded {
		t.Errorf("Expected latest status %s, got %s", batch.StatusRequestsAdded, got.Status)
	}
}

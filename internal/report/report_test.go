package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/storage"
)

func testRun() *storage.Run {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &storage.Run{
		ID:        "run-1",
		JobID:     "JOB001",
		Status:    batch.StatusFinished,
		Config:    batch.SearchConfig{Location: "France", Domain: "google.fr"},
		Requested: 4,
		Accepted:  4,
		CreatedAt: now,
		UpdatedAt: now.Add(90 * time.Minute),
	}
}

func testVerdicts() []storage.Verdict {
	return []storage.Verdict{
		{URL: "https://a.com/", Indexed: true, Position: 1},
		{URL: "https://b.com/"},
		{URL: "https://c.com/?q=<x>", Indexed: true, Position: 4},
		{URL: "https://d.com/"},
	}
}

func TestGenerateSummary(t *testing.T) {
	summary := GenerateSummary(testRun(), testVerdicts())

	if summary.Checked != 4 {
		t.Errorf("expected 4 checked, got %d", summary.Checked)
	}
	if summary.Indexed != 2 || summary.NotIndexed != 2 {
		t.Errorf("expected 2/2, got %d/%d", summary.Indexed, summary.NotIndexed)
	}
	if summary.IndexedRate != 50 {
		t.Errorf("expected 50%% rate, got %v", summary.IndexedRate)
	}
	if summary.Duration != 90*time.Minute {
		t.Errorf("expected 90m duration, got %v", summary.Duration)
	}
	if summary.JobID != "JOB001" || summary.Domain != "google.fr" || summary.Status != "FINISHED" {
		t.Errorf("unexpected run fields %+v", summary)
	}
}

func TestGenerateSummary_NoRun(t *testing.T) {
	summary := GenerateSummary(nil, nil)
	if summary.Checked != 0 || summary.IndexedRate != 0 || summary.RunID != "" {
		t.Errorf("unexpected empty summary %+v", summary)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, GenerateSummary(testRun(), testVerdicts())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["indexed"] != float64(2) || decoded["job_id"] != "JOB001" {
		t.Errorf("unexpected json %s", buf.String())
	}
	if v, ok := decoded["verdicts"].([]any); !ok || len(v) != 4 {
		t.Errorf("expected 4 verdicts in json, got %v", decoded["verdicts"])
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, GenerateSummary(testRun(), testVerdicts())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"Indexation Summary",
		"Job:           JOB001",
		"Search:        google.fr (France)",
		"Searches:      4 accepted of 4 requested",
		"Indexed:       2 (50.0%)",
		"Not indexed:   2",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in text output:\n%s", want, output)
		}
	}
}

func TestWriteText_NoRun(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, GenerateSummary(nil, testVerdicts()[:1])); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "Time:") || strings.Contains(buf.String(), "Searches:") {
		t.Errorf("run-only lines printed without a run:\n%s", buf.String())
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, GenerateSummary(testRun(), testVerdicts())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "<title>Indexation Report</title>") {
		t.Errorf("expected HTML title")
	}
	if !strings.Contains(output, `<td class="no">no</td>`) {
		t.Errorf("expected not-indexed row")
	}
	if !strings.Contains(output, "https://c.com/?q=&lt;x&gt;") {
		t.Errorf("expected URL to be escaped:\n%s", output)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, testVerdicts()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header + 4 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "url,indexed,position" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if strings.Join(rows[1], ",") != "https://a.com/,true,1" || strings.Join(rows[2], ",") != "https://b.com/,false," {
		t.Errorf("unexpected rows %v", rows[1:3])
	}
}

func TestWriteDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.docx")
	if err := WriteDOCX(path, GenerateSummary(testRun(), testVerdicts())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	// A .docx is a zip archive.
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Errorf("expected zip header, got %q", data[:min(len(data), 4)])
	}
}

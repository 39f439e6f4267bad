package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/template"
	"time"

	"github.com/gingfrederik/docx"

	"github.com/FranksOps/indexcheck/internal/reconcile"
	"github.com/FranksOps/indexcheck/internal/storage"
)

// Summary contains aggregated indexation figures for one run or job.
type Summary struct {
	RunID       string            `json:"run_id,omitempty"`
	JobID       string            `json:"job_id,omitempty"`
	Status      string            `json:"status,omitempty"`
	Location    string            `json:"location,omitempty"`
	Domain      string            `json:"domain,omitempty"`
	Requested   int               `json:"requested"`
	Accepted    int               `json:"accepted"`
	Checked     int               `json:"checked"`
	Indexed     int               `json:"indexed"`
	NotIndexed  int               `json:"not_indexed"`
	IndexedRate float64           `json:"indexed_rate"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Duration    time.Duration     `json:"duration"`
	Verdicts    []storage.Verdict `json:"verdicts,omitempty"`
}

// GenerateSummary aggregates verdicts for a run. run may be nil when a job
// was retrieved without a stored run.
func GenerateSummary(run *storage.Run, verdicts []storage.Verdict) Summary {
	s := Summary{Verdicts: verdicts, Checked: len(verdicts)}
	s.Indexed, s.NotIndexed = reconcile.Count(verdicts)
	if s.Checked > 0 {
		s.IndexedRate = float64(s.Indexed) * 100 / float64(s.Checked)
	}

	if run == nil {
		return s
	}
	s.RunID = run.ID
	s.JobID = run.JobID
	s.Status = string(run.Status)
	s.Location = run.Config.Location
	s.Domain = run.Config.Domain
	s.Requested = run.Requested
	s.Accepted = run.Accepted
	s.StartTime = run.CreatedAt
	s.EndTime = run.UpdatedAt
	s.Duration = run.UpdatedAt.Sub(run.CreatedAt)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Indexation Summary
------------------
{{- if .RunID}}
Run:           {{.RunID}}
{{- end}}
{{- if .JobID}}
Job:           {{.JobID}}
{{- end}}
{{- if .Status}}
Status:        {{.Status}}
{{- end}}
{{- if .Domain}}
Search:        {{.Domain}} ({{.Location}})
{{- end}}
{{- if not .StartTime.IsZero}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})
{{- end}}
{{- if .Requested}}
Searches:      {{.Accepted}} accepted of {{.Requested}} requested
{{- end}}
Checked:       {{.Checked}} URLs
Indexed:       {{.Indexed}} ({{printf "%.1f" .IndexedRate}}%)
Not indexed:   {{.NotIndexed}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report with the verdict table.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Indexation Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
  .no { color: red; }
  .yes { color: green; }
</style>
</head>
<body>
  <h1>Indexation Report</h1>
  {{- if .JobID}}
  <p><strong>Job:</strong> {{.JobID}}{{if .RunID}} (run {{.RunID}}){{end}}{{if .Domain}} on {{.Domain}}, {{.Location}}{{end}}</p>
  {{- end}}

  <div class="stat-card">
    <div>Checked</div>
    <div class="stat-val">{{.Checked}}</div>
  </div>
  <div class="stat-card">
    <div>Indexed</div>
    <div class="stat-val yes">{{.Indexed}}</div>
  </div>
  <div class="stat-card">
    <div>Not Indexed</div>
    <div class="stat-val" style="color: {{if gt .NotIndexed 0}}red{{else}}green{{end}};">{{.NotIndexed}}</div>
  </div>
  <div class="stat-card">
    <div>Indexed Rate</div>
    <div class="stat-val">{{printf "%.1f" .IndexedRate}}%</div>
  </div>

  <h3>URLs</h3>
  <table>
    <tr><th>URL</th><th>Indexed</th><th>Position</th></tr>
    {{- range .Verdicts}}
    <tr><td>{{html .URL}}</td>{{if .Indexed}}<td class="yes">yes</td><td>{{.Position}}</td>{{else}}<td class="no">no</td><td></td>{{end}}</tr>
    {{- else}}
    <tr><td colspan="3">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// WriteCSV writes the verdict table as url,indexed,position rows.
func WriteCSV(w io.Writer, verdicts []storage.Verdict) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"url", "indexed", "position"}); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	for _, v := range verdicts {
		pos := ""
		if v.Position > 0 {
			pos = strconv.Itoa(v.Position)
		}
		if err := cw.Write([]string{v.URL, strconv.FormatBool(v.Indexed), pos}); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteDOCX saves the summary and the not-indexed URLs as a Word document.
func WriteDOCX(path string, summary Summary) error {
	f := docx.NewFile()

	run := f.AddParagraph().AddText("Indexation Report")
	run.Size(20)
	f.AddParagraph() // Spacer

	if summary.JobID != "" {
		meta := f.AddParagraph().AddText(fmt.Sprintf("Job: %s | Run: %s | Status: %s", summary.JobID, summary.RunID, summary.Status))
		meta.Size(10)
		meta.Color("808080")
	}
	if summary.Domain != "" {
		f.AddParagraph().AddText(fmt.Sprintf("Search engine: %s (%s)", summary.Domain, summary.Location))
	}

	f.AddParagraph().AddText(fmt.Sprintf("Checked: %d URLs", summary.Checked))
	run = f.AddParagraph().AddText(fmt.Sprintf("Indexed: %d (%.1f%%)", summary.Indexed, summary.IndexedRate))
	run.Color("008000")
	run = f.AddParagraph().AddText(fmt.Sprintf("Not indexed: %d", summary.NotIndexed))
	run.Color("FF0000")

	f.AddParagraph()
	f.AddParagraph().AddText("--------------------------------------------------")

	if summary.NotIndexed > 0 {
		run = f.AddParagraph().AddText("Not indexed URLs")
		run.Size(16)
		for _, v := range summary.Verdicts {
			if v.Indexed {
				continue
			}
			line := f.AddParagraph().AddText(v.URL)
			line.Size(10)
			line.Color("0000FF")
		}
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}

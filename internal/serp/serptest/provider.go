// Package serptest runs an in-process fake of the batch search API.
package serptest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/FranksOps/indexcheck/internal/batch"
)

// NotReadyMessage is what the fake answers while a job has no results.
const NotReadyMessage = "Cannot retrieve results for this batch, it has not finished running yet"

// CSVHeader matches the provider's flattened organic results export.
var CSVHeader = []string{"id", "search.q", "result.organic_results.position", "result.organic_results.title", "result.organic_results.link"}

// Job is the fake's record of one batch.
type Job struct {
	ID         string
	Descriptor batch.Descriptor
	Searches   []batch.SearchRequest
	Started    bool
	pages      [][]byte
}

// Provider is an httptest-backed batch API.
type Provider struct {
	Server *httptest.Server
	APIKey string

	// RejectAppend rejects the n-th append call (1-based). Zero disables.
	RejectAppend int
	// RejectCreate makes job creation fail.
	RejectCreate bool

	mu      sync.Mutex
	jobs    map[string]*Job
	nextID  int
	appends int
	calls   []string
}

// New starts a fake provider accepting apiKey. Callers Close it when done.
func New(apiKey string) *Provider {
	p := &Provider{APIKey: apiKey, jobs: make(map[string]*Job)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /batches", p.auth(p.create))
	mux.HandleFunc("PUT /batches/{id}", p.auth(p.append))
	mux.HandleFunc("GET /batches/{id}", p.auth(p.get))
	mux.HandleFunc("GET /batches/{id}/start", p.auth(p.start))
	mux.HandleFunc("GET /batches/{id}/results/{set}/{format}", p.auth(p.results))
	mux.HandleFunc("GET /pages/{id}/{n}", p.page)
	p.Server = httptest.NewServer(mux)
	return p
}

// URL is the base URL to hand to serp.Config.
func (p *Provider) URL() string { return p.Server.URL }

// Close shuts the server down.
func (p *Provider) Close() { p.Server.Close() }

// Job returns a copy of the stored job.
func (p *Provider) Job(id string) (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return Job{}, false
	}
	cp := *j
	cp.Searches = append([]batch.SearchRequest(nil), j.Searches...)
	return cp, true
}

// Calls lists "METHOD path" for every authenticated API call, in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Finish makes results available. links maps a query to its organic result
// links in rank order; queries missing from the map yield a row with no link.
// Rows are split into pages of pageSize rows.
func (p *Provider) Finish(jobID string, links map[string][]string, pageSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[jobID]
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}

	var rows [][]string
	for i, s := range j.Searches {
		id := strconv.Itoa(i + 1)
		ls := links[s.Query]
		if len(ls) == 0 {
			rows = append(rows, []string{id, s.Query, "", "", ""})
			continue
		}
		for pos, l := range ls {
			rows = append(rows, []string{id, s.Query, strconv.Itoa(pos + 1), "Result " + strconv.Itoa(pos+1), l})
		}
	}
	j.pages = PagesCSV(rows, pageSize)
	return nil
}

// PagesCSV splits rows into CSV documents that each carry CSVHeader.
func PagesCSV(rows [][]string, pageSize int) [][]byte {
	if pageSize <= 0 {
		pageSize = len(rows)
	}
	var pages [][]byte
	for start := 0; start < len(rows) || start == 0; start += pageSize {
		end := min(start+pageSize, len(rows))
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write(CSVHeader)
		_ = w.WriteAll(rows[start:end])
		pages = append(pages, buf.Bytes())
		if end == len(rows) {
			break
		}
	}
	return pages
}

func (p *Provider) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.calls = append(p.calls, r.Method+" "+r.URL.Path)
		p.mu.Unlock()

		if r.URL.Query().Get("api_key") != p.APIKey {
			reply(w, http.StatusUnauthorized, false, "Invalid api_key", nil)
			return
		}
		next(w, r)
	}
}

func (p *Provider) create(w http.ResponseWriter, r *http.Request) {
	var d batch.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		reply(w, http.StatusBadRequest, false, "invalid body", nil)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RejectCreate {
		reply(w, http.StatusOK, false, "Batch limit reached", nil)
		return
	}
	p.nextID++
	j := &Job{ID: fmt.Sprintf("JOB%03d", p.nextID), Descriptor: d}
	p.jobs[j.ID] = j
	reply(w, http.StatusOK, true, "", map[string]any{"batch": p.info(j)})
}

func (p *Provider) append(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Searches []batch.SearchRequest `json:"searches"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		reply(w, http.StatusBadRequest, false, "invalid body", nil)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[r.PathValue("id")]
	if !ok {
		reply(w, http.StatusNotFound, false, "Batch not found", nil)
		return
	}
	p.appends++
	if p.RejectAppend > 0 && p.appends == p.RejectAppend {
		reply(w, http.StatusOK, false, "Searches limit exceeded for this account", nil)
		return
	}
	j.Searches = append(j.Searches, body.Searches...)
	reply(w, http.StatusOK, true, "", map[string]any{"batch": p.info(j)})
}

func (p *Provider) get(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[r.PathValue("id")]
	if !ok {
		reply(w, http.StatusNotFound, false, "Batch not found", nil)
		return
	}
	reply(w, http.StatusOK, true, "", map[string]any{"batch": p.info(j)})
}

func (p *Provider) start(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[r.PathValue("id")]
	switch {
	case !ok:
		reply(w, http.StatusNotFound, false, "Batch not found", nil)
	case len(j.Searches) == 0:
		reply(w, http.StatusOK, false, "Batch has no searches", nil)
	case j.Started:
		reply(w, http.StatusOK, false, "Batch is already running", nil)
	default:
		j.Started = true
		reply(w, http.StatusOK, true, "", map[string]any{"batch": p.info(j)})
	}
}

func (p *Provider) results(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[r.PathValue("id")]
	if !ok {
		reply(w, http.StatusNotFound, false, "Batch not found", nil)
		return
	}
	if j.pages == nil {
		reply(w, http.StatusOK, false, NotReadyMessage, nil)
		return
	}
	links := make([]string, len(j.pages))
	for i := range j.pages {
		links[i] = fmt.Sprintf("%s/pages/%s/%d", p.Server.URL, j.ID, i+1)
	}
	reply(w, http.StatusOK, true, "", map[string]any{
		"result": map[string]any{"download_links": map[string]any{"pages": links}},
	})
}

func (p *Provider) page(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))

	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[r.PathValue("id")]
	if !ok || err != nil || n < 1 || n > len(j.pages) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write(j.pages[n-1])
}

func (p *Provider) info(j *Job) map[string]any {
	status := "idle"
	switch {
	case j.pages != nil:
		status = "finished"
	case j.Started:
		status = "running"
	}
	return map[string]any{
		"id":                   j.ID,
		"name":                 j.Descriptor.Name,
		"status":               status,
		"searches_total_count": len(j.Searches),
	}
}

func reply(w http.ResponseWriter, code int, success bool, message string, extra map[string]any) {
	body := map[string]any{}
	for k, v := range extra {
		body[k] = v
	}
	info := map[string]any{"success": success}
	if message != "" {
		info["message"] = message
	}
	body["request_info"] = info
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

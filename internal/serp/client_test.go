package serp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/serp/serptest"
)

func newTestClient(t *testing.T, baseURL, key string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, APIKey: key})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func searches(urls ...string) []batch.SearchRequest {
	reqs, _ := batch.Build(urls, batch.SearchConfig{APIKey: "k", Location: "France", Domain: "google.fr"}.WithDefaults())
	return reqs
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
	var cfgErr *batch.ConfigurationError
	_, err := NewClient(Config{APIKey: "k", BaseURL: "not a url"})
	if !errors.As(err, &cfgErr) || cfgErr.Field != "base_url" {
		t.Fatalf("expected base_url ConfigurationError, got %v", err)
	}
}

func TestClient_Lifecycle(t *testing.T) {
	p := serptest.New("secret")
	defer p.Close()
	c := newTestClient(t, p.URL(), "secret")
	ctx := context.Background()

	id, err := c.Create(ctx, batch.DefaultDescriptor())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a job id")
	}

	total, err := c.Append(ctx, id, searches("https://a.com/", "https://b.com/"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total 2, got %d", total)
	}
	total, err = c.Append(ctx, id, searches("https://c.com/"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if total != 3 {
		t.Errorf("expected cumulative total 3, got %d", total)
	}

	job, _ := p.Job(id)
	if job.Descriptor != batch.DefaultDescriptor() {
		t.Errorf("descriptor not sent verbatim: %+v", job.Descriptor)
	}
	if job.Searches[0].Domain != "google.fr" || job.Searches[0].Num != 20 {
		t.Errorf("unexpected search payload: %+v", job.Searches[0])
	}

	// Results are not ready until the provider finishes.
	exp, err := c.FetchPages(ctx, id, 1, FormatCSV)
	if err != nil {
		t.Fatalf("expected not-ready without error, got %v", err)
	}
	if exp.Ready {
		t.Fatal("expected Ready=false before start")
	}

	started, err := c.Start(ctx, id)
	if err != nil || !started {
		t.Fatalf("start failed: %v", err)
	}

	info, err := c.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if info.Status != "running" || info.SearchesTotal != 3 {
		t.Errorf("unexpected batch info %+v", info)
	}

	if err := p.Finish(id, map[string][]string{"https://a.com/": {"https://a.com/"}}, 2); err != nil {
		t.Fatal(err)
	}
	exp, err = c.FetchPages(ctx, id, 1, "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !exp.Ready || len(exp.Pages) != 2 {
		t.Fatalf("expected 2 ready pages, got %+v", exp)
	}

	body, err := c.Download(ctx, exp.Pages[0])
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if !strings.HasPrefix(string(data), "id,search.q,") {
		t.Errorf("unexpected page content %q", data)
	}

	calls := p.Calls()
	if calls[0] != "POST /batches" || calls[1] != "PUT /batches/"+id {
		t.Errorf("unexpected call order %v", calls)
	}
}

func TestClient_StartRejected(t *testing.T) {
	p := serptest.New("secret")
	defer p.Close()
	c := newTestClient(t, p.URL(), "secret")
	ctx := context.Background()

	id, _ := c.Create(ctx, batch.DefaultDescriptor())
	started, err := c.Start(ctx, id)
	if started || err == nil {
		t.Fatal("expected start of an empty job to be rejected")
	}
	rr, ok := AsRemoteRejected(err)
	if !ok {
		t.Fatalf("expected *RemoteRejected, got %T", err)
	}
	if rr.Op != OpStart || rr.Message != "Batch has no searches" {
		t.Errorf("unexpected rejection %+v", rr)
	}
	if !strings.Contains(string(rr.Payload), `"success":false`) {
		t.Errorf("expected raw payload to be kept, got %s", rr.Payload)
	}
}

func TestClient_AppendRejectedCarriesPayload(t *testing.T) {
	p := serptest.New("secret")
	defer p.Close()
	p.RejectAppend = 1
	c := newTestClient(t, p.URL(), "secret")
	ctx := context.Background()

	id, _ := c.Create(ctx, batch.DefaultDescriptor())
	_, err := c.Append(ctx, id, searches("https://a.com/"))
	rr, ok := AsRemoteRejected(err)
	if !ok {
		t.Fatalf("expected *RemoteRejected, got %v", err)
	}
	if rr.Op != OpAppend || !strings.Contains(string(rr.Payload), "Searches limit exceeded") {
		t.Errorf("unexpected rejection %+v payload=%s", rr, rr.Payload)
	}
}

func TestClient_InvalidKey(t *testing.T) {
	p := serptest.New("secret")
	defer p.Close()
	c := newTestClient(t, p.URL(), "wrong")

	_, err := c.Create(context.Background(), batch.DefaultDescriptor())
	rr, ok := AsRemoteRejected(err)
	if !ok {
		t.Fatalf("expected *RemoteRejected, got %v", err)
	}
	if rr.StatusCode != http.StatusUnauthorized || rr.Message != "Invalid api_key" {
		t.Errorf("unexpected rejection %+v", rr)
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL, "k")

	_, err := c.Create(context.Background(), batch.DefaultDescriptor())
	rr, ok := AsRemoteRejected(err)
	if !ok {
		t.Fatalf("expected *RemoteRejected, got %v", err)
	}
	if string(rr.Payload) != "<html>gateway</html>" || !strings.HasPrefix(rr.Message, "malformed response") {
		t.Errorf("unexpected rejection %+v", rr)
	}
}

func TestClient_SuccessWithoutLinksIsNotReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_info":{"success":true},"result":{"download_links":{"pages":[]}}}`))
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL, "k")

	exp, err := c.FetchPages(context.Background(), "J1", 1, FormatCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Ready {
		t.Error("expected Ready=false when no pages are listed")
	}
}

func TestClient_MissingBatchIsRejectedNotPending(t *testing.T) {
	body := `{"request_info":{"success":false,"message":"Cannot retrieve results: batch JOB999 does not exist"}}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(body))
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL, "k")

	exp, err := c.FetchPages(context.Background(), "JOB999", 1, FormatCSV)
	rr, ok := AsRemoteRejected(err)
	if !ok {
		t.Fatalf("expected RemoteRejected, got export %+v err %v", exp, err)
	}
	if rr.Op != OpFetch || rr.StatusCode != http.StatusNotFound || string(rr.Payload) != body {
		t.Errorf("unexpected rejection %+v", rr)
	}
}

func TestClient_PendingRequiresSuccessStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantReady bool
		wantErr   bool
	}{
		{"pending envelope", http.StatusOK, `{"request_info":{"success":false,"message":"Cannot retrieve results for this batch, it has not finished running yet"}}`, false, false},
		{"pending plain text", http.StatusOK, "Cannot retrieve results yet", false, false},
		{"marker outside message", http.StatusOK, `{"request_info":{"success":false,"message":"invalid page"},"hint":"cannot retrieve"}`, false, true},
		{"server error with marker", http.StatusInternalServerError, "Cannot retrieve results yet", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()
			c := newTestClient(t, ts.URL, "k")

			exp, err := c.FetchPages(context.Background(), "J1", 1, FormatCSV)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if exp.Ready != tt.wantReady {
				t.Errorf("expected Ready=%v, got %v", tt.wantReady, exp.Ready)
			}
		})
	}
}

func TestClient_CredentialNotLeaked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.URL
	ts.Close()
	c := newTestClient(t, addr, "TOPSECRETKEY")

	_, err := c.Create(context.Background(), batch.DefaultDescriptor())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "TOPSECRETKEY") {
		t.Errorf("api key leaked into error: %v", err)
	}
}

func TestClient_EmptyJobID(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", "k")
	var cfgErr *batch.ConfigurationError
	if _, err := c.Start(context.Background(), ""); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError for empty job id, got %v", err)
	}
}

func TestClient_DownloadError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL, "k")

	_, err := c.Download(context.Background(), ts.URL+"/page.csv")
	rr, ok := AsRemoteRejected(err)
	if !ok || rr.Op != OpDownload || rr.StatusCode != http.StatusForbidden {
		t.Errorf("expected download rejection, got %v", err)
	}
}

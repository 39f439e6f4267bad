package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/metrics"
	"github.com/FranksOps/indexcheck/pkg/httpclient"
	"github.com/FranksOps/indexcheck/pkg/ratelimit"
	"github.com/FranksOps/indexcheck/pkg/useragent"
)

// DefaultBaseURL is the ValueSERP API root.
const DefaultBaseURL = "https://api.valueserp.com"

// notReadyMarker is in the provider's message while results are pending.
const notReadyMarker = "cannot retrieve"

// maxBody bounds how much of an API response is read into memory.
const maxBody = 8 << 20

// ensure Client implements BatchAPI
var _ BatchAPI = (*Client)(nil)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// HTTP is used for every call. Nil builds one with a 60s timeout.
	HTTP *httpclient.Client
	// RPS paces API calls. Zero disables pacing.
	RPS    float64
	Logger *slog.Logger
}

// Client is a stateless ValueSERP batch API client.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *httpclient.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &batch.ConfigurationError{Field: "api_key", Reason: "is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &batch.ConfigurationError{Field: "base_url", Reason: fmt.Sprintf("is not an absolute URL: %q", cfg.BaseURL)}
	}
	if cfg.HTTP == nil {
		cfg.HTTP, err = httpclient.New(httpclient.Config{UserAgent: useragent.Client})
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    cfg.HTTP,
		limiter: ratelimit.NewLimiter(cfg.RPS, 0),
		logger:  cfg.Logger,
	}, nil
}

// Close releases the pacing ticker.
func (c *Client) Close() {
	c.limiter.Stop()
}

type requestInfo struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type envelope struct {
	RequestInfo requestInfo `json:"request_info"`
	Batch       *BatchInfo  `json:"batch"`
	Result      *struct {
		DownloadLinks struct {
			Pages []string `json:"pages"`
		} `json:"download_links"`
	} `json:"result"`
}

// Create registers an empty batch job.
func (c *Client) Create(ctx context.Context, d batch.Descriptor) (string, error) {
	env, err := c.call(ctx, OpCreate, http.MethodPost, "/batches", d)
	if err != nil {
		return "", err
	}
	if env.Batch == nil || env.Batch.ID == "" {
		return "", &RemoteRejected{Op: OpCreate, StatusCode: http.StatusOK, Message: "response carries no batch id"}
	}
	c.logger.Debug("batch created", "job_id", env.Batch.ID)
	return env.Batch.ID, nil
}

// Append uploads one chunk of searches and returns the job's total count.
func (c *Client) Append(ctx context.Context, jobID string, reqs []batch.SearchRequest) (int, error) {
	body := struct {
		Searches []batch.SearchRequest `json:"searches"`
	}{Searches: reqs}

	env, err := c.call(ctx, OpAppend, http.MethodPut, "/batches/"+jobID, body)
	if err != nil {
		return 0, err
	}
	if env.Batch == nil {
		return 0, &RemoteRejected{Op: OpAppend, StatusCode: http.StatusOK, Message: "response carries no batch"}
	}
	metrics.SearchesAppendedTotal.Add(float64(len(reqs)))
	c.logger.Debug("searches appended", "job_id", jobID, "count", len(reqs), "total", env.Batch.SearchesTotal)
	return env.Batch.SearchesTotal, nil
}

// Start queues the job. A rejection (no searches, already running) is
// reported as *RemoteRejected.
func (c *Client) Start(ctx context.Context, jobID string) (bool, error) {
	if _, err := c.call(ctx, OpStart, http.MethodGet, "/batches/"+jobID+"/start", nil); err != nil {
		return false, err
	}
	c.logger.Debug("batch started", "job_id", jobID)
	return true, nil
}

// Get returns the provider's view of the job.
func (c *Client) Get(ctx context.Context, jobID string) (BatchInfo, error) {
	env, err := c.call(ctx, OpGet, http.MethodGet, "/batches/"+jobID, nil)
	if err != nil {
		return BatchInfo{}, err
	}
	if env.Batch == nil {
		return BatchInfo{}, &RemoteRejected{Op: OpGet, StatusCode: http.StatusOK, Message: "response carries no batch"}
	}
	return *env.Batch, nil
}

// FetchPages asks for the download links of a result set. While the job is
// running the provider answers with a "Cannot retrieve" sentinel, which is
// reported as Export{Ready: false} and a nil error.
func (c *Client) FetchPages(ctx context.Context, jobID string, resultSet int, format string) (Export, error) {
	if resultSet <= 0 {
		resultSet = 1
	}
	if format == "" {
		format = FormatCSV
	}
	path := "/batches/" + jobID + "/results/" + strconv.Itoa(resultSet) + "/" + format

	env, err := c.call(ctx, OpFetch, http.MethodGet, path, nil)
	if err != nil {
		if rr, ok := AsRemoteRejected(err); ok && notReady(rr) {
			metrics.RecordPoll(false)
			c.logger.Debug("results not ready", "job_id", jobID)
			return Export{Ready: false}, nil
		}
		return Export{}, err
	}
	if env.Result == nil || len(env.Result.DownloadLinks.Pages) == 0 {
		metrics.RecordPoll(false)
		return Export{Ready: false}, nil
	}
	metrics.RecordPoll(true)
	return Export{Ready: true, Pages: env.Result.DownloadLinks.Pages}, nil
}

// Download opens a result page. Page links are pre-signed, so the API key is
// not attached. The caller closes the returned body.
func (c *Client) Download(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		metrics.RecordCall(OpDownload, time.Since(start), err)
		return nil, fmt.Errorf("download page: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		resp.Body.Close()
		rerr := &RemoteRejected{Op: OpDownload, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Payload: payload}
		metrics.RecordCall(OpDownload, time.Since(start), rerr)
		return nil, rerr
	}
	metrics.RecordCall(OpDownload, time.Since(start), nil)
	return resp.Body, nil
}

// call performs one API round trip and decodes the envelope.
func (c *Client) call(ctx context.Context, op, method, path string, body any) (*envelope, error) {
	status, raw, err := c.roundTrip(ctx, op, method, path, body)
	if err != nil {
		return nil, err
	}
	return decode(op, status, raw)
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) (int, []byte, error) {
	if strings.Contains(path, "//") || strings.HasSuffix(path, "/") {
		return 0, nil, &batch.ConfigurationError{Field: "job_id", Reason: "is required"}
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	q := u.Query()
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(method, u.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		metrics.RecordCall(op, time.Since(start), err)
		c.logger.Warn("batch api call failed", "op", op, "err", err)
		return 0, nil, fmt.Errorf("serp %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	metrics.RecordCall(op, time.Since(start), err)
	if err != nil {
		return 0, nil, fmt.Errorf("serp %s: read body: %w", op, err)
	}
	c.logger.Debug("batch api call", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
	return resp.StatusCode, raw, nil
}

// decode checks the status code and the success flag. Any failure carries the
// raw body verbatim.
func decode(op string, status int, raw []byte) (*envelope, error) {
	var env envelope
	jsonErr := json.Unmarshal(raw, &env)

	if status < 200 || status > 299 || jsonErr != nil || !env.RequestInfo.Success {
		rr := &RemoteRejected{Op: op, StatusCode: status, Message: env.RequestInfo.Message, Payload: raw}
		if rr.Message == "" {
			switch {
			case jsonErr != nil:
				rr.Message = "malformed response: " + jsonErr.Error()
			case status < 200 || status > 299:
				rr.Message = http.StatusText(status)
			}
		}
		return nil, rr
	}
	return &env, nil
}

// notReady reports whether a rejected fetch is the provider's pending-results
// answer. Only a 2xx reply qualifies, and the marker must be in the envelope
// message, or in the body when there is no JSON envelope.
func notReady(rr *RemoteRejected) bool {
	if rr.StatusCode < 200 || rr.StatusCode > 299 {
		return false
	}
	msg := rr.Message
	if !json.Valid(rr.Payload) {
		msg = string(rr.Payload)
	}
	return strings.Contains(strings.ToLower(msg), notReadyMarker)
}

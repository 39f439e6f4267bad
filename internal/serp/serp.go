// Package serp talks to an asynchronous batch search-results API.
//
// The client is stateless between calls: job ids are returned to the caller
// and passed back in. Nothing is retried automatically because every call
// against the provider may be billed.
package serp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/FranksOps/indexcheck/internal/batch"
)

// Operation names used in errors, logs and metrics.
const (
	OpCreate   = "create"
	OpAppend   = "append"
	OpStart    = "start"
	OpFetch    = "fetch_pages"
	OpGet      = "get"
	OpDownload = "download"
)

// FormatCSV is the only export format the reconciler understands.
const FormatCSV = "csv"

// BatchAPI abstracts the remote batch provider.
type BatchAPI interface {
	// Create registers an empty job and returns its id.
	Create(ctx context.Context, d batch.Descriptor) (string, error)
	// Append uploads searches to a job and returns the job's total search count.
	Append(ctx context.Context, jobID string, reqs []batch.SearchRequest) (int, error)
	// Start queues the job for execution.
	Start(ctx context.Context, jobID string) (bool, error)
	// FetchPages returns result page links, or Export.Ready == false while the
	// job is still executing.
	FetchPages(ctx context.Context, jobID string, resultSet int, format string) (Export, error)
	// Get reports the provider's view of the job.
	Get(ctx context.Context, jobID string) (BatchInfo, error)
	// Download opens one result page.
	Download(ctx context.Context, pageURL string) (io.ReadCloser, error)
}

// Export describes a finished result set. Ready is false while the job runs.
type Export struct {
	Ready bool
	Pages []string
}

// BatchInfo is the provider's description of a job.
type BatchInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	SearchesTotal int    `json:"searches_total_count"`
	ResultsCount  int    `json:"results_count"`
}

// Started reports whether the provider has queued, run or finished the job.
// An idle job, or an unknown status, has not been started.
func (b BatchInfo) Started() bool {
	switch strings.ToLower(b.Status) {
	case "queued", "running", "finished", "complete", "completed":
		return true
	}
	return false
}

// RemoteRejected is returned when the provider reports failure. Payload holds
// the raw response body exactly as received.
type RemoteRejected struct {
	Op         string
	StatusCode int
	Message    string
	Payload    []byte
}

func (e *RemoteRejected) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request was not successful"
	}
	return fmt.Sprintf("serp %s rejected (status %d): %s", e.Op, e.StatusCode, msg)
}

// AsRemoteRejected unwraps err into a *RemoteRejected.
func AsRemoteRejected(err error) (*RemoteRejected, bool) {
	var rr *RemoteRejected
	if errors.As(err, &rr) {
		return rr, true
	}
	return nil, false
}

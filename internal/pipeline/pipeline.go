// Package pipeline sequences an indexation check through its four phases:
// configure, submit, start and retrieve. Each phase loads the run from
// storage, does its work and saves the run again, so phases can be invoked
// independently and repeated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/serp"
	"github.com/FranksOps/indexcheck/internal/storage"
)

// DefaultDownloadConcurrency bounds parallel result page downloads.
const DefaultDownloadConcurrency = 4

// Pipeline orchestrates one or more runs against a batch provider.
type Pipeline struct {
	API     serp.BatchAPI
	Backend storage.Backend
	// Credential is the provider API key. It is validated with the search
	// config but never stored with the run.
	Credential string
	Logger     *slog.Logger
	// DownloadConcurrency bounds parallel page downloads during retrieve.
	DownloadConcurrency int
	// ResultSet selects which result set of the job to export, default 1.
	ResultSet int
}

// ConfigureResult reports a newly configured run.
type ConfigureResult struct {
	Run *storage.Run
	// Cost is the number of searches the run will bill, one per URL.
	Cost    int
	Warning *batch.TruncationWarning
}

// ChunkResult is the outcome of appending one chunk.
type ChunkResult struct {
	Index    int
	Sent     int
	Accepted int
	// Recovered is set when the provider already held the chunk from an
	// earlier attempt whose reply was lost, so nothing was sent.
	Recovered bool
}

// SubmitResult reports accepted versus requested searches.
type SubmitResult struct {
	RunID     string
	JobID     string
	Requested int
	Accepted  int
	Chunks    []ChunkResult
	// AlreadySubmitted is set when every chunk had been appended before.
	AlreadySubmitted bool
}

// StartResult reports the start phase.
type StartResult struct {
	RunID          string
	JobID          string
	Started        bool
	AlreadyStarted bool
}

// RetrieveResult carries verdicts once the job has finished. Ready is false
// while the provider is still executing the job.
type RetrieveResult struct {
	RunID      string
	JobID      string
	Ready      bool
	Pages      int
	Verdicts   []storage.Verdict
	Indexed    int
	NotIndexed int
}

// StatusReport combines the stored run with the provider's view of its job.
type StatusReport struct {
	Run    *storage.Run
	Remote *serp.BatchInfo
	// RemoteError is set when the provider could not be asked.
	RemoteError string
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) check() error {
	if p.API == nil {
		return errors.New("pipeline: API is nil")
	}
	if p.Backend == nil {
		return errors.New("pipeline: Backend is nil")
	}
	return nil
}

// Configure validates cfg, deduplicates and truncates urls and stores a new
// run. No remote call is made.
func (p *Pipeline) Configure(ctx context.Context, urls []string, cfg batch.SearchConfig) (*ConfigureResult, error) {
	if p.Backend == nil {
		return nil, errors.New("pipeline: Backend is nil")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = p.Credential
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	unique := batch.Dedupe(urls)
	if len(unique) == 0 {
		return nil, &batch.ConfigurationError{Field: "urls", Reason: "contains no URLs"}
	}
	kept, warning := batch.Truncate(unique, cfg.MaxTotalItems)
	if warning != nil {
		p.logger().Warn("url list truncated", "limit", warning.Limit, "total", warning.Total, "dropped", warning.Dropped)
	}

	chunks, err := batch.Chunk(kept, cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &storage.Run{
		ID:          uuid.NewString(),
		URLs:        kept,
		Config:      cfg,
		Status:      batch.StatusConfigured,
		Requested:   len(kept),
		ChunksTotal: len(chunks),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Backend.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	p.logger().Info("run configured", "run_id", run.ID, "urls", len(kept), "chunks", len(chunks))
	return &ConfigureResult{Run: run, Cost: len(kept), Warning: warning}, nil
}

// Submit creates the remote job if needed and appends the remaining chunks in
// order. The run is saved after every chunk, so a later call resumes where an
// interrupted one stopped. A provider rejection fails the run and returns the
// partial counts alongside the error.
func (p *Pipeline) Submit(ctx context.Context, runID string) (*SubmitResult, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	run, err := p.Backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	log := p.logger().With("run_id", run.ID)

	res := &SubmitResult{RunID: run.ID, JobID: run.JobID, Requested: run.Requested, Accepted: run.Accepted}
	switch {
	case run.Status == batch.StatusFailed:
		return res, fmt.Errorf("%w: run %s has failed (%s); configure a new run", batch.ErrInvalidTransition, run.ID, run.LastError)
	case run.Status == batch.StatusRunning || run.Status == batch.StatusFinished,
		run.JobID != "" && run.ChunksAppended >= run.ChunksTotal:
		res.AlreadySubmitted = true
		log.Info("run already submitted", "job_id", run.JobID, "accepted", run.Accepted)
		return res, nil
	}

	cfg := run.Config
	cfg.APIKey = p.Credential
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	chunks, err := batch.Chunk(run.URLs, cfg.MaxChunkSize)
	if err != nil {
		return res, err
	}

	if run.JobID != "" {
		if err := p.reconcileChunks(ctx, run, chunks, res); err != nil {
			return res, err
		}
	} else {
		if err := batch.Advance(run.Status, batch.StatusCreated); err != nil {
			return res, err
		}
		jobID, err := p.API.Create(ctx, batch.DefaultDescriptor())
		if err != nil {
			return res, p.fail(ctx, run, fmt.Errorf("create job: %w", err))
		}
		run.JobID = jobID
		run.Status = batch.StatusCreated
		if err := p.save(ctx, run); err != nil {
			return res, err
		}
		res.JobID = jobID
		log.Info("job created", "job_id", jobID)
	}

	for i := run.ChunksAppended; i < len(chunks); i++ {
		reqs, err := batch.Build(chunks[i], cfg)
		if err != nil {
			return res, err
		}

		total, err := p.API.Append(ctx, run.JobID, reqs)
		if err != nil {
			log.Error("chunk rejected", "job_id", run.JobID, "chunk", i+1, "of", len(chunks), "accepted", run.Accepted, "err", err)
			return res, p.fail(ctx, run, fmt.Errorf("append chunk %d/%d: %w", i+1, len(chunks), err))
		}

		accepted := total - run.Accepted
		run.Accepted = total
		run.ChunksAppended = i + 1
		if run.Status != batch.StatusRequestsAdded {
			if err := batch.Advance(run.Status, batch.StatusRequestsAdded); err != nil {
				return res, err
			}
			run.Status = batch.StatusRequestsAdded
		}
		if err := p.save(ctx, run); err != nil {
			return res, err
		}

		res.Accepted = run.Accepted
		res.Chunks = append(res.Chunks, ChunkResult{Index: i, Sent: len(reqs), Accepted: accepted})
		log.Info("chunk appended", "job_id", run.JobID, "chunk", i+1, "of", len(chunks), "sent", len(reqs), "accepted", accepted)
	}

	res.Accepted = run.Accepted
	if res.Accepted != res.Requested {
		log.Warn("provider accepted a different number of searches", "requested", res.Requested, "accepted", res.Accepted)
	}
	return res, nil
}

// reconcileChunks compares the provider's search count with the run before
// appending again. An append can be accepted remotely and still fail locally,
// for instance on a timeout; the searches the provider holds beyond
// run.Accepted are credited to the next chunks so they are not sent twice.
func (p *Pipeline) reconcileChunks(ctx context.Context, run *storage.Run, chunks [][]string, res *SubmitResult) error {
	info, err := p.API.Get(ctx, run.JobID)
	if err != nil {
		return p.note(ctx, run, fmt.Errorf("check job before resuming: %w", err))
	}

	surplus := info.SearchesTotal - run.Accepted
	for surplus > 0 && run.ChunksAppended < len(chunks) {
		i := run.ChunksAppended
		held := min(surplus, len(chunks[i]))
		surplus -= held
		run.Accepted += held
		run.ChunksAppended = i + 1
		if run.Status != batch.StatusRequestsAdded {
			if err := batch.Advance(run.Status, batch.StatusRequestsAdded); err != nil {
				return err
			}
			run.Status = batch.StatusRequestsAdded
		}
		run.LastError = ""
		if err := p.save(ctx, run); err != nil {
			return err
		}
		res.Chunks = append(res.Chunks, ChunkResult{Index: i, Sent: 0, Accepted: held, Recovered: true})
		p.logger().Warn("chunk already held by provider", "run_id", run.ID, "job_id", run.JobID, "chunk", i+1, "of", len(chunks), "accepted", held)
	}
	return nil
}

// Start queues the submitted job for execution. Starting a job that is
// already running or finished is reported without a remote call. When the
// start call fails but the provider reports the job as started, the run is
// moved to RUNNING and reported as AlreadyStarted.
func (p *Pipeline) Start(ctx context.Context, runID string) (*StartResult, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	run, err := p.Backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	res := &StartResult{RunID: run.ID, JobID: run.JobID}
	switch {
	case run.Status == batch.StatusRunning || run.Status == batch.StatusFinished:
		res.AlreadyStarted = true
		return res, nil
	case run.Status == batch.StatusFailed:
		return res, fmt.Errorf("%w: run %s has failed (%s)", batch.ErrInvalidTransition, run.ID, run.LastError)
	case run.JobID == "" || run.Accepted == 0:
		return res, &batch.ConfigurationError{Field: "job", Reason: "has no accepted searches; submit the run first"}
	case run.ChunksAppended < run.ChunksTotal:
		return res, &batch.ConfigurationError{Field: "job", Reason: fmt.Sprintf("is partially submitted (%d of %d chunks); finish submit first", run.ChunksAppended, run.ChunksTotal)}
	}
	if err := batch.Advance(run.Status, batch.StatusRunning); err != nil {
		return res, err
	}

	started, err := p.API.Start(ctx, run.JobID)
	if err != nil {
		if info, getErr := p.API.Get(ctx, run.JobID); getErr == nil && info.Started() {
			p.logger().Warn("start failed but job is already started", "run_id", run.ID, "job_id", run.JobID, "remote_status", info.Status, "err", err)
			res.Started = true
			res.AlreadyStarted = true
			run.Status = batch.StatusRunning
			run.LastError = ""
			if err := p.save(ctx, run); err != nil {
				return res, err
			}
			return res, nil
		}
		return res, p.fail(ctx, run, fmt.Errorf("start job: %w", err))
	}
	res.Started = started
	run.Status = batch.StatusRunning
	if err := p.save(ctx, run); err != nil {
		return res, err
	}

	p.logger().Info("job started", "run_id", run.ID, "job_id", run.JobID, "searches", run.Accepted)
	return res, nil
}

// Status returns the stored run and, when a job exists, the provider's view
// of it. A failed provider lookup is reported in the result, not as an error.
func (p *Pipeline) Status(ctx context.Context, runID string) (*StatusReport, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	run, err := p.Backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	rep := &StatusReport{Run: run}
	if run.JobID == "" {
		return rep, nil
	}
	info, err := p.API.Get(ctx, run.JobID)
	if err != nil {
		rep.RemoteError = err.Error()
		return rep, nil
	}
	rep.Remote = &info
	return rep, nil
}

func (p *Pipeline) save(ctx context.Context, run *storage.Run) error {
	run.UpdatedAt = time.Now().UTC()
	if err := p.Backend.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// fail records err on the run. Provider rejections move the run to FAILED
// with the raw payload kept. Transport errors and rejected credentials leave
// the status alone so the phase can be retried.
func (p *Pipeline) fail(ctx context.Context, run *storage.Run, err error) error {
	if rr, ok := serp.AsRemoteRejected(err); ok && !credentialRejected(rr) && run.Status.CanTransition(batch.StatusFailed) {
		run.Status = batch.StatusFailed
	}
	return p.note(ctx, run, err)
}

// note stores err as the run's last error without changing its status.
func (p *Pipeline) note(ctx context.Context, run *storage.Run, err error) error {
	run.LastError = err.Error()
	if rr, ok := serp.AsRemoteRejected(err); ok && len(rr.Payload) > 0 {
		run.LastError = string(rr.Payload)
	}
	if saveErr := p.save(ctx, run); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}

func credentialRejected(rr *serp.RemoteRejected) bool {
	return rr.StatusCode == http.StatusUnauthorized || rr.StatusCode == http.StatusForbidden
}

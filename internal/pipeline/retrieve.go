package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/metrics"
	"github.com/FranksOps/indexcheck/internal/reconcile"
	"github.com/FranksOps/indexcheck/internal/serp"
	"github.com/FranksOps/indexcheck/internal/storage"
	"github.com/FranksOps/indexcheck/pkg/ratelimit"
)

// DefaultPollInterval spaces polls when Wait is given no interval.
const DefaultPollInterval = 30 * time.Second

// Retrieve polls the job once. While it runs the result has Ready == false
// and a nil error. Once finished, every result page is downloaded and
// reconciled against the run's URLs, verdicts are stored and the run moves to
// FINISHED. Retrieving a finished run returns the stored verdicts.
func (p *Pipeline) Retrieve(ctx context.Context, runID string) (*RetrieveResult, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	run, err := p.Backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	log := p.logger().With("run_id", run.ID, "job_id", run.JobID)

	res := &RetrieveResult{RunID: run.ID, JobID: run.JobID}
	switch {
	case run.Status == batch.StatusFinished:
		verdicts, err := p.Backend.QueryVerdicts(ctx, storage.VerdictFilter{RunID: run.ID})
		if err != nil {
			return nil, fmt.Errorf("load verdicts: %w", err)
		}
		res.fill(verdicts)
		return res, nil
	case run.Status == batch.StatusFailed:
		return res, fmt.Errorf("%w: run %s has failed (%s)", batch.ErrInvalidTransition, run.ID, run.LastError)
	case run.JobID == "":
		return res, &batch.ConfigurationError{Field: "job", Reason: "does not exist yet; submit the run first"}
	}

	export, err := p.API.FetchPages(ctx, run.JobID, p.ResultSet, serp.FormatCSV)
	if err != nil {
		// Polling is repeatable, so a rejected poll is recorded without failing the run.
		return res, p.note(ctx, run, fmt.Errorf("fetch result pages: %w", err))
	}
	if !export.Ready {
		log.Info("results not ready")
		return res, nil
	}

	// Nothing is downloaded or stored unless the run can reach FINISHED.
	if err := finishable(run.Status); err != nil {
		return res, err
	}

	// Download failures leave the run untouched; page links can be fetched again.
	pages, err := p.download(ctx, export.Pages)
	if err != nil {
		return res, err
	}
	verdicts := reconcile.Reconcile(run.URLs, pages)

	if err := p.Backend.SaveVerdicts(ctx, run.ID, verdicts); err != nil {
		return res, fmt.Errorf("save verdicts: %w", err)
	}
	run.Status = batch.StatusFinished
	run.LastError = ""
	if err := p.save(ctx, run); err != nil {
		return res, err
	}
	metrics.RecordVerdicts(verdicts)

	res.Pages = len(pages)
	res.fill(verdicts)
	log.Info("results reconciled", "pages", res.Pages, "indexed", res.Indexed, "not_indexed", res.NotIndexed)
	return res, nil
}

// finishable checks that from can reach FINISHED, passing through RUNNING
// when the job was started outside this tool.
func finishable(from batch.JobStatus) error {
	for _, next := range []batch.JobStatus{batch.StatusRunning, batch.StatusFinished} {
		if from == next {
			continue
		}
		if err := batch.Advance(from, next); err != nil {
			return err
		}
		from = next
	}
	return nil
}

// RetrieveJob reconciles a provider job that has no stored run. With no urls
// the queries found in the result pages are used.
func (p *Pipeline) RetrieveJob(ctx context.Context, jobID string, urls []string) (*RetrieveResult, error) {
	if p.API == nil {
		return nil, fmt.Errorf("pipeline: API is nil")
	}
	if jobID == "" {
		return nil, &batch.ConfigurationError{Field: "job_id", Reason: "is required"}
	}

	res := &RetrieveResult{JobID: jobID}
	export, err := p.API.FetchPages(ctx, jobID, p.ResultSet, serp.FormatCSV)
	if err != nil {
		return res, fmt.Errorf("fetch result pages: %w", err)
	}
	if !export.Ready {
		return res, nil
	}

	pages, err := p.download(ctx, export.Pages)
	if err != nil {
		return res, err
	}
	verdicts := reconcile.Reconcile(batch.Dedupe(urls), pages)
	metrics.RecordVerdicts(verdicts)

	res.Pages = len(pages)
	res.fill(verdicts)
	return res, nil
}

// Wait retrieves the run repeatedly, pacing polls by interval with jitter,
// until results are ready, an error occurs or ctx is done. There is no
// attempt limit.
func (p *Pipeline) Wait(ctx context.Context, runID string, interval time.Duration, jitter float64) (*RetrieveResult, error) {
	return p.poll(ctx, interval, jitter, func(ctx context.Context) (*RetrieveResult, error) {
		return p.Retrieve(ctx, runID)
	})
}

// WaitJob is Wait for a job without a stored run.
func (p *Pipeline) WaitJob(ctx context.Context, jobID string, urls []string, interval time.Duration, jitter float64) (*RetrieveResult, error) {
	return p.poll(ctx, interval, jitter, func(ctx context.Context) (*RetrieveResult, error) {
		return p.RetrieveJob(ctx, jobID, urls)
	})
}

func (p *Pipeline) poll(ctx context.Context, interval time.Duration, jitter float64, once func(context.Context) (*RetrieveResult, error)) (*RetrieveResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	limiter := ratelimit.NewEvery(interval, jitter)
	defer limiter.Stop()

	for attempt := 1; ; attempt++ {
		res, err := once(ctx)
		if err != nil || res.Ready {
			return res, err
		}
		p.logger().Debug("waiting for results", "job_id", res.JobID, "attempt", attempt, "interval", interval)
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
	}
}

// download fetches and parses pages concurrently. Page order is preserved.
func (p *Pipeline) download(ctx context.Context, links []string) ([]reconcile.ResultPage, error) {
	limit := p.DownloadConcurrency
	if limit <= 0 {
		limit = DefaultDownloadConcurrency
	}

	pages := make([]reconcile.ResultPage, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, link := range links {
		g.Go(func() error {
			body, err := p.API.Download(gctx, link)
			if err != nil {
				return fmt.Errorf("download page %d: %w", i+1, err)
			}
			defer body.Close()

			page, err := reconcile.ParseCSV(body, link)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (r *RetrieveResult) fill(verdicts []storage.Verdict) {
	r.Ready = true
	r.Verdicts = verdicts
	r.Indexed, r.NotIndexed = reconcile.Count(verdicts)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/pipeline"
	"github.com/FranksOps/indexcheck/internal/report"
	"github.com/FranksOps/indexcheck/internal/source"
	"github.com/FranksOps/indexcheck/internal/storage"
)

func addRetrieveFlags(fs *pflag.FlagSet) {
	fs.Bool("wait", false, "poll until results are ready")
	fs.Duration("interval", pipeline.DefaultPollInterval, "time between polls with --wait")
	fs.Float64("jitter", 0.1, "random spread applied to --interval, 0 to 1")
	fs.StringP("output", "o", "", "write the verdict table as CSV to this file")
	fs.StringP("format", "f", "text", "summary format on stdout: text, json, html or none")
	fs.String("docx", "", "write a Word report to this file")
	fs.Bool("fail-not-ready", false, "exit with code 3 while results are not ready")
	fs.Int("download-concurrency", pipeline.DefaultDownloadConcurrency, "parallel result page downloads")
	fs.Int("result-set", 1, "provider result set to export")
}

func newRetrieveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve [run-id]",
		Short: "Download results and decide which URLs are indexed",
		Long: `Poll the job once (or until ready with --wait). When results are ready
every result page is downloaded and reconciled against the run's URLs.

With --job-id a provider job is reconciled without a stored run; --urls
names the URL list to check, otherwise the queries found in the results
are used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.pipeline(ctx, true)
			if err != nil {
				return err
			}

			var (
				res *pipeline.RetrieveResult
				run *storage.Run
			)
			if jobID := a.v.GetString("job-id"); jobID != "" {
				res, err = a.retrieveJob(ctx, p, jobID)
			} else {
				var id string
				if id, err = a.runID(ctx, args); err != nil {
					return err
				}
				res, err = a.retrieveRun(ctx, p, id)
				if err == nil {
					run, err = p.Backend.GetRun(ctx, id)
				}
			}
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), run, res)
		},
	}
	addRetrieveFlags(cmd.Flags())
	cmd.Flags().String("job-id", "", "provider job to reconcile without a stored run")
	cmd.Flags().String("urls", "", "URL list checked against --job-id results")
	cmd.Flags().String("column", "", "CSV column of --urls holding URLs")
	return cmd
}

func (a *app) retrieveRun(ctx context.Context, p *pipeline.Pipeline, runID string) (*pipeline.RetrieveResult, error) {
	if a.v.GetBool("wait") {
		return p.Wait(ctx, runID, a.v.GetDuration("interval"), a.v.GetFloat64("jitter"))
	}
	return p.Retrieve(ctx, runID)
}

func (a *app) retrieveJob(ctx context.Context, p *pipeline.Pipeline, jobID string) (*pipeline.RetrieveResult, error) {
	var urls []string
	if path := a.v.GetString("urls"); path != "" {
		var err error
		if urls, err = source.ReadFile(path, a.v.GetString("column")); err != nil {
			return nil, err
		}
	}
	if a.v.GetBool("wait") {
		return p.WaitJob(ctx, jobID, urls, a.v.GetDuration("interval"), a.v.GetFloat64("jitter"))
	}
	return p.RetrieveJob(ctx, jobID, urls)
}

// emit prints the summary and writes the requested report files. A result
// that is not ready prints a notice instead.
func (a *app) emit(w io.Writer, run *storage.Run, res *pipeline.RetrieveResult) error {
	format := strings.ToLower(a.v.GetString("format"))
	switch format {
	case "", "text", "json", "html", "none":
	default:
		return &batch.ConfigurationError{Field: "format", Reason: fmt.Sprintf("unknown format %q", format)}
	}

	if !res.Ready {
		fmt.Fprintf(w, "Results for job %s are not ready yet; retrieve again later.\n", res.JobID)
		if a.v.GetBool("fail-not-ready") {
			return errNotReady
		}
		return nil
	}

	summary := report.GenerateSummary(run, res.Verdicts)
	if run == nil {
		summary.JobID = res.JobID
	}

	if path := a.v.GetString("output"); path != "" {
		if err := writeFile(path, func(f io.Writer) error { return report.WriteCSV(f, res.Verdicts) }); err != nil {
			return err
		}
		a.logger.Info("verdicts written", "path", path, "count", len(res.Verdicts))
	}
	if path := a.v.GetString("docx"); path != "" {
		if err := report.WriteDOCX(path, summary); err != nil {
			return err
		}
		a.logger.Info("docx report written", "path", path)
	}

	switch format {
	case "json":
		return report.WriteJSON(w, summary)
	case "html":
		return report.WriteHTML(w, summary)
	case "none":
		return nil
	default:
		return report.WriteText(w, summary)
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

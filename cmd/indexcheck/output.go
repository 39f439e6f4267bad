package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/FranksOps/indexcheck/internal/pipeline"
	"github.com/FranksOps/indexcheck/internal/storage"
)

func printConfigure(w io.Writer, res *pipeline.ConfigureResult) {
	run := res.Run
	fmt.Fprintf(w, "Run %s configured: %d URLs in %d chunks.\n", run.ID, run.Requested, run.ChunksTotal)
	fmt.Fprintf(w, "Cost: %d searches on %s (%s).\n", res.Cost, run.Config.Domain, run.Config.Location)
	if res.Warning != nil {
		fmt.Fprintf(w, "Warning: %v\n", res.Warning)
	}
}

func printSubmit(w io.Writer, res *pipeline.SubmitResult) {
	if res.AlreadySubmitted {
		fmt.Fprintf(w, "Run %s already submitted as job %s (%d of %d searches accepted).\n", res.RunID, res.JobID, res.Accepted, res.Requested)
		return
	}
	for _, c := range res.Chunks {
		if c.Recovered {
			fmt.Fprintf(w, "Chunk %d: already held by the provider, %d accepted.\n", c.Index+1, c.Accepted)
			continue
		}
		fmt.Fprintf(w, "Chunk %d: %d sent, %d accepted.\n", c.Index+1, c.Sent, c.Accepted)
	}
	fmt.Fprintf(w, "Job %s: %d of %d searches accepted.\n", res.JobID, res.Accepted, res.Requested)
	if res.Accepted != res.Requested {
		fmt.Fprintf(w, "Warning: the provider accepted %d searches, %d were requested.\n", res.Accepted, res.Requested)
	}
}

func printStart(w io.Writer, res *pipeline.StartResult) {
	if res.AlreadyStarted {
		fmt.Fprintf(w, "Job %s was already started.\n", res.JobID)
		return
	}
	fmt.Fprintf(w, "Job %s started.\n", res.JobID)
}

func printRun(w io.Writer, run *storage.Run) {
	fmt.Fprintf(w, "Run:        %s\n", run.ID)
	fmt.Fprintf(w, "Status:     %s\n", run.Status)
	if run.JobID != "" {
		fmt.Fprintf(w, "Job:        %s\n", run.JobID)
	}
	fmt.Fprintf(w, "Search:     %s (%s), %d results\n", run.Config.Domain, run.Config.Location, run.Config.ResultCount)
	fmt.Fprintf(w, "Searches:   %d accepted of %d requested\n", run.Accepted, run.Requested)
	fmt.Fprintf(w, "Chunks:     %d of %d appended\n", run.ChunksAppended, run.ChunksTotal)
	fmt.Fprintf(w, "Created:    %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:    %s\n", run.UpdatedAt.Format(time.RFC3339))
	if run.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", run.LastError)
	}
}

func printStatus(w io.Writer, rep *pipeline.StatusReport) {
	printRun(w, rep.Run)
	switch {
	case rep.RemoteError != "":
		fmt.Fprintf(w, "Provider:   unavailable (%s)\n", rep.RemoteError)
	case rep.Remote != nil:
		fmt.Fprintf(w, "Provider:   %s, %d searches, %d result sets\n", rep.Remote.Status, rep.Remote.SearchesTotal, rep.Remote.ResultsCount)
	}
}

func printRuns(w io.Writer, runs []*storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tJOB\tSTATUS\tURLS\tACCEPTED\tCREATED")
	for _, r := range runs {
		job := r.JobID
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, job, r.Status, r.Requested, r.Accepted, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

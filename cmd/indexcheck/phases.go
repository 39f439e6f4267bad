package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/indexcheck/internal/batch"
	"github.com/FranksOps/indexcheck/internal/storage"
)

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [run-id]",
		Short: "Create the provider job and append the run's searches",
		Long: `Create the provider job and append the run's searches chunk by chunk.
An interrupted submit resumes at the first chunk not yet accepted.
Without a run id the newest run is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.runID(ctx, args)
			if err != nil {
				return err
			}
			p, err := a.pipeline(ctx, true)
			if err != nil {
				return err
			}
			res, err := p.Submit(ctx, id)
			if res != nil {
				printSubmit(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start [run-id]",
		Short: "Queue the submitted job for execution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.runID(ctx, args)
			if err != nil {
				return err
			}
			p, err := a.pipeline(ctx, true)
			if err != nil {
				return err
			}
			res, err := p.Start(ctx, id)
			if err != nil {
				return err
			}
			printStart(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run and the provider's view of its job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.runID(ctx, args)
			if err != nil {
				return err
			}
			// The provider lookup is skipped without a key.
			p, err := a.pipeline(ctx, a.v.GetString("api-key") != "" && !a.v.GetBool("local"))
			if err != nil {
				return err
			}
			if p.API == nil {
				run, err := p.Backend.GetRun(ctx, id)
				if err != nil {
					return err
				}
				printRun(cmd.OutOrStdout(), run)
				return nil
			}
			rep, err := p.Status(ctx, id)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().Bool("local", false, "only show the stored run")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.store(ctx)
			if err != nil {
				return err
			}
			filter := storage.Filter{
				JobID: a.v.GetString("job-id"),
				Limit: a.v.GetInt("limit"),
			}
			if s := a.v.GetString("status"); s != "" {
				st, err := batch.ParseStatus(s)
				if err != nil {
					return err
				}
				filter.Status = st
			}
			if d := a.v.GetDuration("since"); d > 0 {
				since := time.Now().Add(-d)
				filter.Since = &since
			}
			runs, err := b.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.String("status", "", "only runs in this status")
	fs.String("job-id", "", "only the run of this provider job")
	fs.Duration("since", 0, "only runs created within this duration")
	fs.Int("limit", 20, "maximum runs listed, 0 for all")
	return cmd
}

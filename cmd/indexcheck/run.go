package main

import (
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Configure, submit, start and wait for a run in one go",
		Long: `Run every phase in sequence. Each phase saves the run, so an
interrupted run can be continued with submit, start or retrieve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			conf, err := a.configure(ctx)
			if err != nil {
				return err
			}
			printConfigure(out, conf)

			p, err := a.pipeline(ctx, true)
			if err != nil {
				return err
			}
			id := conf.Run.ID

			sub, err := p.Submit(ctx, id)
			if sub != nil {
				printSubmit(out, sub)
			}
			if err != nil {
				return err
			}

			started, err := p.Start(ctx, id)
			if err != nil {
				return err
			}
			printStart(out, started)

			res, err := p.Wait(ctx, id, a.v.GetDuration("interval"), a.v.GetFloat64("jitter"))
			if err != nil {
				return err
			}
			run, err := p.Backend.GetRun(ctx, id)
			if err != nil {
				return err
			}
			return a.emit(out, run, res)
		},
	}
	addSourceFlags(cmd.Flags())
	addSearchFlags(cmd.Flags())
	addRetrieveFlags(cmd.Flags())
	return cmd
}

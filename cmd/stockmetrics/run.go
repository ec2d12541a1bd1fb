package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stockmetrics/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one batch invocation",
	Long: `Run processes symbols from the resume point until the list is done, the
per-run cap is reached or the time budget runs out. When work remains a
continuation is registered with the scheduler.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	svc, err := newService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	out, err := svc.RunBatch(cmd.Context())
	if errors.Is(err, model.ErrNoSymbols) {
		fmt.Fprintln(cmd.OutOrStdout(), "no symbols to analyze")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d-%d of %d, %d failed, %d buy, %d sell, continuation: %s\n",
		out.State, out.Mode, out.StartAt, out.Next, out.Total, out.Failed, out.Buys, out.Sells, out.Continuation)
	return err
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon with the metrics and job API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		return svc.Serve(cmd.Context())
	},
}

var recalcWorkerCmd = &cobra.Command{
	Use:   "recalc-worker",
	Short: "Evaluate queued price formulas for the formula provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		return svc.RecalcWorker(cmd.Context())
	},
}

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stockmetrics/internal/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [symbol...]",
	Short: "Compute indicators for symbols without writing the sheet",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	svc, err := newService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(model.Columns, "\t"))
	for _, sym := range args {
		res := svc.Analyze(cmd.Context(), sym)
		fmt.Fprintln(tw, strings.Join(model.Row(res), "\t"))
	}
	return tw.Flush()
}

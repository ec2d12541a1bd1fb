package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sheet progress, the pending continuation and recent runs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	statusRuns int
	statusJSON bool
)

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "Number of recent runs to show")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	svc, err := newService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Status(cmd.Context(), statusRuns)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(out, "job:          %s\n", st.Job)
	fmt.Fprintf(out, "market:       %s\n", st.Market)
	fmt.Fprintf(out, "sheet:        %s (%d data rows)\n", st.SinkSheet, st.DataRows)
	if st.LastUpdated != "" {
		fmt.Fprintf(out, "last update:  %s\n", st.LastUpdated)
	}
	if st.Pending != nil {
		fmt.Fprintf(out, "continuation: %s\n", st.Pending.FireAt.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Fprintf(out, "continuation: none\n")
	}

	if len(st.Runs) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATE\tMODE\tFROM\tNEXT\tTOTAL\tFAILED\tERROR")
	for _, r := range st.Runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.State, r.Mode, r.StartAt, r.Next, r.Total, r.Failed, r.Error)
	}
	return tw.Flush()
}

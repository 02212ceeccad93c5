package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/monitoring"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/store"
)

var (
	statusLookbackHours int
	statusShowRuns      int
	statusShowDLQ       bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := monitoring.NewCollector(st).Collect(ctx, statusLookbackHours)
		if err != nil {
			return err
		}

		out := map[string]any{"metrics": snap}

		if statusShowRuns > 0 {
			runs, err := st.ListRuns(ctx, store.RunFilter{Limit: statusShowRuns})
			if err != nil {
				return err
			}
			out["recent_runs"] = runs
		}
		if statusShowDLQ {
			entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{Limit: 50})
			if err != nil {
				return err
			}
			out["dead_letters"] = entries
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal status")
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookbackHours, "lookback-hours", 24, "window for run and signal stats")
	statusCmd.Flags().IntVar(&statusShowRuns, "runs", 0, "include the N most recent runs")
	statusCmd.Flags().BoolVar(&statusShowDLQ, "dlq", false, "include retryable dead-letter entries")
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/expoforge/scout-cli/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run history and cache health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		window, _ := cmd.Flags().GetInt("window")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, window)
		if err != nil {
			return eris.Wrap(err, "status: collect")
		}

		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("window", 0, "number of recent runs to aggregate (0 = default)")
	rootCmd.AddCommand(statusCmd)
}

// formatSnapshot writes the monitoring snapshot to w.
func formatSnapshot(out io.Writer, snap *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs (last %d):\t%d\n", snap.Window, snap.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Complete:\t%d\n", snap.RunsComplete)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", snap.RunsFailed)
	_, _ = fmt.Fprintf(w, "  Cancelled:\t%d\n", snap.RunsCancelled)
	_, _ = fmt.Fprintf(w, "  In flight:\t%d\n", snap.RunsQueued+snap.RunsRunning)
	_, _ = fmt.Fprintf(w, "Orgs evaluated:\t%d\n", snap.OrgsEvaluated)
	if snap.OrgsEvaluated > 0 {
		_, _ = fmt.Fprintf(w, "Average score:\t%.1f\n", snap.AverageScore)
		_, _ = fmt.Fprintf(w, "Max score:\t%.1f\n", snap.MaxScore)
		_, _ = fmt.Fprintf(w, "AI share:\t%.0f%%\n", snap.AIShare*100)
		_, _ = fmt.Fprintf(w, "Cache hit rate:\t%.0f%%\n", snap.CacheHitRate*100)
		_, _ = fmt.Fprintf(w, "Total cost:\t$%.2f\n", snap.TotalCostUSD)
	}
	if snap.LastRun != nil {
		_, _ = fmt.Fprintf(w, "Last run:\t%s (%s, %d orgs, top %.0f)\n",
			truncateID(snap.LastRun.ID),
			snap.LastRun.Status,
			snap.LastRun.Attempted,
			snap.LastRun.TopScore,
		)
	}
	if snap.Cache != nil {
		_, _ = fmt.Fprintf(w, "Cache entries:\t%d (%d chars)\n", snap.Cache.Entries, snap.Cache.TotalChars)
	}
	_ = w.Flush()
}

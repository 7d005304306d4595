package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/expoforge/scout-cli/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the content cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show content cache statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.ContentStats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache: stats")
		}

		formatCacheStats(os.Stdout, stats)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached content older than a cutoff",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		olderThan, _ := cmd.Flags().GetDuration("older-than")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		cutoff := time.Now().Add(-olderThan)
		deleted, err := st.PurgeContentBefore(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "cache: purge")
		}

		zap.L().Info("cache purged",
			zap.Int("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
		fmt.Printf("Deleted %d cache entries older than %s.\n", deleted, olderThan)
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete entries stored before now minus this duration")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

// formatCacheStats writes cache statistics to w.
func formatCacheStats(out io.Writer, stats *store.ContentStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Entries:\t%d\n", stats.Entries)
	_, _ = fmt.Fprintf(w, "Total chars:\t%d\n", stats.TotalChars)
	if stats.Entries > 0 {
		_, _ = fmt.Fprintf(w, "Oldest:\t%s\n", stats.OldestAt.Format("2006-01-02 15:04"))
		_, _ = fmt.Fprintf(w, "Newest:\t%s\n", stats.NewestAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

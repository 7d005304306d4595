package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/expoforge/scout-cli/internal/ingest"
	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/pipeline"
	"github.com/expoforge/scout-cli/pkg/notion"
)

var (
	analyzeRoster      string
	analyzeLimit       int
	analyzeConcurrency int
	analyzeOffline     bool
	analyzeNoCache     bool
	analyzeOutput      string
	analyzeDashboard   string
	analyzeNotion      bool
	analyzeLabel       string
	analyzeFormat      string
	analyzeSheet       string
	analyzeDelimiter   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score every organization in an exhibitor roster",
	Long: `Loads an exhibitor roster (CSV or XLSX, local path or URL), fetches each
organization's website, scores it against the relevance rubric, and writes
a ranked report.

Examples:
  # Keyword-only run over a local CSV, report to stdout
  scout analyze --roster exhibitors.csv --offline

  # Full run with AI scoring, JSON report and HTML dashboard
  scout analyze --roster exhibitors.xlsx --output report.json --dashboard report.html

  # First 10 orgs from a remote roster, pushed to Notion
  scout analyze --roster https://expo.example.com/exhibitors.csv --limit 10 --notion`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orgs, err := ingest.Load(ctx, analyzeRoster, ingest.Options{
			Delimiter: delimiterRune(analyzeDelimiter),
			Format:    analyzeFormat,
			Sheet:     analyzeSheet,
		})
		if err != nil {
			return eris.Wrap(err, "analyze: load roster")
		}
		zap.L().Info("roster loaded", zap.String("source", analyzeRoster), zap.Int("orgs", len(orgs)))

		if analyzeConcurrency > 0 {
			cfg.Fetch.MaxConcurrent = analyzeConcurrency
		}

		env, err := initPipeline(ctx, pipelineOpts{
			Offline: analyzeOffline,
			NoCache: analyzeNoCache,
		})
		if err != nil {
			return eris.Wrap(err, "analyze: init pipeline")
		}
		defer env.Close()

		start := time.Now()
		report, err := env.Pipeline.Run(ctx, orgs, buildRunOptions())
		if err != nil {
			return eris.Wrap(err, "analyze: run")
		}

		zap.L().Info("analyze complete",
			zap.String("run_id", report.RunID),
			zap.Int("attempted", report.Attempted),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed_fetch", report.FailedFetch),
			zap.Int("ai_used", report.AIUsed),
			zap.Int("fallback_used", report.FallbackUsed),
			zap.Float64("cache_hit_rate", report.CacheHitRate),
			zap.Float64("cost_usd", report.CostUSD),
			zap.Duration("elapsed", time.Since(start)),
		)

		if analyzeOutput != "" {
			if err := env.Pipeline.WriteJSON(report, analyzeOutput); err != nil {
				return err
			}
			zap.L().Info("report written", zap.String("path", analyzeOutput))
		} else {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return eris.Wrap(err, "analyze: encode report")
			}
		}

		if analyzeDashboard != "" {
			if err := env.Pipeline.WriteDashboard(report, analyzeDashboard); err != nil {
				return err
			}
			zap.L().Info("dashboard written", zap.String("path", analyzeDashboard))
		}

		if analyzeNotion {
			if err := exportToNotion(ctx, report); err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeRoster, "roster", "", "roster file path or URL (required)")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "max orgs to process (0 = all)")
	analyzeCmd.Flags().IntVar(&analyzeConcurrency, "concurrency", 0, "fetch concurrency (0 = config default)")
	analyzeCmd.Flags().BoolVar(&analyzeOffline, "offline", false, "skip AI scoring, keyword rubric only")
	analyzeCmd.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "skip the persistent content cache for this run")
	analyzeCmd.Flags().StringVar(&analyzeOutput, "output", "", "write report JSON to file (default: stdout)")
	analyzeCmd.Flags().StringVar(&analyzeDashboard, "dashboard", "", "write HTML dashboard to file")
	analyzeCmd.Flags().BoolVar(&analyzeNotion, "notion", false, "export top results to the Notion database")
	analyzeCmd.Flags().StringVar(&analyzeLabel, "label", "", "label for this run")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "", "roster format: csv or xlsx (default: by extension)")
	analyzeCmd.Flags().StringVar(&analyzeSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	analyzeCmd.Flags().StringVar(&analyzeDelimiter, "delimiter", "", "CSV delimiter (default: ';')")
	_ = analyzeCmd.MarkFlagRequired("roster")
	rootCmd.AddCommand(analyzeCmd)
}

// buildRunOptions maps analyze flags to pipeline run options.
func buildRunOptions() pipeline.Options {
	return pipeline.Options{
		Limit:    analyzeLimit,
		Label:    analyzeLabel,
		StoreRun: true,
	}
}

// delimiterRune maps the --delimiter flag to a rune, keeping the ingest
// default when the flag is empty.
func delimiterRune(s string) rune {
	if s == "" {
		return 0
	}
	return []rune(s)[0]
}

// exportToNotion pushes the top-scored orgs from the report to the
// configured Notion results database.
func exportToNotion(ctx context.Context, report *model.BatchReport) error {
	if cfg.Notion.Token == "" || cfg.Notion.ResultsDB == "" {
		return eris.New("analyze: notion export requires SCOUT_NOTION_TOKEN and SCOUT_NOTION_RESULTS_DB")
	}

	client := notion.NewClient(cfg.Notion.Token)
	exporter := notion.NewResultsExporter(client, cfg.Notion.ResultsDB)
	written, err := exporter.Export(ctx, report, cfg.Notion.TopN)
	if err != nil {
		return err
	}

	zap.L().Info("notion export complete", zap.Int("pages", written))
	return nil
}

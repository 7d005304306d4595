package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/expoforge/scout-cli/internal/model"
)

var (
	scoreName        string
	scoreWebsite     string
	scoreDescription string
	scoreSector      string
	scoreOffline     bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single organization",
	Long: `Fetches one organization's website, scores it against the relevance
rubric, and prints the evaluation as JSON.

Examples:
  # Keyword-only scoring
  scout score --name "Acme Archives" --website acme-archives.example --offline

  # AI scoring with roster context
  scout score --name "Acme Archives" --website acme-archives.example \
    --description "Document digitization services" --sector "GED"`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreName, "name", "", "organization name")
	scoreCmd.Flags().StringVar(&scoreWebsite, "website", "", "organization website (required)")
	scoreCmd.Flags().StringVar(&scoreDescription, "description", "", "roster description")
	scoreCmd.Flags().StringVar(&scoreSector, "sector", "", "roster sector")
	scoreCmd.Flags().BoolVar(&scoreOffline, "offline", false, "skip AI scoring, keyword rubric only")
	_ = scoreCmd.MarkFlagRequired("website")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	env, err := initPipeline(ctx, pipelineOpts{Offline: scoreOffline})
	if err != nil {
		return eris.Wrap(err, "score: init pipeline")
	}
	defer env.Close()

	org := model.Org{
		Name:        scoreName,
		Website:     scoreWebsite,
		Description: scoreDescription,
		Sector:      scoreSector,
	}

	eval, err := env.Pipeline.Evaluate(ctx, org)
	if err != nil {
		return eris.Wrapf(err, "score: %s", org.DisplayName())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(eval)
}

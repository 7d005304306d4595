package pipeline

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/expoforge/scout-cli/internal/model"
)

const (
	exportVersion = "2.0"
	exportTopN    = 100
)

// Export is the JSON result file written after a batch run. TopOrgs holds
// the top evaluations by total score descending; the canonical full list
// stays in the store with the run.
type Export struct {
	Metadata ExportMetadata     `json:"metadata"`
	TopOrgs  []model.Evaluation `json:"top_orgs"`
	Summary  SummaryStats       `json:"summary_stats"`
}

type ExportMetadata struct {
	Version         string         `json:"version"`
	AnalysisDate    time.Time      `json:"analysis_date"`
	TotalAnalyzed   int            `json:"total_analyzed"`
	ClaudeAIEnabled bool           `json:"claude_ai_enabled"`
	CacheEnabled    bool           `json:"cache_enabled"`
	Scraping        ScrapingStats  `json:"scraping_performance"`
	TagDistribution map[string]int `json:"tag_distribution"`
}

// ScrapingStats splits fetch outcomes three ways. Unlike the report's
// succeeded count, cached results are broken out separately here.
type ScrapingStats struct {
	Successful int `json:"successful"`
	Cached     int `json:"cached"`
	Failed     int `json:"failed"`
}

type SummaryStats struct {
	AverageScore float64 `json:"average_score"`
	MaxScore     float64 `json:"max_score"`
	MinScore     float64 `json:"min_score"`
	StdDev       float64 `json:"std_dev"`
}

// BuildExport shapes a batch report into the export schema.
func BuildExport(report *model.BatchReport, aiEnabled, cacheEnabled bool) *Export {
	scraping := ScrapingStats{}
	for _, eval := range report.Evaluations {
		switch eval.Fetch.Status {
		case model.FetchStatusSuccess:
			scraping.Successful++
		case model.FetchStatusCached:
			scraping.Cached++
		default:
			scraping.Failed++
		}
	}

	return &Export{
		Metadata: ExportMetadata{
			Version:         exportVersion,
			AnalysisDate:    report.GeneratedAt,
			TotalAnalyzed:   report.Attempted,
			ClaudeAIEnabled: aiEnabled,
			CacheEnabled:    cacheEnabled,
			Scraping:        scraping,
			TagDistribution: report.TagDistribution,
		},
		TopOrgs: report.TopN(exportTopN),
		Summary: summarize(report.Evaluations),
	}
}

// summarize computes score statistics over the full evaluation list.
// StdDev is the population standard deviation.
func summarize(evals []model.Evaluation) SummaryStats {
	if len(evals) == 0 {
		return SummaryStats{}
	}

	stats := SummaryStats{
		MaxScore: evals[0].Total,
		MinScore: evals[0].Total,
	}
	var sum float64
	for _, eval := range evals {
		sum += eval.Total
		if eval.Total > stats.MaxScore {
			stats.MaxScore = eval.Total
		}
		if eval.Total < stats.MinScore {
			stats.MinScore = eval.Total
		}
	}
	stats.AverageScore = sum / float64(len(evals))

	var sqSum float64
	for _, eval := range evals {
		d := eval.Total - stats.AverageScore
		sqSum += d * d
	}
	stats.StdDev = math.Sqrt(sqSum / float64(len(evals)))

	return stats
}

// WriteJSON writes the export file for a finished run.
func (p *Pipeline) WriteJSON(report *model.BatchReport, path string) error {
	export := BuildExport(report, p.cfg.Anthropic.Enabled(), p.cfg.Cache.Enabled)

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

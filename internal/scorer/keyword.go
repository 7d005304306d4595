package scorer

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/expoforge/scout-cli/internal/config"
	"github.com/expoforge/scout-cli/internal/model"
)

// DefaultMultiplier converts keyword occurrence counts into criterion points.
const DefaultMultiplier = 2.5

// maxKeywordsReported caps the matched keywords recorded on an evaluation.
const maxKeywordsReported = 10

// fallbackJustification marks evaluations produced without Claude.
const fallbackJustification = "Analyse par mots-clés (Claude indisponible)"

// KeywordScorer grades orgs by counting criterion keyword occurrences in
// the page content and roster description. Deterministic: the same inputs
// always yield the same evaluation.
type KeywordScorer struct {
	rules      Rules
	multiplier float64
	tagFloor   float64
}

// NewKeywordScorer creates a KeywordScorer from a rule set and the scoring
// config. Values carried by the rule set beat the config; a non-positive
// multiplier from both falls back to DefaultMultiplier.
func NewKeywordScorer(rules Rules, cfg config.ScoreConfig) *KeywordScorer {
	multiplier := rules.Multiplier
	if multiplier <= 0 {
		multiplier = cfg.Multiplier
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	tagFloor := cfg.TagFloor
	if rules.TagFloor != nil {
		tagFloor = *rules.TagFloor
	}
	return &KeywordScorer{
		rules:      rules,
		multiplier: multiplier,
		tagFloor:   tagFloor,
	}
}

// Name identifies this scorer in logs and evaluations.
func (ks *KeywordScorer) Name() string { return "keyword" }

// Score grades one org. Each criterion earns multiplier points per keyword
// occurrence, capped at the criterion maximum. The context is unused;
// keyword scoring never blocks.
func (ks *KeywordScorer) Score(_ context.Context, org model.Org, fetched model.FetchResult) (*model.Evaluation, error) {
	combined := strings.ToLower(fetched.Content + " " + org.Description)

	scores := make(map[string]float64, len(model.CriterionNames()))
	var found []string
	var total float64

	for _, criterion := range model.CriterionNames() {
		hits := 0
		for _, kw := range ks.rules.Keywords[criterion] {
			n := strings.Count(combined, strings.ToLower(kw))
			if n == 0 {
				continue
			}
			hits += n
			if len(found) < maxKeywordsReported {
				found = append(found, kw)
			}
		}
		score := math.Min(float64(hits)*ks.multiplier, model.MaxCriterionScore)
		scores[criterion] = score
		total += score
	}

	return &model.Evaluation{
		Org:           org,
		Scores:        scores,
		Total:         total,
		Tags:          ks.assignTags(combined, total),
		Source:        model.SourceKeyword,
		Justification: fallbackJustification,
		KeywordsFound: found,
		Fetch:         fetched.Summary(),
		EvaluatedAt:   time.Now().UTC(),
	}, nil
}

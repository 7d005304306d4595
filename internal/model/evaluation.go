package model

import "time"

// The four relevance criteria. Keyword sets behind each are configurable;
// the names and count are fixed.
const (
	CriterionNumerisation    = "numerisation"
	CriterionExtraction      = "extraction"
	CriterionCertification   = "certification"
	CriterionMiseDisposition = "mise_disposition"
)

// CriterionNames returns the four criteria in canonical order.
func CriterionNames() []string {
	return []string{
		CriterionNumerisation,
		CriterionExtraction,
		CriterionCertification,
		CriterionMiseDisposition,
	}
}

// MaxCriterionScore caps each criterion; four criteria cap the total at 100.
const MaxCriterionScore = 25.0

// ScoreSource says which scorer produced an Evaluation.
type ScoreSource string

const (
	SourceAI      ScoreSource = "ai"
	SourceKeyword ScoreSource = "keyword"
)

// Evaluation is the scored outcome for one org: four criterion scores in
// [0,25], their total in [0,100], and the tags that fired. Created once by
// the scoring engine; immutable thereafter.
type Evaluation struct {
	Org           Org                `json:"org"`
	Scores        map[string]float64 `json:"scores"`
	Total         float64            `json:"total_score"`
	Tags          []string           `json:"tags"`
	Source        ScoreSource        `json:"source"`
	Confidence    float64            `json:"confidence,omitempty"`
	Justification string             `json:"justification,omitempty"`
	KeywordsFound []string           `json:"keywords_found,omitempty"`
	Fetch         FetchSummary       `json:"fetch"`
	EvaluatedAt   time.Time          `json:"evaluated_at"`
}

// SumScores returns the sum of the criterion scores.
func (e Evaluation) SumScores() float64 {
	var total float64
	for _, v := range e.Scores {
		total += v
	}
	return total
}

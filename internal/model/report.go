package model

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// BatchReport aggregates one run: every selected org appears exactly once
// in Evaluations, in input order, with either a usable fetch or a recorded
// failure. Finalized only after all orgs resolve or the run is cancelled.
type BatchReport struct {
	RunID       string       `json:"run_id"`
	Label       string       `json:"label,omitempty"`
	Evaluations []Evaluation `json:"evaluations"`

	Attempted    int     `json:"attempted"`
	Succeeded    int     `json:"succeeded"`
	FailedFetch  int     `json:"failed_fetch"`
	CacheHits    int     `json:"cache_hits"`
	CacheMisses  int     `json:"cache_misses"`
	AIUsed       int     `json:"ai_used"`
	FallbackUsed int     `json:"fallback_used"`
	SuccessRate  float64 `json:"success_rate"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	TagDistribution map[string]int `json:"tag_distribution"`
	CostUSD         float64        `json:"cost_usd"`
	ElapsedMs       int64          `json:"elapsed_ms"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Validate checks the report's internal consistency before it is handed to
// callers: counts must match the evaluation list.
func (r *BatchReport) Validate() error {
	n := len(r.Evaluations)
	if r.Attempted != n {
		return eris.Errorf("report: attempted %d != %d evaluations", r.Attempted, n)
	}
	if r.Succeeded+r.FailedFetch != n {
		return eris.Errorf("report: succeeded %d + failed %d != %d evaluations",
			r.Succeeded, r.FailedFetch, n)
	}
	if r.CacheHits+r.CacheMisses != n {
		return eris.Errorf("report: cache hits %d + misses %d != %d evaluations",
			r.CacheHits, r.CacheMisses, n)
	}
	if r.AIUsed+r.FallbackUsed != n {
		return eris.Errorf("report: ai %d + fallback %d != %d evaluations",
			r.AIUsed, r.FallbackUsed, n)
	}
	seen := make(map[string]bool, n)
	for _, e := range r.Evaluations {
		if seen[e.Org.ID] {
			return eris.Errorf("report: org %s appears more than once", e.Org.ID)
		}
		seen[e.Org.ID] = true
	}
	return nil
}

// TopN returns a copy of the evaluations sorted by total descending,
// truncated to n. Equal totals keep input order; the canonical list is
// left untouched.
func (r *BatchReport) TopN(n int) []Evaluation {
	sorted := make([]Evaluation, len(r.Evaluations))
	copy(sorted, r.Evaluations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Total > sorted[j].Total
	})
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

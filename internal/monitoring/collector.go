// Package monitoring aggregates persisted runs and cache state into the
// operator-facing snapshot behind the status command and the stats endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/store"
)

// defaultWindow bounds how many recent runs Collect aggregates over when
// the caller passes zero.
const defaultWindow = 50

// Snapshot holds a point-in-time view of system health.
type Snapshot struct {
	// Run counts by status (within the window).
	RunsTotal     int `json:"runs_total"`
	RunsQueued    int `json:"runs_queued"`
	RunsRunning   int `json:"runs_running"`
	RunsComplete  int `json:"runs_complete"`
	RunsFailed    int `json:"runs_failed"`
	RunsCancelled int `json:"runs_cancelled"`

	// Aggregates over the reports those runs carry.
	OrgsEvaluated int     `json:"orgs_evaluated"`
	AverageScore  float64 `json:"average_score"`
	MaxScore      float64 `json:"max_score"`
	AIShare       float64 `json:"ai_share"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	TotalCostUSD  float64 `json:"total_cost_usd"`

	// Most recent run, when any exist.
	LastRun *RunSummary `json:"last_run,omitempty"`

	// Content cache totals.
	Cache *store.ContentStats `json:"cache,omitempty"`

	// Metadata.
	Window      int       `json:"window"`
	CollectedAt time.Time `json:"collected_at"`
}

// RunSummary condenses one run for display.
type RunSummary struct {
	ID        string          `json:"id"`
	Label     string          `json:"label,omitempty"`
	Status    model.RunStatus `json:"status"`
	Attempted int             `json:"attempted,omitempty"`
	Succeeded int             `json:"succeeded,omitempty"`
	TopScore  float64         `json:"top_score,omitempty"`
	CostUSD   float64         `json:"cost_usd,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect builds a snapshot over the most recent window runs. A window of
// zero or less falls back to defaultWindow.
func (c *Collector) Collect(ctx context.Context, window int) (*Snapshot, error) {
	if window <= 0 {
		window = defaultWindow
	}
	snap := &Snapshot{
		Window:      window,
		CollectedAt: time.Now().UTC(),
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: window})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var aiUsed, cacheHits, scored int
	var scoreSum float64

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusQueued:
			snap.RunsQueued++
		case model.RunStatusRunning:
			snap.RunsRunning++
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		}
		if r.Report == nil {
			continue
		}
		snap.OrgsEvaluated += r.Report.Attempted
		snap.TotalCostUSD += r.Report.CostUSD
		aiUsed += r.Report.AIUsed
		cacheHits += r.Report.CacheHits
		for _, ev := range r.Report.Evaluations {
			scoreSum += ev.Total
			if ev.Total > snap.MaxScore {
				snap.MaxScore = ev.Total
			}
			scored++
		}
	}

	if snap.OrgsEvaluated > 0 {
		snap.AIShare = float64(aiUsed) / float64(snap.OrgsEvaluated)
		snap.CacheHitRate = float64(cacheHits) / float64(snap.OrgsEvaluated)
	}
	if scored > 0 {
		snap.AverageScore = scoreSum / float64(scored)
	}

	// ListRuns orders newest first.
	if len(runs) > 0 {
		snap.LastRun = summarizeRun(runs[0])
	}

	stats, err := c.store.ContentStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: content stats")
	}
	snap.Cache = stats

	return snap, nil
}

// summarizeRun condenses a run row; runs without a report keep zero counts.
func summarizeRun(r model.Run) *RunSummary {
	s := &RunSummary{
		ID:        r.ID,
		Label:     r.Label,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
	if r.Report != nil {
		s.Attempted = r.Report.Attempted
		s.Succeeded = r.Report.Succeeded
		s.CostUSD = r.Report.CostUSD
		if top := r.Report.TopN(1); len(top) > 0 {
			s.TopScore = top[0].Total
		}
	}
	return s
}

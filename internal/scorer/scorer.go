// Package scorer grades organizations against the documentary-management
// relevance rubric: four criteria worth up to 25 points each, plus thematic
// tags. Claude does the grading when configured; a deterministic keyword
// counter covers every org the AI path cannot.
package scorer

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/expoforge/scout-cli/internal/model"
)

// Scorer grades a single org from its fetched content. Implementations
// must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, org model.Org, fetched model.FetchResult) (*model.Evaluation, error)
	// Name identifies the scorer in logs.
	Name() string
}

// Engine routes each org to the primary scorer and falls back to the
// secondary when the primary fails. Fallback is whole-org: a failed
// primary contributes nothing to the evaluation, not partial scores.
type Engine struct {
	primary  Scorer
	fallback Scorer

	primaryUsed  atomic.Int64
	fallbackUsed atomic.Int64
}

// NewEngine creates an Engine. primary may be nil, in which case every
// evaluation takes the fallback path; fallback must not be nil.
func NewEngine(primary, fallback Scorer) *Engine {
	return &Engine{primary: primary, fallback: fallback}
}

// Score grades one org.
func (e *Engine) Score(ctx context.Context, org model.Org, fetched model.FetchResult) (*model.Evaluation, error) {
	if e.primary != nil {
		eval, err := e.primary.Score(ctx, org, fetched)
		if err == nil {
			e.primaryUsed.Add(1)
			return eval, nil
		}
		zap.L().Warn("score: primary scorer failed, using fallback",
			zap.String("org_id", org.ID),
			zap.String("org", org.DisplayName()),
			zap.String("scorer", e.primary.Name()),
			zap.Error(err),
		)
	}

	eval, err := e.fallback.Score(ctx, org, fetched)
	if err != nil {
		return nil, err
	}
	e.fallbackUsed.Add(1)
	return eval, nil
}

// Counts reports how many evaluations each path produced so far.
func (e *Engine) Counts() (primary, fallback int64) {
	return e.primaryUsed.Load(), e.fallbackUsed.Load()
}

// Package pipeline orchestrates the full evaluation flow: fetch exhibitor
// websites, score each organisation, aggregate the results into a batch
// report, and persist run lifecycle state when a store is configured.
package pipeline

import (
	"context"

	"github.com/expoforge/scout-cli/internal/config"
	"github.com/expoforge/scout-cli/internal/cost"
	"github.com/expoforge/scout-cli/internal/fetcher"
	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/scorer"
	"github.com/expoforge/scout-cli/internal/store"
)

// Options controls a single batch run.
type Options struct {
	// Limit caps how many orgs are processed. Zero means all. The first
	// Limit orgs in input order are kept, so reruns over the same roster
	// select the same subset.
	Limit int
	// Label tags the run in reports and in the store.
	Label string
	// StoreRun persists run lifecycle and the final report when a store
	// is configured. Ignored when the pipeline has no store.
	StoreRun bool
}

// Pipeline wires the fetcher, the scoring engine, and the store into a
// batch orchestrator.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	fetcher  *fetcher.Fetcher
	engine   *scorer.Engine
	ai       *scorer.AIScorer
	costCalc *cost.Calculator
}

// New builds a Pipeline. store may be nil (no persistence) and ai may be
// nil (keyword-only scoring, zero cost attribution).
func New(cfg *config.Config, st store.Store, f *fetcher.Fetcher, engine *scorer.Engine, ai *scorer.AIScorer) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		fetcher:  f,
		engine:   engine,
		ai:       ai,
		costCalc: cost.NewCalculator(cost.DefaultRates()),
	}
}

// Evaluate fetches and scores a single org. Used by the score command and
// the HTTP evaluation endpoint, where batch bookkeeping is not wanted.
func (p *Pipeline) Evaluate(ctx context.Context, org model.Org) (*model.Evaluation, error) {
	var fetched model.FetchResult
	for res := range p.fetcher.FetchAll(ctx, []model.Org{org}) {
		fetched = res
	}
	return p.engine.Score(ctx, org, fetched)
}

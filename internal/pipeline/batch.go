package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/expoforge/scout-cli/internal/model"
)

// Run processes the roster end to end: fetch every org's website, score
// each one as its fetch resolves, and aggregate the evaluations into a
// BatchReport. Every selected org appears in the report exactly once, in
// input order, whether its fetch succeeded or not.
func (p *Pipeline) Run(ctx context.Context, orgs []model.Org, opts Options) (*model.BatchReport, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: invalid config")
	}
	if len(orgs) == 0 {
		return nil, eris.New("pipeline: no orgs to process")
	}
	if opts.Limit > 0 && opts.Limit < len(orgs) {
		orgs = orgs[:opts.Limit]
	}

	log := zap.L().With(zap.String("label", opts.Label))
	start := time.Now()

	runID := uuid.New().String()
	persist := p.store != nil && opts.StoreRun
	if persist {
		run, err := p.store.CreateRun(ctx, opts.Label)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
	}

	// Status updates and the final report must land even when ctx is
	// already cancelled, so persistence uses a detached context.
	setStatus := func(status model.RunStatus) {
		if !persist {
			return
		}
		if err := p.store.UpdateRunStatus(context.WithoutCancel(ctx), runID, status); err != nil {
			log.Warn("run status update failed",
				zap.String("run_id", runID),
				zap.String("status", string(status)),
				zap.Error(err),
			)
		}
	}
	setStatus(model.RunStatusRunning)

	log.Info("batch run started",
		zap.String("run_id", runID),
		zap.Int("orgs", len(orgs)),
	)

	byID := make(map[string]model.Org, len(orgs))
	for _, org := range orgs {
		byID[org.ID] = org
	}

	var (
		mu    sync.Mutex
		evals = make(map[string]model.Evaluation, len(orgs))
	)

	// Scoring is bounded separately from fetching. When every scoring
	// slot is busy, g.Go blocks here, which stops draining the fetch
	// stream and backpressures the fetcher.
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Score.MaxConcurrent)

	for res := range p.fetcher.FetchAll(ctx, orgs) {
		g.Go(func() error {
			org, ok := byID[res.OrgID]
			if !ok {
				return eris.Errorf("pipeline: fetch result for unknown org %s", res.OrgID)
			}
			eval, err := p.engine.Score(ctx, org, res)
			if err != nil {
				return eris.Wrapf(err, "pipeline: score org %s", res.OrgID)
			}
			mu.Lock()
			evals[res.OrgID] = *eval
			mu.Unlock()
			return nil
		})
	}

	// The fallback scorer is total, so a scoring error means both paths
	// failed. That is a wiring bug, not a per-org condition: fail the run.
	if err := g.Wait(); err != nil {
		setStatus(model.RunStatusFailed)
		return nil, err
	}

	var costUSD float64
	if p.ai != nil {
		usage := p.ai.Usage()
		usage.LogCost(p.cfg.Anthropic.Model, "score")
		costUSD = p.costCalc.Claude(p.cfg.Anthropic.Model,
			int(usage.InputTokens), int(usage.OutputTokens),
			int(usage.CacheCreationInputTokens), int(usage.CacheReadInputTokens),
		)
	}

	report, err := p.buildReport(runID, opts.Label, orgs, evals, costUSD, time.Since(start))
	if err != nil {
		setStatus(model.RunStatusFailed)
		return nil, err
	}

	status := model.RunStatusComplete
	if ctx.Err() != nil {
		status = model.RunStatusCancelled
	}
	if persist {
		if err := p.store.SaveReport(context.WithoutCancel(ctx), runID, status, report); err != nil {
			log.Warn("report save failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}

	log.Info("batch run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed_fetch", report.FailedFetch),
		zap.Int("cache_hits", report.CacheHits),
		zap.Int("ai_used", report.AIUsed),
		zap.Int("fallback_used", report.FallbackUsed),
		zap.Float64("cost_usd", report.CostUSD),
		zap.Duration("elapsed", time.Since(start)),
	)

	return report, nil
}

// buildReport reassembles the evaluations in input order and derives every
// aggregate from the evaluation list itself, so the consistency check in
// Validate can never disagree with the counts.
func (p *Pipeline) buildReport(runID, label string, orgs []model.Org, evals map[string]model.Evaluation, costUSD float64, elapsed time.Duration) (*model.BatchReport, error) {
	report := &model.BatchReport{
		RunID:           runID,
		Label:           label,
		Evaluations:     make([]model.Evaluation, 0, len(orgs)),
		Attempted:       len(orgs),
		TagDistribution: make(map[string]int),
		CostUSD:         costUSD,
		ElapsedMs:       elapsed.Milliseconds(),
		GeneratedAt:     time.Now().UTC(),
	}

	for _, org := range orgs {
		eval, ok := evals[org.ID]
		if !ok {
			return nil, eris.Errorf("pipeline: org %s has no evaluation", org.ID)
		}
		report.Evaluations = append(report.Evaluations, eval)

		switch eval.Fetch.Status {
		case model.FetchStatusSuccess, model.FetchStatusCached:
			report.Succeeded++
		default:
			report.FailedFetch++
		}
		if eval.Fetch.Origin == model.OriginCache {
			report.CacheHits++
		} else {
			report.CacheMisses++
		}
		if eval.Source == model.SourceAI {
			report.AIUsed++
		} else {
			report.FallbackUsed++
		}
		for _, tag := range eval.Tags {
			report.TagDistribution[tag]++
		}
	}

	if report.Attempted > 0 {
		report.SuccessRate = float64(report.Succeeded) / float64(report.Attempted)
		report.CacheHitRate = float64(report.CacheHits) / float64(report.Attempted)
	}

	if err := report.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: inconsistent report")
	}
	return report, nil
}

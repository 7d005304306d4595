package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/expoforge/scout-cli/internal/cache"
	"github.com/expoforge/scout-cli/internal/fetcher"
	"github.com/expoforge/scout-cli/internal/pipeline"
	"github.com/expoforge/scout-cli/internal/resilience"
	"github.com/expoforge/scout-cli/internal/scorer"
	"github.com/expoforge/scout-cli/internal/store"
	"github.com/expoforge/scout-cli/pkg/claude"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "scout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv holds the initialized store, cache, fetcher, and scoring
// engine needed by the analyze/score/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	AI       *scorer.AIScorer // nil when AI scoring is disabled
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// pipelineOpts adjusts initPipeline per command.
type pipelineOpts struct {
	// Offline skips the AI scorer even when credentials are present.
	Offline bool
	// NoCache swaps the persistent content cache for a per-run in-memory
	// one, so fetched pages are deduplicated within the run but never
	// reused across runs.
	NoCache bool
	// NoStore skips opening the database; runs are not persisted.
	NoStore bool
}

// initPipeline sets up the store, content cache, fetcher, and scoring
// engine, then builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, opts pipelineOpts) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var st store.Store
	if !opts.NoStore {
		var err error
		st, err = initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	retry := resilience.FromRetryConfig(0,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)

	var backend cache.Backend
	if cfg.Cache.Enabled && !opts.NoCache && st != nil {
		backend = st
	} else {
		backend = cache.NewMemory()
	}
	contentCache := cache.New(backend)

	f := fetcher.New(contentCache, fetcher.Options{
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
		Timeout:         cfg.Fetch.Timeout,
		MaxRetries:      cfg.Fetch.MaxRetries,
		MaxContentBytes: cfg.Fetch.MaxContentBytes,
		MaxContentChars: cfg.Fetch.MaxContentChars,
		DrainTimeout:    cfg.Fetch.DrainTimeout,
		UserAgent:       cfg.Fetch.UserAgent,
		PerHostRPS:      cfg.Fetch.PerHostRPS,
		Retry:           retry,
	})

	rules, err := scorer.ResolveRules(cfg.Score.RulesPath)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, eris.Wrap(err, "load scoring rules")
	}
	keyword := scorer.NewKeywordScorer(rules, cfg.Score)

	var ai *scorer.AIScorer
	var primary scorer.Scorer
	if cfg.Anthropic.Enabled() && !opts.Offline {
		breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
			cfg.Circuit.FailureThreshold,
			cfg.Circuit.ResetTimeoutSecs,
		))
		ai = scorer.NewAIScorer(claude.NewClient(cfg.Anthropic.Key), scorer.AIOptions{
			Model:                  cfg.Anthropic.Model,
			MaxTokens:              int64(cfg.Anthropic.MaxTokens),
			MaxConcurrent:          int64(cfg.Score.AIMaxConcurrent),
			PromptContentChars:     cfg.Score.PromptContentChars,
			PromptDescriptionChars: cfg.Score.PromptDescriptionChars,
			Retry:                  retry,
			Breaker:                breakers.Get("anthropic"),
		})
		primary = ai
		zap.L().Info("ai scoring enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Info("ai scoring disabled, keyword rubric only")
	}

	engine := scorer.NewEngine(primary, keyword)
	p := pipeline.New(cfg, st, f, engine, ai)

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
		AI:       ai,
	}, nil
}

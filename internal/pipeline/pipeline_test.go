package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expoforge/scout-cli/internal/cache"
	"github.com/expoforge/scout-cli/internal/config"
	"github.com/expoforge/scout-cli/internal/fetcher"
	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/resilience"
	"github.com/expoforge/scout-cli/internal/scorer"
	"github.com/expoforge/scout-cli/internal/store"
	"github.com/expoforge/scout-cli/pkg/claude"
)

const pageBody = `<html><body>Plateforme OCR de numérisation et scan de documents</body></html>`

func testPipelineConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-3-haiku-20240307", MaxTokens: 500},
		Fetch: config.FetchConfig{
			MaxConcurrent:   4,
			Timeout:         2 * time.Second,
			MaxContentBytes: 1 << 20,
			MaxContentChars: 3000,
		},
		Score: config.ScoreConfig{
			Multiplier:      2.5,
			MaxConcurrent:   4,
			AIMaxConcurrent: 4,
		},
		Store: config.StoreConfig{Driver: "sqlite"},
	}
}

func contentServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &served
}

func servePage(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, pageBody)
}

func roster(baseURL string, n int) []model.Org {
	orgs := make([]model.Org, 0, n)
	for i := 0; i < n; i++ {
		orgs = append(orgs, model.Org{
			ID:      fmt.Sprintf("org-%03d", i),
			Name:    fmt.Sprintf("Exposant %d", i),
			Website: fmt.Sprintf("%s/site-%d", baseURL, i),
		})
	}
	return orgs
}

// newKeywordPipeline wires a pipeline with an in-memory cache and the
// keyword scorer only. The memory backend is returned so tests can check
// what got cached.
func newKeywordPipeline(cfg *config.Config, st store.Store, fetchConcurrency int) (*Pipeline, *cache.Memory) {
	mem := cache.NewMemory()
	f := fetcher.New(cache.New(mem), fetcher.Options{
		MaxConcurrent: fetchConcurrency,
		Timeout:       2 * time.Second,
		PerHostRPS:    1000,
	})
	ks := scorer.NewKeywordScorer(scorer.DefaultRules(), cfg.Score)
	return New(cfg, st, f, scorer.NewEngine(nil, ks), nil), mem
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "scout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

type stubClient struct {
	calls atomic.Int32
	resp  *claude.MessageResponse
	err   error
}

func (c *stubClient) CreateMessage(_ context.Context, _ claude.MessageRequest) (*claude.MessageResponse, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

type flakyStore struct {
	store.Store
	createErr error
	writeErr  error
}

func (s *flakyStore) CreateRun(ctx context.Context, label string) (*model.Run, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.Store.CreateRun(ctx, label)
}

func (s *flakyStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.Store.UpdateRunStatus(ctx, runID, status)
}

func (s *flakyStore) SaveReport(ctx context.Context, runID string, status model.RunStatus, report *model.BatchReport) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.Store.SaveReport(ctx, runID, status, report)
}

// --- Run ---

func TestRun_KeywordOnly(t *testing.T) {
	srv, served := contentServer(t, servePage)
	p, _ := newKeywordPipeline(testPipelineConfig(), nil, 4)
	orgs := roster(srv.URL, 4)

	report, err := p.Run(context.Background(), orgs, Options{Label: "salon-2026", StoreRun: true})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "salon-2026", report.Label)
	assert.Equal(t, 4, report.Attempted)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 0, report.FailedFetch)
	assert.Equal(t, 0, report.CacheHits)
	assert.Equal(t, 4, report.CacheMisses)
	assert.Equal(t, 0, report.AIUsed)
	assert.Equal(t, 4, report.FallbackUsed)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.Equal(t, 0.0, report.CacheHitRate)
	assert.Equal(t, 0.0, report.CostUSD)
	assert.False(t, report.GeneratedAt.IsZero())
	assert.Equal(t, int32(4), served.Load())

	require.Len(t, report.Evaluations, 4)
	for i, eval := range report.Evaluations {
		assert.Equal(t, fmt.Sprintf("org-%03d", i), eval.Org.ID)
		assert.Equal(t, model.SourceKeyword, eval.Source)
		assert.Equal(t, model.FetchStatusSuccess, eval.Fetch.Status)
		assert.Greater(t, eval.Total, 0.0)
	}
}

func TestRun_PreservesInputOrder(t *testing.T) {
	// The first org is the slowest, so it finishes last; the report must
	// still lead with it.
	srv, _ := contentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/site-0" {
			time.Sleep(80 * time.Millisecond)
		}
		fmt.Fprint(w, pageBody)
	})
	p, _ := newKeywordPipeline(testPipelineConfig(), nil, 4)
	orgs := roster(srv.URL, 4)

	report, err := p.Run(context.Background(), orgs, Options{})
	require.NoError(t, err)

	require.Len(t, report.Evaluations, 4)
	for i, eval := range report.Evaluations {
		assert.Equal(t, orgs[i].ID, eval.Org.ID)
	}
}

func TestRun_AppliesLimit(t *testing.T) {
	srv, served := contentServer(t, servePage)
	p, _ := newKeywordPipeline(testPipelineConfig(), nil, 4)
	orgs := roster(srv.URL, 5)

	report, err := p.Run(context.Background(), orgs, Options{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, int32(2), served.Load())
	require.Len(t, report.Evaluations, 2)
	assert.Equal(t, "org-000", report.Evaluations[0].Org.ID)
	assert.Equal(t, "org-001", report.Evaluations[1].Org.ID)
}

func TestRun_SharedWebsiteCountsCacheHit(t *testing.T) {
	srv, served := contentServer(t, servePage)
	p, _ := newKeywordPipeline(testPipelineConfig(), nil, 4)

	orgs := roster(srv.URL, 3)
	orgs[2].Website = orgs[0].Website

	report, err := p.Run(context.Background(), orgs, Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), served.Load())
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.CacheHits)
	assert.Equal(t, 2, report.CacheMisses)

	// Same page text, same score.
	assert.Equal(t, report.Evaluations[0].Total, report.Evaluations[2].Total)
}

func TestRun_FailedFetchStillScored(t *testing.T) {
	srv, _ := contentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/site-1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, pageBody)
	})
	p, _ := newKeywordPipeline(testPipelineConfig(), nil, 4)

	orgs := roster(srv.URL, 3)
	orgs[1].Description = "Solution OCR pour la numérisation de factures"

	report, err := p.Run(context.Background(), orgs, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.FailedFetch)

	failed := report.Evaluations[1]
	assert.Equal(t, model.FetchStatusFailed, failed.Fetch.Status)
	assert.Equal(t, model.ReasonPermanent, failed.Fetch.Reason)
	assert.Equal(t, model.SourceKeyword, failed.Source)
	assert.Greater(t, failed.Total, 0.0, "description keywords still score")
}

func TestRun_AIScoresEveryOrg(t *testing.T) {
	srv, _ := contentServer(t, servePage)
	cfg := testPipelineConfig()

	client := &stubClient{resp: &claude.MessageResponse{
		Content: []claude.ContentBlock{{Type: "text", Text: `{
			"scores": {"numerisation": 20, "extraction": 15, "certification": 10, "mise_disposition": 5},
			"total_score": 50,
			"tags": [],
			"justification": "Forte composante documentaire",
			"keywords_found": ["ocr"],
			"confidence": 0.8
		}`}},
		Usage: claude.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}}
	ai := scorer.NewAIScorer(client, scorer.AIOptions{
		Model: cfg.Anthropic.Model,
		Retry: resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	})
	ks := scorer.NewKeywordScorer(scorer.DefaultRules(), cfg.Score)
	f := fetcher.New(cache.New(cache.NewMemory()), fetcher.Options{
		MaxConcurrent: 4,
		Timeout:       2 * time.Second,
		PerHostRPS:    1000,
	})
	p := New(cfg, nil, f, scorer.NewEngine(ai, ks), ai)

	report, err := p.Run(context.Background(), roster(srv.URL, 3), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.AIUsed)
	assert.Equal(t, 0, report.FallbackUsed)
	assert.Equal(t, int32(3), client.calls.Load())
	for _, eval := range report.Evaluations {
		assert.Equal(t, model.SourceAI, eval.Source)
		assert.Equal(t, 50.0, eval.Total)
	}

	// 3 calls x (100 in + 50 out) at haiku rates.
	assert.InDelta(t, 0.0002625, report.CostUSD, 1e-12)
}

func TestRun_AIAuthFailureFallsBack(t *testing.T) {
	srv, _ := contentServer(t, servePage)
	cfg := testPipelineConfig()

	client := &stubClient{err: eris.New("authentication error: invalid x-api-key")}
	ai := scorer.NewAIScorer(client, scorer.AIOptions{
		Model: cfg.Anthropic.Model,
		Retry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	})
	ks := scorer.NewKeywordScorer(scorer.DefaultRules(), cfg.Score)
	f := fetcher.New(cache.New(cache.NewMemory()), fetcher.Options{
		MaxConcurrent: 4,
		Timeout:       2 * time.Second,
		PerHostRPS:    1000,
	})
	p := New(cfg, nil, f, scorer.NewEngine(ai, ks), ai)

	report, err := p.Run(context.Background(), roster(srv.URL, 4), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.AIUsed)
	assert.Equal(t, 4, report.FallbackUsed)
	// Auth failures are not transient: one call per org, no retries.
	assert.Equal(t, int32(4), client.calls.Load())
	for _, eval := range report.Evaluations {
		assert.Equal(t, model.SourceKeyword, eval.Source)
	}
}

func TestRun_CancelMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Serialize fetches and cancel while the third is in flight. The third
	// attempt drains to completion; everything after it never dispatches.
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 3 {
			cancel()
		}
		fmt.Fprint(w, pageBody)
	}))
	t.Cleanup(srv.Close)

	st := newTestStore(t)
	p, mem := newKeywordPipeline(testPipelineConfig(), st, 1)
	orgs := roster(srv.URL, 6)

	report, err := p.Run(ctx, orgs, Options{Label: "salon-2026", StoreRun: true})
	require.NoError(t, err)

	// Every selected org is accounted for, in input order.
	require.Len(t, report.Evaluations, 6)
	for i, eval := range report.Evaluations {
		assert.Equal(t, orgs[i].ID, eval.Org.ID)
	}

	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 3, report.FailedFetch)
	assert.Equal(t, 6, report.CacheMisses)
	assert.Equal(t, 6, report.FallbackUsed)
	for _, eval := range report.Evaluations[3:] {
		assert.Equal(t, model.FetchStatusCancelled, eval.Fetch.Status)
	}

	// Only completed fetches got cached.
	assert.Equal(t, 3, mem.Len())

	run, err := st.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, 6, run.Report.Attempted)
}

func TestRun_PersistsLifecycle(t *testing.T) {
	srv, _ := contentServer(t, servePage)
	st := newTestStore(t)
	p, _ := newKeywordPipeline(testPipelineConfig(), st, 4)

	report, err := p.Run(context.Background(), roster(srv.URL, 3), Options{Label: "salon-2026", StoreRun: true})
	require.NoError(t, err)

	run, err := st.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "salon-2026", run.Label)
	require.NotNil(t, run.Report)
	assert.Equal(t, 3, run.Report.Attempted)
	assert.Len(t, run.Report.Evaluations, 3)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Label: "salon-2026"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRun_StoreWriteFailuresDoNotFailRun(t *testing.T) {
	srv, _ := contentServer(t, servePage)
	st := &flakyStore{Store: newTestStore(t), writeErr: eris.New("disk full")}
	p, _ := newKeywordPipeline(testPipelineConfig(), st, 4)

	report, err := p.Run(context.Background(), roster(srv.URL, 2), Options{StoreRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
}

func TestRun_CreateRunFailureIsFatal(t *testing.T) {
	srv, served := contentServer(t, servePage)
	st := &flakyStore{Store: newTestStore(t), createErr: eris.New("db locked")}
	p, _ := newKeywordPipeline(testPipelineConfig(), st, 4)

	_, err := p.Run(context.Background(), roster(srv.URL, 2), Options{StoreRun: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create run")
	assert.Equal(t, int32(0), served.Load())
}

func TestRun_EmptyRoster(t *testing.T) {
	p, _ := newKeywordPipeline(testPipelineConfig(), nil, 4)

	_, err := p.Run(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no orgs")
}

func TestRun_InvalidConfigRejectedBeforeDispatch(t *testing.T) {
	srv, served := contentServer(t, servePage)
	cfg := testPipelineConfig()
	cfg.Score.MaxConcurrent = 0
	p, _ := newKeywordPipeline(cfg, nil, 4)

	_, err := p.Run(context.Background(), roster(srv.URL, 2), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
	assert.Equal(t, int32(0), served.Load())
}

func TestEvaluate_SingleOrg(t *testing.T) {
	srv, served := contentServer(t, servePage)
	p, _ := newKeywordPipeline(testPipelineConfig(), nil, 4)

	eval, err := p.Evaluate(context.Background(), model.Org{
		ID:      "org-001",
		Name:    "Acme Numérisation",
		Website: srv.URL,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), served.Load())
	assert.Equal(t, "org-001", eval.Org.ID)
	assert.Equal(t, model.SourceKeyword, eval.Source)
	assert.Equal(t, model.FetchStatusSuccess, eval.Fetch.Status)
	assert.Greater(t, eval.Total, 0.0)
}

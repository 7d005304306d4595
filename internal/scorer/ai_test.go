package scorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/resilience"
	"github.com/expoforge/scout-cli/pkg/claude"
)

type fakeClient struct {
	mu    sync.Mutex
	calls atomic.Int32
	reqs  []claude.MessageRequest

	// fn takes precedence; otherwise resp/err are returned as-is.
	fn   func(call int, req claude.MessageRequest) (*claude.MessageResponse, error)
	resp *claude.MessageResponse
	err  error
}

func (f *fakeClient) CreateMessage(_ context.Context, req claude.MessageRequest) (*claude.MessageResponse, error) {
	call := int(f.calls.Add(1))
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(call, req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// apiError builds an SDK error with the request and response populated so
// Error() does not dereference nil when the message gets rendered.
func apiError(status int) *sdk.Error {
	req := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	resp := &http.Response{StatusCode: status, Request: req}
	return &sdk.Error{StatusCode: status, Request: req, Response: resp}
}

func textResponse(body string) *claude.MessageResponse {
	return &claude.MessageResponse{
		Content: []claude.ContentBlock{{Type: "text", Text: body}},
		Usage:   claude.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

const validScoreJSON = `{
	"scores": {"numerisation": 20, "extraction": 15, "certification": 10, "mise_disposition": 5},
	"total_score": 50,
	"tags": ["Game Changer"],
	"justification": "Forte composante documentaire",
	"keywords_found": ["ocr", "workflow"],
	"confidence": 0.8
}`

// --- Score ---

func TestAIScorer_ScoresFromResponse(t *testing.T) {
	client := &fakeClient{resp: textResponse(validScoreJSON)}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	org := testOrg("org-1")
	org.Sector = "GED"

	eval, err := ai.Score(context.Background(), org, successFetch("contenu"))
	require.NoError(t, err)

	assert.Equal(t, model.SourceAI, eval.Source)
	assert.Equal(t, 20.0, eval.Scores[model.CriterionNumerisation])
	assert.Equal(t, 15.0, eval.Scores[model.CriterionExtraction])
	assert.Equal(t, 10.0, eval.Scores[model.CriterionCertification])
	assert.Equal(t, 5.0, eval.Scores[model.CriterionMiseDisposition])
	assert.Equal(t, 50.0, eval.Total)
	assert.Equal(t, []string{"Game Changer"}, eval.Tags)
	assert.Equal(t, "Forte composante documentaire", eval.Justification)
	assert.Equal(t, []string{"ocr", "workflow"}, eval.KeywordsFound)
	assert.Equal(t, 0.8, eval.Confidence)
	assert.Equal(t, "org-1", eval.Org.ID)
	assert.Equal(t, "ai", ai.Name())
	assert.False(t, eval.EvaluatedAt.IsZero())
}

func TestAIScorer_StripsCodeFences(t *testing.T) {
	client := &fakeClient{resp: textResponse("```json\n" + validScoreJSON + "\n```")}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	eval, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.NoError(t, err)
	assert.Equal(t, 50.0, eval.Total)
}

func TestAIScorer_ClampsScores(t *testing.T) {
	body := `{
		"scores": {"numerisation": 40, "extraction": -5, "certification": 10, "mise_disposition": 5},
		"confidence": 1.7,
		"justification": "hors bornes"
	}`
	client := &fakeClient{resp: textResponse(body)}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	eval, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.NoError(t, err)

	assert.Equal(t, 25.0, eval.Scores[model.CriterionNumerisation])
	assert.Equal(t, 0.0, eval.Scores[model.CriterionExtraction])
	assert.Equal(t, 10.0, eval.Scores[model.CriterionCertification])
	assert.Equal(t, 5.0, eval.Scores[model.CriterionMiseDisposition])
	assert.Equal(t, 40.0, eval.Total)
	assert.Equal(t, 1.0, eval.Confidence)
}

func TestAIScorer_MissingCriterionZeroed(t *testing.T) {
	client := &fakeClient{resp: textResponse(`{"scores": {"extraction": 12}, "justification": "partiel"}`)}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	eval, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.NoError(t, err)

	assert.Equal(t, 12.0, eval.Scores[model.CriterionExtraction])
	assert.Equal(t, 0.0, eval.Scores[model.CriterionNumerisation])
	assert.Equal(t, 12.0, eval.Total)
	assert.NotNil(t, eval.Tags)
	assert.Empty(t, eval.Tags)
}

func TestAIScorer_MalformedResponseErrors(t *testing.T) {
	client := &fakeClient{resp: textResponse("pas du json")}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse model response")
	// A bad reply is not a transport failure, so no retry happens.
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestAIScorer_EmptyResponseErrors(t *testing.T) {
	client := &fakeClient{resp: textResponse("")}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty model response")
}

func TestAIScorer_RetriesRateLimitThenSucceeds(t *testing.T) {
	client := &fakeClient{
		fn: func(call int, _ claude.MessageRequest) (*claude.MessageResponse, error) {
			if call == 1 {
				return nil, apiError(429)
			}
			return textResponse(validScoreJSON), nil
		},
	}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	eval, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.NoError(t, err)
	assert.Equal(t, 50.0, eval.Total)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestAIScorer_RetriesExhausted(t *testing.T) {
	client := &fakeClient{err: apiError(429)}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.Error(t, err)
	assert.Equal(t, int32(3), client.calls.Load())
}

func TestAIScorer_AuthErrorNotRetried(t *testing.T) {
	client := &fakeClient{err: apiError(401)}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.Error(t, err)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestAIScorer_BreakerOpensAndFailsFast(t *testing.T) {
	client := &fakeClient{err: apiError(500)}
	retry := fastRetry()
	retry.MaxAttempts = 1
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	ai := NewAIScorer(client, AIOptions{Retry: retry, Breaker: breaker})

	for i := 0; i < 2; i++ {
		_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, breaker.State())

	_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestAIScorer_ConcurrencyBudget(t *testing.T) {
	var current, peak atomic.Int32
	client := &fakeClient{
		fn: func(_ int, _ claude.MessageRequest) (*claude.MessageResponse, error) {
			cur := current.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return textResponse(validScoreJSON), nil
		},
	}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry(), MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(6), client.calls.Load())
}

func TestAIScorer_UsageAccumulates(t *testing.T) {
	client := &fakeClient{resp: textResponse(validScoreJSON)}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	for i := 0; i < 3; i++ {
		_, err := ai.Score(context.Background(), testOrg("org-1"), successFetch("contenu"))
		require.NoError(t, err)
	}

	usage := ai.Usage()
	assert.Equal(t, int64(300), usage.InputTokens)
	assert.Equal(t, int64(150), usage.OutputTokens)
}

func TestAIScorer_BuildsCachedPrompt(t *testing.T) {
	client := &fakeClient{resp: textResponse(validScoreJSON)}
	ai := NewAIScorer(client, AIOptions{
		Retry:                  fastRetry(),
		PromptContentChars:     10,
		PromptDescriptionChars: 4,
	})

	org := model.Org{
		ID:          "org-1",
		Name:        "Acme Scan",
		Sector:      "GED",
		Description: "Plateforme de gestion documentaire",
	}

	_, err := ai.Score(context.Background(), org, successFetch("numérisation et archivage"))
	require.NoError(t, err)

	require.Len(t, client.reqs, 1)
	req := client.reqs[0]

	assert.Equal(t, "claude-3-haiku-20240307", req.Model)
	assert.Equal(t, int64(500), req.MaxTokens)

	require.Len(t, req.System, 1)
	assert.Equal(t, scoringSystemPrompt, req.System[0].Text)
	require.NotNil(t, req.System[0].CacheControl)
	assert.Equal(t, "5m", req.System[0].CacheControl.TTL)

	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	user := req.Messages[0].Content
	assert.Contains(t, user, "Organisation: Acme Scan")
	assert.Contains(t, user, "Secteur: GED")
	assert.Contains(t, user, "Description: Plat\n")
	assert.NotContains(t, user, "Plateforme")
	assert.Contains(t, user, "numérisati")
	assert.NotContains(t, user, "numérisation")
}

func TestAIScorer_CancelledBeforeDispatch(t *testing.T) {
	client := &fakeClient{resp: textResponse(validScoreJSON)}
	ai := NewAIScorer(client, AIOptions{Retry: fastRetry()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ai.Score(ctx, testOrg("org-1"), successFetch("contenu"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire model slot")
	assert.Equal(t, int32(0), client.calls.Load())
}

// --- parsing ---

func TestCleanJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", "Voici le résultat:\n{\"a\":1}\nMerci", `{"a":1}`},
		{"no object", "pas de json ici", "pas de json ici"},
		{"blank", "   ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanJSON(tc.in))
		})
	}
}

func TestParseScoreResponse_TotalRecomputed(t *testing.T) {
	parsed, err := parseScoreResponse(`{"scores": {"numerisation": 20}, "total_score": 73}`)
	require.NoError(t, err)
	assert.Equal(t, 20.0, parsed.TotalScore)
}

func TestParseScoreResponse_ConfidenceClamped(t *testing.T) {
	parsed, err := parseScoreResponse(`{"scores": {}, "confidence": -0.4}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, parsed.Confidence)
}

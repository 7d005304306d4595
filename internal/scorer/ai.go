package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"

	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/resilience"
	"github.com/expoforge/scout-cli/pkg/claude"
)

// scoringSystemPrompt is the grading rubric shared by every call in a run.
// Static so the API serves it from prompt cache after the first call.
const scoringSystemPrompt = `Vous êtes un analyste qui évalue la pertinence d'exposants pour un salon professionnel de la gestion documentaire.

Évaluez chaque organisation selon quatre critères (0 à 25 points chacun):
1. Numérisation de documents (scan, OCR, digitalisation)
2. Extraction de données (data mining, analytics, NLP)
3. Certification et confiance numérique (blockchain, sécurité, authentification)
4. Mise à disposition des données (dashboard, API, portail)

Tags possibles: Edge computing, RSE, Risque augmenté, Game Changer, Prospective

Répondez UNIQUEMENT en JSON valide:
{
  "scores": {"numerisation": 0, "extraction": 0, "certification": 0, "mise_disposition": 0},
  "total_score": 0,
  "tags": [],
  "justification": "...",
  "keywords_found": [],
  "confidence": 0.0
}`

// scoringUserPrompt carries the per-org material.
const scoringUserPrompt = `Organisation: %s
Secteur: %s
Description: %s

Contenu du site web:
%s`

// AIOptions configures an AIScorer.
type AIOptions struct {
	// Model is the Claude model ID requested for every call.
	Model string

	// MaxTokens bounds the response length.
	MaxTokens int64

	// MaxConcurrent caps in-flight API calls across all scoring workers.
	MaxConcurrent int64

	// PromptContentChars bounds the page content included in a prompt.
	PromptContentChars int

	// PromptDescriptionChars bounds the roster description included.
	PromptDescriptionChars int

	// Retry schedules reattempts after retryable API failures. ShouldRetry
	// is overwritten with the API classifier.
	Retry resilience.RetryConfig

	// Breaker fails calls fast once the API looks down. nil runs every
	// call unprotected.
	Breaker *resilience.CircuitBreaker
}

func (o AIOptions) withDefaults() AIOptions {
	if o.Model == "" {
		o.Model = "claude-3-haiku-20240307"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 500
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
	if o.PromptContentChars <= 0 {
		o.PromptContentChars = 2000
	}
	if o.PromptDescriptionChars <= 0 {
		o.PromptDescriptionChars = 500
	}
	return o
}

// AIScorer grades orgs with Claude. Calls share a concurrency budget, a
// retry schedule for retryable API failures, and optionally a circuit
// breaker that fails fast once the API looks down.
type AIScorer struct {
	client    claude.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	sem       *semaphore.Weighted

	promptContentChars     int
	promptDescriptionChars int

	mu    sync.Mutex
	usage claude.TokenUsage
}

// NewAIScorer creates an AIScorer talking through the given client.
func NewAIScorer(client claude.Client, opts AIOptions) *AIScorer {
	opts = opts.withDefaults()

	retry := opts.Retry
	retry.ShouldRetry = isRetryableAPIError
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("anthropic", "score")
	}

	return &AIScorer{
		client:                 client,
		model:                  opts.Model,
		maxTokens:              opts.MaxTokens,
		retry:                  retry,
		breaker:                opts.Breaker,
		sem:                    semaphore.NewWeighted(opts.MaxConcurrent),
		promptContentChars:     opts.PromptContentChars,
		promptDescriptionChars: opts.PromptDescriptionChars,
	}
}

// isRetryableAPIError keeps retries for rate limits, server errors, and
// network transients. Auth and validation failures, and an open breaker,
// fail over to the keyword path immediately.
func isRetryableAPIError(err error) bool {
	return claude.IsRetryable(err) || resilience.IsTransient(err)
}

// Name identifies this scorer in logs.
func (s *AIScorer) Name() string { return "ai" }

// Score grades one org through the model. A returned error means the org
// got no AI evaluation at all; the engine then takes the keyword path.
func (s *AIScorer) Score(ctx context.Context, org model.Org, fetched model.FetchResult) (*model.Evaluation, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "score: acquire model slot")
	}
	defer s.sem.Release(1)

	req := s.buildRequest(org, fetched)

	resp, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*claude.MessageResponse, error) {
		return s.createMessage(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.recordUsage(resp.Usage)

	parsed, err := parseScoreResponse(responseText(resp))
	if err != nil {
		return nil, err
	}

	return &model.Evaluation{
		Org:           org,
		Scores:        parsed.Scores,
		Total:         parsed.TotalScore,
		Tags:          parsed.Tags,
		Source:        model.SourceAI,
		Confidence:    parsed.Confidence,
		Justification: parsed.Justification,
		KeywordsFound: parsed.KeywordsFound,
		Fetch:         fetched.Summary(),
		EvaluatedAt:   time.Now().UTC(),
	}, nil
}

func (s *AIScorer) createMessage(ctx context.Context, req claude.MessageRequest) (*claude.MessageResponse, error) {
	if s.breaker == nil {
		return s.client.CreateMessage(ctx, req)
	}
	return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*claude.MessageResponse, error) {
		return s.client.CreateMessage(ctx, req)
	})
}

func (s *AIScorer) buildRequest(org model.Org, fetched model.FetchResult) claude.MessageRequest {
	user := fmt.Sprintf(scoringUserPrompt,
		org.DisplayName(),
		org.Sector,
		truncateRunes(org.Description, s.promptDescriptionChars),
		truncateRunes(fetched.Content, s.promptContentChars),
	)

	return claude.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    claude.BuildCachedSystemBlocks(scoringSystemPrompt),
		Messages:  []claude.Message{{Role: "user", Content: user}},
	}
}

func (s *AIScorer) recordUsage(u claude.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Add(u)
}

// Usage returns the token usage accumulated across all calls so far.
func (s *AIScorer) Usage() claude.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// scoreResponse mirrors the JSON contract in scoringSystemPrompt.
type scoreResponse struct {
	Scores        map[string]float64 `json:"scores"`
	TotalScore    float64            `json:"total_score"`
	Tags          []string           `json:"tags"`
	Justification string             `json:"justification"`
	KeywordsFound []string           `json:"keywords_found"`
	Confidence    float64            `json:"confidence"`
}

// parseScoreResponse decodes and normalizes a model reply: code fences
// stripped, missing criteria zeroed, scores clamped to [0,25], the total
// recomputed from the clamped scores rather than trusted.
func parseScoreResponse(text string) (*scoreResponse, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("score: empty model response")
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, eris.Wrap(err, "score: parse model response")
	}

	scores := make(map[string]float64, len(model.CriterionNames()))
	var total float64
	for _, criterion := range model.CriterionNames() {
		v := clamp(resp.Scores[criterion], 0, model.MaxCriterionScore)
		scores[criterion] = v
		total += v
	}
	resp.Scores = scores
	resp.TotalScore = total
	resp.Confidence = clamp(resp.Confidence, 0, 1)
	if resp.Tags == nil {
		resp.Tags = []string{}
	}

	return &resp, nil
}

// cleanJSON strips markdown code fences and surrounding prose from a model
// reply, leaving the outermost JSON object.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// responseText joins the text blocks of a model response.
func responseText(resp *claude.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// truncateRunes caps s at n runes. Non-positive n leaves s unchanged.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

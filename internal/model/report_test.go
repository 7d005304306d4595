package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalFor(id string, total float64) Evaluation {
	return Evaluation{
		Org:    Org{ID: id, Name: "Org " + id},
		Scores: map[string]float64{CriterionNumerisation: total},
		Total:  total,
		Source: SourceKeyword,
		Fetch:  FetchSummary{Status: FetchStatusSuccess, Origin: OriginNetwork},
	}
}

func consistentReport() *BatchReport {
	return &BatchReport{
		RunID:        "run-1",
		Evaluations:  []Evaluation{evalFor("1", 10), evalFor("2", 30), evalFor("3", 30)},
		Attempted:    3,
		Succeeded:    3,
		FailedFetch:  0,
		CacheHits:    1,
		CacheMisses:  2,
		AIUsed:       0,
		FallbackUsed: 3,
	}
}

func TestBatchReportValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, consistentReport().Validate())

	tests := []struct {
		name   string
		mutate func(*BatchReport)
	}{
		{"attempted mismatch", func(r *BatchReport) { r.Attempted = 2 }},
		{"fetch counts mismatch", func(r *BatchReport) { r.Succeeded = 1 }},
		{"cache counts mismatch", func(r *BatchReport) { r.CacheHits = 3 }},
		{"scorer counts mismatch", func(r *BatchReport) { r.AIUsed = 1 }},
		{"duplicate org", func(r *BatchReport) { r.Evaluations[2] = r.Evaluations[0] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := consistentReport()
			tt.mutate(r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestBatchReportTopN(t *testing.T) {
	t.Parallel()

	r := consistentReport()
	top := r.TopN(2)

	require.Len(t, top, 2)
	// Equal totals keep input order, so org 2 precedes org 3.
	assert.Equal(t, "2", top[0].Org.ID)
	assert.Equal(t, "3", top[1].Org.ID)

	// Canonical order untouched.
	assert.Equal(t, "1", r.Evaluations[0].Org.ID)

	assert.Len(t, r.TopN(0), 3)
}

func TestEvaluationSumScores(t *testing.T) {
	t.Parallel()

	e := Evaluation{Scores: map[string]float64{
		CriterionNumerisation:    7.5,
		CriterionExtraction:      25,
		CriterionCertification:   0,
		CriterionMiseDisposition: 2.5,
	}}
	assert.InDelta(t, 35.0, e.SumScores(), 1e-9)
}

func TestFetchResultSummary(t *testing.T) {
	t.Parallel()

	r := FetchResult{
		OrgID:      "1",
		Content:    "hello",
		HTTPStatus: 200,
		Origin:     OriginCache,
		Status:     FetchStatusCached,
		Attempts:   1,
	}
	s := r.Summary()
	assert.Equal(t, FetchStatusCached, s.Status)
	assert.Equal(t, OriginCache, s.Origin)
	assert.Equal(t, 5, s.ContentChars)
	assert.True(t, r.OK())

	failed := FetchResult{Status: FetchStatusFailed, Reason: ReasonPermanent}
	assert.False(t, failed.OK())
}

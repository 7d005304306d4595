package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/expoforge/scout-cli/internal/config"
)

func newTagScorer(rules Rules, floor float64) *KeywordScorer {
	return NewKeywordScorer(rules, config.ScoreConfig{TagFloor: floor})
}

func TestAssignTags_SingleHitFires(t *testing.T) {
	ks := newTagScorer(DefaultRules(), 0)

	tags := ks.assignTags("une rupture par l'innovation", 0)
	assert.Equal(t, []string{"Game Changer"}, tags)
}

func TestAssignTags_RuleOrder(t *testing.T) {
	ks := newTagScorer(DefaultRules(), 0)

	tags := ks.assignTags("edge iot sustainability security innovation future roadmap", 0)
	assert.Equal(t, []string{"Edge computing", "RSE", "Risque augmenté", "Game Changer", "Prospective"}, tags)
}

func TestAssignTags_SubstringMatch(t *testing.T) {
	ks := newTagScorer(DefaultRules(), 0)

	// "ai" sits inside "maintain", which counts.
	tags := ks.assignTags("we maintain digital archives", 0)
	assert.Equal(t, []string{"Game Changer"}, tags)
}

func TestAssignTags_MinTotalFloor(t *testing.T) {
	rules := Rules{
		Keywords: DefaultRules().Keywords,
		Tags: []TagRule{
			{Tag: "Cloud natif", Keywords: []string{"kubernetes"}, MinTotal: 50},
		},
	}
	ks := newTagScorer(rules, 0)

	assert.Empty(t, ks.assignTags("kubernetes everywhere", 49.9))
	assert.Equal(t, []string{"Cloud natif"}, ks.assignTags("kubernetes everywhere", 50))
}

func TestAssignTags_EngineFloorApplies(t *testing.T) {
	ks := newTagScorer(DefaultRules(), 30)

	assert.Empty(t, ks.assignTags("innovation", 10))
	assert.Equal(t, []string{"Game Changer"}, ks.assignTags("innovation", 35))
}

func TestAssignTags_MinHits(t *testing.T) {
	rules := Rules{
		Keywords: DefaultRules().Keywords,
		Tags: []TagRule{
			{Tag: "Edge computing", Keywords: []string{"edge", "iot"}, MinHits: 2},
		},
	}
	ks := newTagScorer(rules, 0)

	assert.Empty(t, ks.assignTags("edge platform", 0))
	assert.Equal(t, []string{"Edge computing"}, ks.assignTags("edge iot platform", 0))
	assert.Equal(t, []string{"Edge computing"}, ks.assignTags("edge edge platform", 0))
}

func TestAssignTags_NoMatchesReturnsEmpty(t *testing.T) {
	ks := newTagScorer(DefaultRules(), 0)

	tags := ks.assignTags("boulangerie artisanale", 0)
	assert.NotNil(t, tags)
	assert.Empty(t, tags)
}

package scorer

import (
	"math"
	"strings"
)

// assignTags evaluates the ordered tag rules against the combined text.
// A rule fires when the text carries at least MinHits occurrences of its
// keywords and the total score clears both the rule's floor and the
// engine-wide floor. Tags come back in rule order.
func (ks *KeywordScorer) assignTags(combined string, total float64) []string {
	tags := []string{}
	for _, rule := range ks.rules.Tags {
		floor := math.Max(rule.MinTotal, ks.tagFloor)
		if total < floor {
			continue
		}

		minHits := rule.MinHits
		if minHits <= 0 {
			minHits = 1
		}

		hits := 0
		for _, kw := range rule.Keywords {
			hits += strings.Count(combined, strings.ToLower(kw))
			if hits >= minHits {
				break
			}
		}
		if hits >= minHits {
			tags = append(tags, rule.Tag)
		}
	}
	return tags
}

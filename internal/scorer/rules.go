package scorer

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/expoforge/scout-cli/internal/model"
)

// TagRule assigns a thematic tag when its keywords show up in the combined
// text. Zero-value thresholds mean any single hit tags, regardless of the
// total score.
type TagRule struct {
	Tag      string   `yaml:"tag"`
	Keywords []string `yaml:"keywords"`
	MinHits  int      `yaml:"min_hits,omitempty"`
	MinTotal float64  `yaml:"min_total,omitempty"`
}

// Rules holds the keyword sets behind the four criteria plus the ordered
// tag rules. Taken from DefaultRules or loaded over it from YAML. A rules
// file may also carry its own multiplier and tag floor; those beat the
// scoring config when set (TagFloor is a pointer so an explicit 0 in the
// file is distinguishable from absent).
type Rules struct {
	Multiplier float64             `yaml:"multiplier,omitempty"`
	TagFloor   *float64            `yaml:"tag_floor,omitempty"`
	Keywords   map[string][]string `yaml:"criteria"`
	Tags       []TagRule           `yaml:"tags"`
}

// DefaultRules returns the built-in keyword sets and tag rules.
func DefaultRules() Rules {
	return Rules{
		Keywords: map[string][]string{
			model.CriterionNumerisation: {
				"ocr", "document", "scan", "digitization", "digitisation",
				"pdf", "paper", "archive", "capture", "recognition",
			},
			model.CriterionExtraction: {
				"data extraction", "data mining", "analytics", "intelligence",
				"etl", "data processing", "information extraction", "nlp",
				"text mining",
			},
			model.CriterionCertification: {
				"certification", "trust", "blockchain", "security",
				"authentication", "verification", "compliance", "audit",
				"identity",
			},
			model.CriterionMiseDisposition: {
				"dashboard", "portal", "api", "collaboration", "sharing",
				"access", "interface", "platform", "workspace",
			},
		},
		Tags: []TagRule{
			{
				Tag:      "Edge computing",
				Keywords: []string{"edge", "fog", "distributed", "iot", "real-time", "latency"},
			},
			{
				Tag:      "RSE",
				Keywords: []string{"sustainability", "esg", "carbon", "environment", "social", "governance", "ethics", "responsible", "green"},
			},
			{
				Tag:      "Risque augmenté",
				Keywords: []string{"cybersecurity", "fraud", "monitoring", "risk", "security", "compliance", "regulation"},
			},
			{
				Tag:      "Game Changer",
				Keywords: []string{"disruption", "innovation", "breakthrough", "revolutionary", "transformation", "ai", "quantum"},
			},
			{
				Tag:      "Prospective",
				Keywords: []string{"future", "vision", "roadmap", "strategy", "long-term", "emerging", "next-gen"},
			},
		},
	}
}

// ResolveRules returns the rules for a run: the built-in defaults when no
// path is configured, otherwise the file loaded over them.
func ResolveRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	return LoadRules(path)
}

// LoadRules reads a YAML rules file over the built-in defaults. Criteria
// listed in the file replace the default keyword set for that criterion
// only; a tags section replaces the default tag rules wholesale; a
// multiplier or tag_floor in the file carries through to the scorer.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "scorer: read rules %s", path)
	}

	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Rules{}, eris.Wrapf(err, "scorer: parse rules %s", path)
	}

	rules.Multiplier = file.Multiplier
	rules.TagFloor = file.TagFloor
	for criterion, keywords := range file.Keywords {
		rules.Keywords[criterion] = keywords
	}
	if file.Tags != nil {
		rules.Tags = file.Tags
	}

	if err := ValidateRules(rules); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// ValidateRules checks that a rule set is one the scorers can act on.
func ValidateRules(r Rules) error {
	var errs []string

	if r.Multiplier < 0 {
		errs = append(errs, "multiplier must be >= 0")
	}
	if r.TagFloor != nil && (*r.TagFloor < 0 || *r.TagFloor > 100) {
		errs = append(errs, "tag_floor must be between 0 and 100")
	}

	canonical := make(map[string]bool, len(model.CriterionNames()))
	for _, name := range model.CriterionNames() {
		canonical[name] = true
		if len(r.Keywords[name]) == 0 {
			errs = append(errs, fmt.Sprintf("criterion %s has no keywords", name))
		}
	}
	for criterion, keywords := range r.Keywords {
		if !canonical[criterion] {
			errs = append(errs, fmt.Sprintf("unknown criterion %s", criterion))
		}
		for _, kw := range keywords {
			if strings.TrimSpace(kw) == "" {
				errs = append(errs, fmt.Sprintf("criterion %s has a blank keyword", criterion))
			}
		}
	}

	for i, rule := range r.Tags {
		name := rule.Tag
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Sprintf("tag rule %d has no tag name", i))
			name = fmt.Sprintf("#%d", i)
		}
		if len(rule.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("tag rule %s has no keywords", name))
		}
		for _, kw := range rule.Keywords {
			if strings.TrimSpace(kw) == "" {
				errs = append(errs, fmt.Sprintf("tag rule %s has a blank keyword", name))
			}
		}
		if rule.MinHits < 0 {
			errs = append(errs, fmt.Sprintf("tag rule %s min_hits must be >= 0", name))
		}
		if rule.MinTotal < 0 || rule.MinTotal > 100 {
			errs = append(errs, fmt.Sprintf("tag rule %s min_total must be between 0 and 100", name))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: rules validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

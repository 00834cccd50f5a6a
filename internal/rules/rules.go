// Package rules implements the deterministic prefilter that drops obvious
// non-opportunities before classification. Rules are data (pattern +
// category + reason template) evaluated by one generic matcher, strictly in
// configured order: the first match decides. Rules are written to not match
// when in doubt; ambiguous rows pass through to classification.
package rules

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rule categories used by the default ruleset.
const (
	CategoryRecognitionOnly  = "recognition-only"
	CategoryInformational    = "informational-no-mechanism"
	CategoryNoMoneyDescribed = "no-money-described"
	CategoryRetrospective    = "retrospective-announcement"
)

// Field selectors for rule patterns.
const (
	FieldURL   = "url"   // source and opportunity URLs
	FieldTitle = "title" // opportunity title
	FieldText  = "text"  // all free-text fields joined
)

// Rule is one matcher descriptor. Patterns are case-insensitive regular
// expressions compiled at engine construction.
type Rule struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Field    string `yaml:"field"`
	Pattern  string `yaml:"pattern"`

	// Reason is the templated drop message; "{match}" is replaced with the
	// matched text.
	Reason string `yaml:"reason"`

	// KeepIfPositive suppresses the match when the row's text carries
	// positive funding signals (apply language, dollar amounts). Prefer a
	// false negative here; the classifier sees the row instead.
	KeepIfPositive bool `yaml:"keep_if_positive"`

	// SkipIfFundingFields suppresses the match when the row has a non-empty
	// award amount or deadline.
	SkipIfFundingFields bool `yaml:"skip_if_funding_fields"`
}

// RuleSet is an ordered list of rules plus the positive-signal vocabulary
// shared by KeepIfPositive rules.
type RuleSet struct {
	PositiveSignals []string `yaml:"positive_signals"`
	Rules           []Rule   `yaml:"rules"`
}

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// DefaultRuleSet returns the embedded ruleset.
func DefaultRuleSet() (*RuleSet, error) {
	return parseRuleSet(defaultRulesYAML)
}

// LoadRuleSet reads a ruleset from a YAML file. An empty path returns the
// embedded default set.
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRuleSet()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read ruleset %s", path)
	}
	return parseRuleSet(data)
}

func parseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrap(err, "rules: parse ruleset")
	}
	if len(rs.Rules) == 0 {
		return nil, eris.New("rules: ruleset contains no rules")
	}
	for i, r := range rs.Rules {
		if r.Name == "" {
			return nil, eris.Errorf("rules: rule %d has no name", i)
		}
		if r.Pattern == "" {
			return nil, eris.Errorf("rules: rule %q has no pattern", r.Name)
		}
		switch r.Field {
		case FieldURL, FieldTitle, FieldText:
		default:
			return nil, eris.Errorf("rules: rule %q has unknown field %q", r.Name, r.Field)
		}
		if r.Reason == "" {
			return nil, eris.Errorf("rules: rule %q has no reason template", r.Name)
		}
	}
	return &rs, nil
}

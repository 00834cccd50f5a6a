package rules

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// Match is the outcome of a rule hit: the rule's identity and its templated
// reason for this row.
type Match struct {
	RuleName string
	Category string
	Reason   string
}

// Engine evaluates a compiled ruleset. Construction fails on any
// unparseable pattern; a broken ruleset cannot guarantee deterministic
// verdicts, so it is surfaced at startup, never per-row.
type Engine struct {
	rules   []compiledRule
	signals []string
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// NewEngine compiles the ruleset's patterns. Patterns are matched
// case-insensitively against whitespace-normalized input.
func NewEngine(rs *RuleSet) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "rules: compile pattern for rule %q", r.Name)
		}
		compiled = append(compiled, compiledRule{Rule: r, re: re})
	}

	signals := make([]string, 0, len(rs.PositiveSignals))
	for _, s := range rs.PositiveSignals {
		signals = append(signals, strings.ToLower(s))
	}

	return &Engine{rules: compiled, signals: signals}, nil
}

// Evaluate runs the rules in order against the row. It returns the first
// match, or (nil, false) when the row passes the prefilter. Evaluation is
// deterministic: identical (row, ruleset) always yields the identical
// verdict.
func (e *Engine) Evaluate(row model.OpportunityRow) (*Match, bool) {
	urls := normalizeText(row.SourceURL + " " + row.OpportunityURL)
	title := normalizeText(row.Title)
	text := normalizeText(row.Text())

	for _, r := range e.rules {
		var subject string
		switch r.Field {
		case FieldURL:
			subject = urls
		case FieldTitle:
			subject = title
		case FieldText:
			subject = text
		}

		matched := r.re.FindString(subject)
		if matched == "" {
			continue
		}

		if r.KeepIfPositive && e.hasPositiveSignal(text) {
			zap.L().Debug("rules: match overridden by positive funding signal",
				zap.String("rule", r.Name),
				zap.String("key", row.NormalizedKey),
			)
			continue
		}

		if r.SkipIfFundingFields &&
			(strings.TrimSpace(row.AwardAmountText) != "" || strings.TrimSpace(row.DeadlineText) != "") {
			continue
		}

		return &Match{
			RuleName: r.Name,
			Category: r.Category,
			Reason:   strings.ReplaceAll(r.Reason, "{match}", matched),
		}, true
	}

	return nil, false
}

func (e *Engine) hasPositiveSignal(text string) bool {
	for _, s := range e.signals {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Prefilter partitions deduplicated rows into kept and dropped sets,
// preserving input order in both.
func Prefilter(engine *Engine, rows []model.OpportunityRow) (kept []model.OpportunityRow, dropped []model.DroppedRow) {
	for _, row := range rows {
		if m, ok := engine.Evaluate(row); ok {
			dropped = append(dropped, model.DroppedRow{
				OpportunityRow: row,
				RuleName:       m.RuleName,
				RuleCategory:   m.Category,
				Reason:         m.Reason,
			})
			continue
		}
		kept = append(kept, row)
	}

	zap.L().Info("rules: prefilter complete",
		zap.Int("input", len(rows)),
		zap.Int("kept", len(kept)),
		zap.Int("dropped", len(dropped)),
	)

	return kept, dropped
}

// Package dedupe collapses duplicate opportunity rows to one canonical row
// per normalized identity key. It is a pure transform: no fuzzy matching,
// no external calls. Rows with different keys are always distinct, even if
// likely duplicates — a false merge is worse than a missed one.
package dedupe

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/opportunity-cli/internal/model"
)

var folder = cases.Fold()

// Key derives the normalized identity key for a row: a case-folded,
// whitespace-collapsed composite of the source URL path, foundation name,
// and title.
func Key(row model.OpportunityRow) string {
	return normalize(urlPath(row.SourceURL)) + "|" +
		normalize(row.FoundationName) + "|" +
		normalize(row.Title)
}

func normalize(s string) string {
	s = folder.String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// urlPath extracts host+path from a URL, dropping scheme and query so that
// http/https and tracking-parameter variants collapse to the same key.
func urlPath(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.TrimPrefix(u.Host, "www.")
	return host + strings.TrimRight(u.Path, "/")
}

// Dedupe returns at most one row per normalized key. The representative of
// each group is the member with the longest non-empty description (ties go
// to the earliest encountered). Fields empty on the representative are
// adopted from other group members; non-empty fields are never overwritten.
// Output order is the order in which each key was first encountered, and
// each representative carries the earliest Seq of its group.
func Dedupe(rows []model.OpportunityRow) []model.OpportunityRow {
	groups := make(map[string][]model.OpportunityRow)
	var keyOrder []string

	for _, row := range rows {
		row.NormalizedKey = Key(row)
		if _, seen := groups[row.NormalizedKey]; !seen {
			keyOrder = append(keyOrder, row.NormalizedKey)
		}
		groups[row.NormalizedKey] = append(groups[row.NormalizedKey], row)
	}

	out := make([]model.OpportunityRow, 0, len(keyOrder))
	for _, key := range keyOrder {
		out = append(out, collapse(groups[key]))
	}

	if removed := len(rows) - len(out); removed > 0 {
		zap.L().Info("dedupe: collapsed duplicate rows",
			zap.Int("input", len(rows)),
			zap.Int("unique", len(out)),
			zap.Int("duplicates_removed", removed),
		)
	}

	return out
}

// collapse picks the representative and merges metadata from the rest of
// the group.
func collapse(group []model.OpportunityRow) model.OpportunityRow {
	repIdx := 0
	for i, row := range group[1:] {
		if len(strings.TrimSpace(row.Description)) > len(strings.TrimSpace(group[repIdx].Description)) {
			repIdx = i + 1
		}
	}

	rep := group[repIdx]
	for i, row := range group {
		if row.Seq < rep.Seq {
			rep.Seq = row.Seq
		}
		if i == repIdx {
			continue
		}
		mergeInto(&rep, row)
	}

	return rep
}

// mergeInto adopts values from other for any field empty on rep. Conflicting
// non-empty values are logged and the representative's value kept.
func mergeInto(rep *model.OpportunityRow, other model.OpportunityRow) {
	fields := []struct {
		name string
		dst  *string
		src  string
	}{
		{"title", &rep.Title, other.Title},
		{"foundation_name", &rep.FoundationName, other.FoundationName},
		{"source_url", &rep.SourceURL, other.SourceURL},
		{"opportunity_url", &rep.OpportunityURL, other.OpportunityURL},
		{"description", &rep.Description, other.Description},
		{"award_amount_text", &rep.AwardAmountText, other.AwardAmountText},
		{"eligibility_text", &rep.EligibilityText, other.EligibilityText},
		{"deadline_text", &rep.DeadlineText, other.DeadlineText},
		{"evidence_snippets", &rep.EvidenceSnippets, other.EvidenceSnippets},
	}

	for _, f := range fields {
		switch {
		case f.src == "":
		case *f.dst == "":
			*f.dst = f.src
		case *f.dst != f.src:
			zap.L().Warn("dedupe: merge conflict, keeping representative value",
				zap.String("key", rep.NormalizedKey),
				zap.String("field", f.name),
			)
		}
	}
}

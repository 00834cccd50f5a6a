// Package model defines the core types shared across the triage pipeline.
package model

import (
	"strings"
	"time"
)

// Label is the classification verdict for an opportunity row.
type Label string

const (
	LabelYes     Label = "yes"
	LabelNo      Label = "no"
	LabelUnclear Label = "unclear"
)

// AllLabels returns every valid classification label.
func AllLabels() []Label {
	return []Label{LabelYes, LabelNo, LabelUnclear}
}

// ParseLabel normalizes and validates a label string. Returns false for
// anything outside the yes/no/unclear set.
func ParseLabel(s string) (Label, bool) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range AllLabels() {
		if l == valid {
			return l, true
		}
	}
	return "", false
}

// ConfidenceLow is the only confidence value the pipeline emits. Confidence
// is a fixed conservative placeholder, not a calibrated score.
const ConfidenceLow = "low"

// Disposition is the terminal outcome of a row. Every row in the final
// output carries exactly one.
type Disposition string

const (
	DispositionDropped    Disposition = "dropped"
	DispositionClassified Disposition = "classified"
	DispositionError      Disposition = "error"
)

// OpportunityRow is one candidate funding opportunity produced by the
// upstream extraction stage. Fields may be missing or partial; the pipeline
// treats the row as read-only except for NormalizedKey, which the dedup
// pass derives.
type OpportunityRow struct {
	// Seq is the discovery-order index of the row in the input. Audit output
	// is ordered by Seq within each partition.
	Seq int `json:"seq"`

	// NormalizedKey is the canonical identity used for dedup and
	// checkpointing. Derived, not read from input.
	NormalizedKey string `json:"normalized_key"`

	Title            string `json:"title"`
	FoundationName   string `json:"foundation_name"`
	SourceURL        string `json:"source_url"`
	OpportunityURL   string `json:"opportunity_url,omitempty"`
	Description      string `json:"description"`
	AwardAmountText  string `json:"award_amount_text,omitempty"`
	EligibilityText  string `json:"eligibility_text,omitempty"`
	DeadlineText     string `json:"deadline_text,omitempty"`
	EvidenceSnippets string `json:"evidence_snippets,omitempty"`
}

// Text joins the row's free-text fields into the blob rule patterns and the
// classifier prompt operate on.
func (r OpportunityRow) Text() string {
	parts := make([]string, 0, 6)
	for _, s := range []string{
		r.Title, r.Description, r.AwardAmountText,
		r.EligibilityText, r.DeadlineText, r.EvidenceSnippets,
	} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Verdict is the classification collaborator's answer for one row.
type Verdict struct {
	Label  Label  `json:"label"`
	Reason string `json:"reason"`
}

// CheckpointRecord is one durable classification result. Records are
// append-only and keyed by RowID; a second append for the same RowID is
// ignored, never overwritten.
type CheckpointRecord struct {
	RowID      string    `json:"row_id"`
	Label      Label     `json:"label"`
	Reason     string    `json:"reason"`
	Confidence string    `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// DroppedRow is a row the prefilter removed, with the matching rule's
// identity and templated reason.
type DroppedRow struct {
	OpportunityRow
	RuleName     string `json:"rule_name"`
	RuleCategory string `json:"rule_category"`
	Reason       string `json:"drop_reason"`
}

// ClassifiedRow is a row the collaborator labelled.
type ClassifiedRow struct {
	OpportunityRow
	Label      Label  `json:"label"`
	Reason     string `json:"reason"`
	Confidence string `json:"confidence"`
}

// ErroredRow is a row whose classification failed after retries. Terminal
// for the run, but eligible for reprocessing next run.
type ErroredRow struct {
	OpportunityRow
	Reason string `json:"error_reason"`
}

// AuditReport is the merged, reason-annotated pipeline output. Each
// partition preserves original discovery order.
type AuditReport struct {
	Classified []ClassifiedRow `json:"classified"`
	Dropped    []DroppedRow    `json:"dropped"`
	Errors     []ErroredRow    `json:"errors"`
}

// Total returns the number of rows across all partitions.
func (r *AuditReport) Total() int {
	return len(r.Classified) + len(r.Dropped) + len(r.Errors)
}

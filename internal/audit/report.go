// Package audit assembles the final reason-annotated report and exports it
// to XLSX and CSV.
package audit

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// BuildReport merges the pipeline's partitions into an audit report. Each
// partition is sorted by discovery order, and every row must carry a
// non-empty reason.
func BuildReport(classified []model.ClassifiedRow, dropped []model.DroppedRow, errored []model.ErroredRow) (*model.AuditReport, error) {
	report := &model.AuditReport{
		Classified: append([]model.ClassifiedRow(nil), classified...),
		Dropped:    append([]model.DroppedRow(nil), dropped...),
		Errors:     append([]model.ErroredRow(nil), errored...),
	}

	sort.SliceStable(report.Classified, func(i, j int) bool { return report.Classified[i].Seq < report.Classified[j].Seq })
	sort.SliceStable(report.Dropped, func(i, j int) bool { return report.Dropped[i].Seq < report.Dropped[j].Seq })
	sort.SliceStable(report.Errors, func(i, j int) bool { return report.Errors[i].Seq < report.Errors[j].Seq })

	for _, row := range report.Classified {
		if row.Reason == "" {
			return nil, eris.Errorf("audit: classified row %q has no reason", row.NormalizedKey)
		}
	}
	for _, row := range report.Dropped {
		if row.Reason == "" {
			return nil, eris.Errorf("audit: dropped row %q has no reason", row.NormalizedKey)
		}
	}
	for _, row := range report.Errors {
		if row.Reason == "" {
			return nil, eris.Errorf("audit: errored row %q has no reason", row.NormalizedKey)
		}
	}

	zap.L().Info("audit: report assembled",
		zap.Int("classified", len(report.Classified)),
		zap.Int("dropped", len(report.Dropped)),
		zap.Int("errored", len(report.Errors)),
		zap.Int("total", report.Total()),
	)
	return report, nil
}

// CountByLabel tallies classified rows per label.
func CountByLabel(report *model.AuditReport) map[model.Label]int {
	counts := make(map[model.Label]int, len(model.AllLabels()))
	for _, row := range report.Classified {
		counts[row.Label]++
	}
	return counts
}

// filterByLabel returns the classified rows carrying the given label, in
// their existing order.
func filterByLabel(rows []model.ClassifiedRow, label model.Label) []model.ClassifiedRow {
	var out []model.ClassifiedRow
	for _, row := range rows {
		if row.Label == label {
			out = append(out, row)
		}
	}
	return out
}

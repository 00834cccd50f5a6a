package audit

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
)

var exportHeader = []string{
	"seq", "disposition", "label", "reason", "confidence",
	"title", "foundation_name", "source_url", "opportunity_url",
	"description", "award_amount_text", "eligibility_text", "deadline_text",
	"rule_name", "rule_category",
}

// exportRecord flattens one audit row into the shared export column set.
// Columns that do not apply to the disposition stay empty.
func exportRecord(row model.OpportunityRow, disposition model.Disposition, label model.Label, reason, confidence, ruleName, ruleCategory string) []string {
	return []string{
		strconv.Itoa(row.Seq),
		string(disposition),
		string(label),
		reason,
		confidence,
		row.Title,
		row.FoundationName,
		row.SourceURL,
		row.OpportunityURL,
		row.Description,
		row.AwardAmountText,
		row.EligibilityText,
		row.DeadlineText,
		ruleName,
		ruleCategory,
	}
}

func reportRecords(report *model.AuditReport) [][]string {
	records := make([][]string, 0, report.Total())
	for _, row := range report.Classified {
		records = append(records, exportRecord(row.OpportunityRow, model.DispositionClassified, row.Label, row.Reason, row.Confidence, "", ""))
	}
	for _, row := range report.Dropped {
		records = append(records, exportRecord(row.OpportunityRow, model.DispositionDropped, "", row.Reason, "", row.RuleName, row.RuleCategory))
	}
	for _, row := range report.Errors {
		records = append(records, exportRecord(row.OpportunityRow, model.DispositionError, "", row.Reason, "", "", ""))
	}
	return records
}

// WriteCSV exports the full report as a single flat CSV.
func WriteCSV(report *model.AuditReport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "audit: create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return eris.Wrap(err, "audit: write csv header")
	}
	for _, record := range reportRecords(report) {
		if err := w.Write(record); err != nil {
			return eris.Wrap(err, "audit: write csv record")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "audit: flush csv")
	}

	zap.L().Info("audit: wrote csv", zap.String("path", path), zap.Int("rows", report.Total()))
	return nil
}

// WriteXLSX exports the report as a workbook with one sheet per view:
// All, Yes, No, Unclear, Dropped, and Errors.
func WriteXLSX(report *model.AuditReport, path string) error {
	file := xlsx.NewFile()

	if err := addSheet(file, "All", reportRecords(report)); err != nil {
		return err
	}
	for _, label := range model.AllLabels() {
		records := make([][]string, 0)
		for _, row := range filterByLabel(report.Classified, label) {
			records = append(records, exportRecord(row.OpportunityRow, model.DispositionClassified, row.Label, row.Reason, row.Confidence, "", ""))
		}
		if err := addSheet(file, sheetName(label), records); err != nil {
			return err
		}
	}

	dropped := make([][]string, 0, len(report.Dropped))
	for _, row := range report.Dropped {
		dropped = append(dropped, exportRecord(row.OpportunityRow, model.DispositionDropped, "", row.Reason, "", row.RuleName, row.RuleCategory))
	}
	if err := addSheet(file, "Dropped", dropped); err != nil {
		return err
	}

	errored := make([][]string, 0, len(report.Errors))
	for _, row := range report.Errors {
		errored = append(errored, exportRecord(row.OpportunityRow, model.DispositionError, "", row.Reason, "", "", ""))
	}
	if err := addSheet(file, "Errors", errored); err != nil {
		return err
	}

	if err := file.Save(path); err != nil {
		return eris.Wrap(err, "audit: save xlsx")
	}

	zap.L().Info("audit: wrote xlsx", zap.String("path", path), zap.Int("rows", report.Total()))
	return nil
}

func sheetName(label model.Label) string {
	switch label {
	case model.LabelYes:
		return "Yes"
	case model.LabelNo:
		return "No"
	default:
		return "Unclear"
	}
}

func addSheet(file *xlsx.File, name string, records [][]string) error {
	sheet, err := file.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "audit: add sheet %s", name)
	}

	header := sheet.AddRow()
	for _, col := range exportHeader {
		header.AddCell().Value = col
	}
	for _, record := range records {
		row := sheet.AddRow()
		for _, field := range record {
			row.AddCell().Value = field
		}
	}
	return nil
}

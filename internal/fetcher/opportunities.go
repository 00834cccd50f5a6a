package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// columnAliases maps each opportunity field to the header names extraction
// files use for it. Matching is case-insensitive after trimming.
var columnAliases = map[string][]string{
	"title":             {"opportunity_name", "title", "name"},
	"foundation_name":   {"foundation_name", "foundation", "organization"},
	"source_url":        {"source_url", "source"},
	"opportunity_url":   {"opportunity_url", "url", "link"},
	"description":       {"summary", "description"},
	"award_amount_text": {"award_amount_text", "award_amount", "amount"},
	"eligibility_text":  {"eligibility_text", "eligibility"},
	"deadline_text":     {"deadline_text", "deadline"},
	"evidence_snippets": {"evidence_snippets", "evidence"},
}

// columnIndex resolves header positions for the known opportunity fields.
// Unknown columns are ignored; missing columns resolve to -1 and the field
// stays empty.
type columnIndex map[string]int

func buildColumnIndex(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idx := make(columnIndex, len(columnAliases))
	for field, aliases := range columnAliases {
		idx[field] = -1
		for _, alias := range aliases {
			if i, ok := pos[alias]; ok {
				idx[field] = i
				break
			}
		}
	}

	if idx["title"] < 0 && idx["description"] < 0 {
		return nil, eris.New("fetcher: header has neither a title nor a description column")
	}
	return idx, nil
}

func (idx columnIndex) get(record []string, field string) string {
	i := idx[field]
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (idx columnIndex) toRow(seq int, record []string) model.OpportunityRow {
	return model.OpportunityRow{
		Seq:              seq,
		Title:            idx.get(record, "title"),
		FoundationName:   idx.get(record, "foundation_name"),
		SourceURL:        idx.get(record, "source_url"),
		OpportunityURL:   idx.get(record, "opportunity_url"),
		Description:      idx.get(record, "description"),
		AwardAmountText:  idx.get(record, "award_amount_text"),
		EligibilityText:  idx.get(record, "eligibility_text"),
		DeadlineText:     idx.get(record, "deadline_text"),
		EvidenceSnippets: idx.get(record, "evidence_snippets"),
	}
}

// LoadOpportunities reads an extraction file (.csv or .xlsx, chosen by
// extension) into opportunity rows in file order. Seq reflects the row's
// position in the file, counting from zero after the header.
func LoadOpportunities(ctx context.Context, path string) ([]model.OpportunityRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(ctx, path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return nil, eris.Errorf("fetcher: unsupported input extension %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func loadCSV(ctx context.Context, path string) ([]model.OpportunityRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open csv")
	}
	defer f.Close()

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, f, CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var (
		idx  columnIndex
		rows []model.OpportunityRow
		seq  int
	)
	for record := range rowCh {
		if idx == nil {
			select {
			case header := <-headerCh:
				idx, err = buildColumnIndex(header)
				if err != nil {
					return nil, err
				}
			default:
				return nil, eris.New("fetcher: csv has no header row")
			}
		}
		if isEmptyRecord(record) {
			continue
		}
		rows = append(rows, idx.toRow(seq, record))
		seq++
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	zap.L().Info("fetcher: loaded rows", zap.String("path", path), zap.Int("rows", len(rows)))
	return rows, nil
}

func loadXLSX(path string) ([]model.OpportunityRow, error) {
	raw, err := ReadXLSX(path, XLSXOptions{})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, eris.New("fetcher: xlsx has no header row")
	}

	idx, err := buildColumnIndex(raw[0])
	if err != nil {
		return nil, err
	}

	var rows []model.OpportunityRow
	for _, record := range raw[1:] {
		if isEmptyRecord(record) {
			continue
		}
		rows = append(rows, idx.toRow(len(rows), record))
	}

	zap.L().Info("fetcher: loaded rows", zap.String("path", path), zap.Int("rows", len(rows)))
	return rows, nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

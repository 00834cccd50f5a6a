package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/audit"
	"github.com/sells-group/opportunity-cli/internal/classify"
	"github.com/sells-group/opportunity-cli/internal/dedupe"
	"github.com/sells-group/opportunity-cli/internal/fetcher"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/rules"
	anthropicpkg "github.com/sells-group/opportunity-cli/pkg/anthropic"
)

var (
	runInput  string
	runOutput string
)

// runSummary is the JSON printed to stdout after a run.
type runSummary struct {
	Input      int `json:"input_rows"`
	Deduped    int `json:"after_dedupe"`
	Dropped    int `json:"dropped"`
	Classified int `json:"classified"`
	Resumed    int `json:"resumed"`
	Errored    int `json:"errored"`
	Yes        int `json:"yes"`
	No         int `json:"no"`
	Unclear    int `json:"unclear"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full triage pipeline over an extraction file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (OPPTRIAGE_ANTHROPIC_KEY)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		engine, err := loadEngine()
		if err != nil {
			return err
		}

		input, err := fetcher.LoadOpportunities(ctx, runInput)
		if err != nil {
			return eris.Wrap(err, "load input")
		}

		deduped := dedupe.Dedupe(input)
		kept, dropped := rules.Prefilter(engine, deduped)

		classifier := classify.NewAnthropicClassifier(
			anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic,
		)
		orch := classify.New(classifier, st, cfg.Classify)

		result, err := orch.Run(ctx, kept)
		if err != nil {
			return eris.Wrap(err, "classify")
		}

		report, err := audit.BuildReport(result.Classified, dropped, result.Errored)
		if err != nil {
			return err
		}

		if runOutput != "" {
			if err := writeReport(report, runOutput); err != nil {
				return err
			}
		}

		counts := audit.CountByLabel(report)
		zap.L().Info("triage complete",
			zap.Int("input", len(input)),
			zap.Int("after_dedupe", len(deduped)),
			zap.Int("dropped", len(report.Dropped)),
			zap.Int("classified", len(report.Classified)),
			zap.Int("errored", len(report.Errors)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runSummary{
			Input:      len(input),
			Deduped:    len(deduped),
			Dropped:    len(report.Dropped),
			Classified: len(report.Classified),
			Resumed:    result.Resumed,
			Errored:    len(report.Errors),
			Yes:        counts[model.LabelYes],
			No:         counts[model.LabelNo],
			Unclear:    counts[model.LabelUnclear],
		})
	},
}

func loadEngine() (*rules.Engine, error) {
	rs, err := rules.LoadRuleSet(cfg.Rules.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load ruleset")
	}
	engine, err := rules.NewEngine(rs)
	if err != nil {
		return nil, eris.Wrap(err, "compile ruleset")
	}
	return engine, nil
}

// writeReport picks the export format from the output extension.
func writeReport(report *model.AuditReport, path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return audit.WriteXLSX(report, path)
	}
	return audit.WriteCSV(report, path)
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "extraction file (.csv or .xlsx, required)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "audit report path (.csv or .xlsx)")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

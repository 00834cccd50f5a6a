package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-cli/internal/dedupe"
	"github.com/sells-group/opportunity-cli/internal/fetcher"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/rules"
)

var (
	prefilterInput  string
	prefilterOutput string
)

// prefilterCmd runs dedup and the rule pass only, with no collaborator
// calls. Useful for tuning rulesets before spending API budget.
var prefilterCmd = &cobra.Command{
	Use:   "prefilter",
	Short: "Run dedup and the rule prefilter without classifying",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		engine, err := loadEngine()
		if err != nil {
			return err
		}

		input, err := fetcher.LoadOpportunities(ctx, prefilterInput)
		if err != nil {
			return eris.Wrap(err, "load input")
		}

		deduped := dedupe.Dedupe(input)
		kept, dropped := rules.Prefilter(engine, deduped)

		if prefilterOutput != "" {
			report := &model.AuditReport{Dropped: dropped}
			if err := writeReport(report, prefilterOutput); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]int{
			"input_rows":   len(input),
			"after_dedupe": len(deduped),
			"kept":         len(kept),
			"dropped":      len(dropped),
		})
	},
}

func init() {
	prefilterCmd.Flags().StringVar(&prefilterInput, "input", "", "extraction file (.csv or .xlsx, required)")
	prefilterCmd.Flags().StringVar(&prefilterOutput, "output", "", "dropped-rows report path (.csv or .xlsx)")
	_ = prefilterCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(prefilterCmd)
}

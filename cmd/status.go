package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// statusCmd reports checkpoint store progress: how many rows are durably
// classified per label, and how many errored on the last run.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint store progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		recs, err := st.LoadAll(ctx)
		if err != nil {
			return eris.Wrap(err, "load checkpoints")
		}
		errored, err := st.LoadErrors(ctx)
		if err != nil {
			return eris.Wrap(err, "load errored attempts")
		}

		counts := make(map[model.Label]int)
		for _, rec := range recs {
			counts[rec.Label]++
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]int{
			"checkpointed": len(recs),
			"yes":          counts[model.LabelYes],
			"no":           counts[model.LabelNo],
			"unclear":      counts[model.LabelUnclear],
			"errored":      len(errored),
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

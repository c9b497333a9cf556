package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fomcboard/indicator-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog counts and recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		stats, err := store.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		fmt.Printf("Categories: %d  Indicators: %d  Observations: %d\n\n",
			stats.Categories, stats.Indicators, stats.Observations)

		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status: list runs")
		}
		if len(runs) == 0 {
			zap.L().Info("no sync runs found, run 'sync' to populate the catalog")
			return nil
		}

		formatRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatRuns writes a tabular representation of sync runs to w.
func formatRuns(out io.Writer, runs []model.SyncRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tROWS\tCREATED\tUPDATED\tFAILED\tOBS\tERROR")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			shortID(r.ID), r.Status, r.StartedAt.Format("2006-01-02 15:04"), dur,
			r.Summary.Rows, r.Summary.IndicatorsCreated, r.Summary.IndicatorsUpdated,
			r.Summary.RowsFailed, r.Summary.ObservationsInserted, errMsg)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

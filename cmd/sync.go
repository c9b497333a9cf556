package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fomcboard/indicator-cli/internal/pipeline"
	"github.com/fomcboard/indicator-cli/pkg/fred"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync indicators from the Excel definition",
	Long: `Reads the Excel indicator definition, reconciles categories and
indicator metadata in the catalog, and fetches new observation data from
FRED for every indicator row.

By default each indicator is fetched incrementally, starting the day
after its latest stored observation. Use --start-date/--end-date to pin
an explicit window, or --full-refresh to drop and refetch each
indicator's data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := parseSyncOpts(cmd)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		if err := store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sync: migrate")
		}

		client := fred.NewClient(cfg.FRED.Key,
			fred.WithBaseURL(cfg.FRED.BaseURL),
			fred.WithRequestsPerMinute(cfg.FRED.RequestsPerMinute),
		)

		zap.L().Info("starting sync",
			zap.String("excel", opts.ExcelPath),
			zap.Bool("full_refresh", opts.FullRefresh),
		)

		sum, err := pipeline.New(store, client, opts).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		fmt.Printf("Processed %d rows: %d created, %d updated, %d skipped, %d failed, %d observations stored\n",
			sum.Rows, sum.IndicatorsCreated, sum.IndicatorsUpdated,
			sum.RowsSkipped, sum.RowsFailed, sum.ObservationsInserted)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("excel", "", "path to the definition workbook (default from config)")
	syncCmd.Flags().String("start-date", "", "fetch observations starting from this date (YYYY-MM-DD)")
	syncCmd.Flags().String("end-date", "", "fetch observations up to this date (YYYY-MM-DD)")
	syncCmd.Flags().Bool("full-refresh", false, "delete stored observations for each indicator before fetching")
	rootCmd.AddCommand(syncCmd)
}

// parseSyncOpts extracts pipeline.Options from the cobra command flags.
func parseSyncOpts(cmd *cobra.Command) (pipeline.Options, error) {
	excel, _ := cmd.Flags().GetString("excel")
	startStr, _ := cmd.Flags().GetString("start-date")
	endStr, _ := cmd.Flags().GetString("end-date")
	full, _ := cmd.Flags().GetBool("full-refresh")

	if excel == "" {
		excel = cfg.Sync.ExcelPath
	}

	opts := pipeline.Options{
		ExcelPath:   excel,
		SheetName:   cfg.Sync.SheetName,
		FullRefresh: full,
	}

	var err error
	if opts.StartDate, err = parseDateFlag(startStr); err != nil {
		return pipeline.Options{}, eris.Wrap(err, "sync: --start-date")
	}
	if opts.EndDate, err = parseDateFlag(endStr); err != nil {
		return pipeline.Options{}, eris.Wrap(err, "sync: --end-date")
	}

	opts.DefaultStart, err = time.Parse("2006-01-02", cfg.Sync.DefaultStartDate)
	if err != nil {
		return pipeline.Options{}, eris.Wrapf(err, "sync: bad default_start_date %q", cfg.Sync.DefaultStartDate)
	}

	return opts, nil
}

func parseDateFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return &t, nil
}

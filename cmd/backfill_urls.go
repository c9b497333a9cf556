package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fomcboard/indicator-cli/pkg/fred"
)

var backfillURLsCmd = &cobra.Command{
	Use:   "backfill-urls",
	Short: "Fill missing FRED reference URLs",
	Long: `Derives the public FRED series page URL from each indicator's code
and fills it in for indicators that predate the reference-URL column.
New indicators get their URL at creation time; this is a one-off repair
for older catalogs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		n, err := store.BackfillReferenceURLs(ctx, fred.SeriesURL)
		if err != nil {
			return eris.Wrap(err, "backfill-urls")
		}

		fmt.Printf("Updated %d indicator URLs\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backfillURLsCmd)
}

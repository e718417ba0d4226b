package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tender-radar/radar-cli/internal/ingest"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply the upstream change journal",
	Long: `Fetch the change journal for a date window (default: yesterday through
today) and apply it: deletions become soft deletes, updates are re-fetched
and upserted. Individual bad entries are counted and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		window := ingest.DefaultSyncWindow(time.Now())
		if from != "" || to != "" {
			if from == "" || to == "" {
				return eris.New("sync: --from and --to must be given together")
			}
			var err error
			window, err = ingest.ParseWindow(from, to)
			if err != nil {
				return err
			}
		}

		pool, err := radarPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "sync: migrate")
		}

		zap.L().Info("starting incremental sync",
			zap.String("from", window.From.Format("2006-01-02")),
			zap.String("to", window.To.Format("2006-01-02")))

		inc := ingest.NewIncremental(pool, owsClient(), window)
		counts, err := inc.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		fmt.Printf("processed %d  updated %d  deleted %d  errors %d\n",
			counts.Processed, counts.Updated, counts.Deleted, counts.Errors)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("from", "", "window start, YYYY-MM-DD")
	syncCmd.Flags().String("to", "", "window end, YYYY-MM-DD")
	rootCmd.AddCommand(syncCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tender-radar/radar-cli/internal/ingest"
)

var cursorsCmd = &cobra.Command{
	Use:   "cursors",
	Short: "List persisted source cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := radarPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := ingest.NewCursorStore(pool)

		if reset, _ := cmd.Flags().GetString("reset"); reset != "" {
			if err := store.Delete(ctx, reset); err != nil {
				return err
			}
			fmt.Printf("cursor %s reset\n", reset)
			return nil
		}

		cursors, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(cursors) == 0 {
			fmt.Println("No cursors stored")
			return nil
		}
		for _, cur := range cursors {
			fmt.Printf("%-22s %s  (%s)\n",
				cur.SourceName, cur.CursorValue, cur.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	cursorsCmd.Flags().String("reset", "", "delete the cursor for a source name")
	rootCmd.AddCommand(cursorsCmd)
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tender-radar/radar-cli/internal/ingest"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		pool, err := radarPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		runs, err := ingest.NewRunLog(pool).List(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		for _, run := range runs {
			finished := "-"
			if run.FinishedAt != nil {
				finished = run.FinishedAt.Format("2006-01-02 15:04:05")
			}
			summary := ""
			if run.Summary != nil {
				if b, err := json.Marshal(run.Summary); err == nil {
					summary = string(b)
				}
			}
			fmt.Printf("%-6d %-12s %-8s %s  %s  %s\n",
				run.ID, run.RunType, run.Status,
				run.StartedAt.Format("2006-01-02 15:04:05"), finished, summary)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 50, "max runs to list")
	rootCmd.AddCommand(runsCmd)
}

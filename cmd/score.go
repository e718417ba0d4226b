package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tender-radar/radar-cli/internal/risk"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute risk flags and scores",
	Long: `Evaluate the indicator bank for lots and persist risk flags and composite
scores. Scores all surviving lots (bounded by scoring.max_lots) unless
--lots restricts the set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		lotsFlag, _ := cmd.Flags().GetString("lots")
		lotIDs, err := parseLotIDs(lotsFlag)
		if err != nil {
			return err
		}

		riskCfg, err := risk.NewConfig(cfg.Scoring.Weights, cfg.Scoring.LowMax, cfg.Scoring.MediumMax, cfg.Scoring.MaxLots)
		if err != nil {
			return err
		}

		pool, err := radarPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		zap.L().Info("starting scoring pass", zap.Int("explicit_lots", len(lotIDs)))

		engine := risk.NewEngine(pool, riskCfg)
		summary, err := engine.Run(ctx, lotIDs)
		if err != nil {
			return eris.Wrap(err, "score")
		}

		fmt.Printf("lots processed %d  errors %d\n", summary.LotsProcessed, summary.Errors)
		return nil
	},
}

// parseLotIDs parses the --lots flag: a comma-separated id list.
func parseLotIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "score: bad lot id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	scoreCmd.Flags().String("lots", "", "comma-separated lot ids (default: all surviving lots)")
	rootCmd.AddCommand(scoreCmd)
}

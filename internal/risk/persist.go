package risk

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// persist writes the flag rows (append-only, one per evaluated indicator)
// and upserts the lot's score in one pass.
func (e *Engine) persist(ctx context.Context, score *LotScore) error {
	codes := make([]string, 0, len(score.Flags))
	for code := range score.Flags {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		res := score.Flags[code]
		var evidence []byte
		if res.Evidence != nil {
			var err error
			evidence, err = json.Marshal(res.Evidence)
			if err != nil {
				return eris.Wrapf(err, "risk: marshal evidence for %s", code)
			}
		}

		_, err := e.pool.Exec(ctx,
			`INSERT INTO risk_flags (entity_type, entity_id, indicator_code, flag_bool, value_numeric, evidence, computed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			score.EntityType, score.LotID, code, res.Triggered, res.Value, evidence, score.ComputedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "risk: insert flag %s for lot %d", code, score.LotID)
		}
	}

	reasons, err := json.Marshal(score.Reasons)
	if err != nil {
		return eris.Wrap(err, "risk: marshal top reasons")
	}

	_, err = e.pool.Exec(ctx,
		`INSERT INTO risk_scores (entity_type, entity_id, score, level, top_reasons, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (entity_type, entity_id) DO UPDATE
		 SET score = EXCLUDED.score, level = EXCLUDED.level,
		     top_reasons = EXCLUDED.top_reasons, computed_at = EXCLUDED.computed_at`,
		score.EntityType, score.LotID, score.Score, score.Level, reasons, score.ComputedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "risk: upsert score for lot %d", score.LotID)
	}
	return nil
}

package risk

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tender-radar/radar-cli/internal/db"
)

// Reason is one of the top contributors to a lot's score.
type Reason struct {
	Code        string         `json:"code"`
	Weight      float64        `json:"weight"`
	Description string         `json:"description"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// LotScore is the outcome of scoring one lot.
type LotScore struct {
	LotID      int64
	EntityType string
	RawScore   float64
	Score      float64
	Level      string
	Reasons    []Reason
	Flags      map[string]Result
	ComputedAt time.Time
}

// RunSummary summarizes a batch scoring pass.
type RunSummary struct {
	LotsProcessed int64 `json:"lots_processed"`
	Errors        int64 `json:"errors"`
}

// Engine evaluates the indicator bank per lot, aggregates a weighted score,
// and persists flags and scores.
type Engine struct {
	pool       db.Pool
	cfg        Config
	indicators *Indicators
	log        *zap.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(pool db.Pool, cfg Config) *Engine {
	return &Engine{
		pool:       pool,
		cfg:        cfg,
		indicators: NewIndicators(pool),
		log:        zap.L().With(zap.String("component", "risk.engine")),
	}
}

// lotContext is the data that gates which indicators apply.
type lotContext struct {
	lotID        int64
	trdBuyID     *int64
	customerBIN  *string
	contractID   *int64
	supplierBIIN *string
}

// ComputeLot scores one lot and persists the result. A lot that does not
// exist (or is deleted) is a no-op returning (nil, nil).
func (e *Engine) ComputeLot(ctx context.Context, lotID int64) (*LotScore, error) {
	lc, err := e.loadContext(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lc == nil {
		return nil, nil
	}

	flags, err := e.evaluate(ctx, lc)
	if err != nil {
		return nil, err
	}

	score := e.aggregate(lotID, flags)
	if err := e.persist(ctx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// loadContext loads the lot and its tender's first surviving contract.
func (e *Engine) loadContext(ctx context.Context, lotID int64) (*lotContext, error) {
	lc := &lotContext{lotID: lotID}
	err := e.pool.QueryRow(ctx,
		`SELECT trd_buy_id, customer_bin FROM lots WHERE id = $1 AND NOT is_deleted`,
		lotID,
	).Scan(&lc.trdBuyID, &lc.customerBIN)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "risk: load lot %d", lotID)
	}

	if lc.trdBuyID != nil {
		var contractID int64
		var supplierBIIN *string
		err := e.pool.QueryRow(ctx,
			`SELECT id, supplier_biin FROM contract
			 WHERE trd_buy_id = $1 AND NOT is_deleted
			 ORDER BY id LIMIT 1`,
			*lc.trdBuyID,
		).Scan(&contractID, &supplierBIIN)
		if err != nil && !isNoRows(err) {
			return nil, eris.Wrapf(err, "risk: load contract for tender %d", *lc.trdBuyID)
		}
		if err == nil {
			lc.contractID = &contractID
			lc.supplierBIIN = supplierBIIN
		}
	}
	return lc, nil
}

// evaluate runs every indicator whose prerequisites the lot satisfies.
func (e *Engine) evaluate(ctx context.Context, lc *lotContext) (map[string]Result, error) {
	flags := make(map[string]Result)

	run := func(code string, fn func() (Result, error)) error {
		res, err := fn()
		if err != nil {
			return eris.Wrapf(err, "risk: indicator %s for lot %d", code, lc.lotID)
		}
		flags[code] = res
		return nil
	}

	// The lot itself is always enough for the dumping check.
	if err := run(CodeDumpingFlag, func() (Result, error) {
		return e.indicators.DumpingFlag(ctx, lc.lotID)
	}); err != nil {
		return nil, err
	}

	type step struct {
		code string
		fn   func() (Result, error)
	}

	if lc.trdBuyID != nil {
		tenderID := *lc.trdBuyID
		for _, s := range []step{
			{CodeShortDeadline, func() (Result, error) { return e.indicators.ShortDeadline(ctx, tenderID) }},
			{CodeFewBids, func() (Result, error) { return e.indicators.FewBids(ctx, tenderID) }},
			{CodeLotSplitting, func() (Result, error) { return e.indicators.LotSplitting(ctx, tenderID) }},
			{CodeLastMinuteChanges, func() (Result, error) { return e.indicators.LastMinuteChanges(ctx, tenderID) }},
			{CodeCommonRequisites, func() (Result, error) { return e.indicators.CommonRequisites(ctx, tenderID) }},
		} {
			if err := run(s.code, s.fn); err != nil {
				return nil, err
			}
		}
	}

	if lc.customerBIN != nil && lc.supplierBIIN != nil {
		customer, supplier := *lc.customerBIN, *lc.supplierBIIN
		if err := run(CodeRecurringWinner, func() (Result, error) {
			return e.indicators.RecurringWinner(ctx, customer, supplier)
		}); err != nil {
			return nil, err
		}
		if err := run(CodeCarouselPattern, func() (Result, error) {
			return e.indicators.CarouselPattern(ctx, customer)
		}); err != nil {
			return nil, err
		}
	}

	if lc.supplierBIIN != nil {
		supplier := *lc.supplierBIIN
		supplierContractID := *lc.contractID
		for _, s := range []step{
			{CodeSupplierConcentration, func() (Result, error) { return e.indicators.SupplierConcentration(ctx, supplier) }},
			{CodeRnuFlag, func() (Result, error) { return e.indicators.RnuFlag(ctx, supplier) }},
			{CodeHighWinRateFewBids, func() (Result, error) { return e.indicators.HighWinRateFewBids(ctx, supplier) }},
			{CodeNewCompanyBigContract, func() (Result, error) { return e.indicators.NewCompanyBigContract(ctx, supplierContractID) }},
		} {
			if err := run(s.code, s.fn); err != nil {
				return nil, err
			}
		}
	}

	if lc.contractID != nil {
		contractID := *lc.contractID
		for _, s := range []step{
			{CodeAddendumValueIncrease, func() (Result, error) { return e.indicators.AddendumValueIncrease(ctx, contractID) }},
			{CodeWinMinThenAddendum, func() (Result, error) { return e.indicators.WinMinThenAddendum(ctx, contractID) }},
			{CodeWeirdExecutionTime, func() (Result, error) { return e.indicators.WeirdExecutionTime(ctx, contractID) }},
			{CodePaymentWithoutAct, func() (Result, error) { return e.indicators.PaymentWithoutAct(ctx, contractID) }},
		} {
			if err := run(s.code, s.fn); err != nil {
				return nil, err
			}
		}
	}

	return flags, nil
}

// aggregate folds indicator results into a normalized score and level.
func (e *Engine) aggregate(lotID int64, flags map[string]Result) *LotScore {
	var raw float64
	var triggered []string
	for code, res := range flags {
		if res.Triggered {
			raw += e.cfg.Weights[code]
			triggered = append(triggered, code)
		}
	}

	score := round1(math.Min(100, raw/e.cfg.TotalWeight()*100))

	level := "HIGH"
	switch {
	case score <= e.cfg.LowMax:
		level = "LOW"
	case score <= e.cfg.MediumMax:
		level = "MEDIUM"
	}

	// Heaviest indicators first; ties break on code for determinism.
	sort.Slice(triggered, func(i, j int) bool {
		wi, wj := e.cfg.Weights[triggered[i]], e.cfg.Weights[triggered[j]]
		if wi != wj {
			return wi > wj
		}
		return triggered[i] < triggered[j]
	})
	if len(triggered) > 3 {
		triggered = triggered[:3]
	}

	reasons := make([]Reason, 0, len(triggered))
	for _, code := range triggered {
		reasons = append(reasons, Reason{
			Code:        code,
			Weight:      e.cfg.Weights[code],
			Description: Descriptions[code],
			Evidence:    flags[code].Evidence,
		})
	}

	return &LotScore{
		LotID:      lotID,
		EntityType: "lot",
		RawScore:   raw,
		Score:      score,
		Level:      level,
		Reasons:    reasons,
		Flags:      flags,
		ComputedAt: time.Now().UTC(),
	}
}

// Run scores the given lots, or all surviving lots (bounded) when none are
// given. Per-lot failures are counted and logged, never fatal.
func (e *Engine) Run(ctx context.Context, lotIDs []int64) (RunSummary, error) {
	var summary RunSummary

	if len(lotIDs) == 0 {
		var err error
		lotIDs, err = e.allLotIDs(ctx)
		if err != nil {
			return summary, err
		}
	}

	for _, lotID := range lotIDs {
		if _, err := e.ComputeLot(ctx, lotID); err != nil {
			summary.Errors++
			e.log.Warn("lot scoring failed", zap.Int64("lot_id", lotID), zap.Error(err))
			continue
		}
		summary.LotsProcessed++
	}

	e.log.Info("scoring pass finished",
		zap.Int64("lots_processed", summary.LotsProcessed),
		zap.Int64("errors", summary.Errors))
	return summary, nil
}

func (e *Engine) allLotIDs(ctx context.Context) ([]int64, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT id FROM lots WHERE NOT is_deleted ORDER BY id LIMIT $1`,
		e.cfg.MaxLots,
	)
	if err != nil {
		return nil, eris.Wrap(err, "risk: list lots")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "risk: scan lot id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

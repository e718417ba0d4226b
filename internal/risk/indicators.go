package risk

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/tender-radar/radar-cli/internal/db"
)

// Result is one indicator evaluation. Missing linked data yields the zero
// Result with a nil error: absence of evidence is not an error and not a flag.
type Result struct {
	Triggered bool
	Value     *float64
	Evidence  map[string]any
}

func value(v float64) *float64 { return &v }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// wholeDays truncates a duration to whole calendar days, flooring toward
// negative infinity so a partial day never counts.
func wholeDays(d time.Duration) float64 {
	return math.Floor(d.Hours() / 24)
}

// Indicators evaluates the heuristic bank against the normalized tables.
type Indicators struct {
	pool db.Pool
	now  func() time.Time
}

// NewIndicators creates an indicator bank over the given pool.
func NewIndicators(pool db.Pool) *Indicators {
	return &Indicators{pool: pool, now: time.Now}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// ShortDeadline: submission window under 3 days.
func (ind *Indicators) ShortDeadline(ctx context.Context, tenderID int64) (Result, error) {
	var start, end *time.Time
	err := ind.pool.QueryRow(ctx,
		`SELECT start_date, end_date FROM trd_buy WHERE id = $1`, tenderID,
	).Scan(&start, &end)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: short deadline for tender %d", tenderID)
	}
	if start == nil || end == nil {
		return Result{}, nil
	}

	days := wholeDays(end.Sub(*start))
	return Result{
		Triggered: days < 3,
		Value:     value(days),
		Evidence: map[string]any{
			"start_date": start.Format(time.RFC3339),
			"end_date":   end.Format(time.RFC3339),
			"days":       days,
		},
	}, nil
}

// FewBids: one or two applications on the tender.
func (ind *Indicators) FewBids(ctx context.Context, tenderID int64) (Result, error) {
	var bids int64
	err := ind.pool.QueryRow(ctx,
		`SELECT count(*) FROM trd_app WHERE buy_id = $1`, tenderID,
	).Scan(&bids)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: few bids for tender %d", tenderID)
	}
	if bids == 0 {
		return Result{}, nil
	}
	return Result{
		Triggered: bids <= 2,
		Value:     value(float64(bids)),
		Evidence:  map[string]any{"bids": bids},
	}, nil
}

// LotSplitting: many small lots adding up to a large total.
func (ind *Indicators) LotSplitting(ctx context.Context, tenderID int64) (Result, error) {
	var count int64
	var avg, total float64
	err := ind.pool.QueryRow(ctx,
		`SELECT count(*), coalesce(avg(amount), 0), coalesce(sum(amount), 0)
		 FROM lots WHERE trd_buy_id = $1 AND NOT is_deleted`, tenderID,
	).Scan(&count, &avg, &total)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: lot splitting for tender %d", tenderID)
	}
	if count == 0 {
		return Result{}, nil
	}
	return Result{
		Triggered: count > 5 && avg < 5_000_000 && total > 10_000_000,
		Value:     value(float64(count)),
		Evidence: map[string]any{
			"lot_count":  count,
			"avg_amount": round1(avg),
			"total_sum":  round1(total),
		},
	}, nil
}

// RecurringWinner: the supplier takes more than 70% of the customer's
// contracts, with at least 5 contracts in the sample.
func (ind *Indicators) RecurringWinner(ctx context.Context, customerBIN, supplierBIIN string) (Result, error) {
	var won, total int64
	err := ind.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE supplier_biin = $2), count(*)
		 FROM contract WHERE customer_bin = $1 AND NOT is_deleted`,
		customerBIN, supplierBIIN,
	).Scan(&won, &total)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: recurring winner for customer %s", customerBIN)
	}
	if total < 5 {
		return Result{}, nil
	}

	share := float64(won) / float64(total)
	return Result{
		Triggered: share > 0.70,
		Value:     value(round1(share * 100)),
		Evidence: map[string]any{
			"won":             won,
			"total_contracts": total,
			"share_pct":       round1(share * 100),
		},
	}, nil
}

// SupplierConcentration: one customer accounts for more than 80% of the
// supplier's contracts, with at least 5 contracts total.
func (ind *Indicators) SupplierConcentration(ctx context.Context, supplierBIIN string) (Result, error) {
	var total int64
	err := ind.pool.QueryRow(ctx,
		`SELECT count(*) FROM contract WHERE supplier_biin = $1 AND NOT is_deleted`,
		supplierBIIN,
	).Scan(&total)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: supplier concentration for %s", supplierBIIN)
	}
	if total < 5 {
		return Result{}, nil
	}

	var topCustomer string
	var topCount int64
	err = ind.pool.QueryRow(ctx,
		`SELECT coalesce(customer_bin, ''), count(*)
		 FROM contract WHERE supplier_biin = $1 AND NOT is_deleted
		 GROUP BY customer_bin ORDER BY count(*) DESC LIMIT 1`,
		supplierBIIN,
	).Scan(&topCustomer, &topCount)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: supplier concentration for %s", supplierBIIN)
	}

	share := float64(topCount) / float64(total)
	return Result{
		Triggered: share > 0.80,
		Value:     value(round1(share * 100)),
		Evidence: map[string]any{
			"top_customer":    topCustomer,
			"top_count":       topCount,
			"total_contracts": total,
			"share_pct":       round1(share * 100),
		},
	}, nil
}

// AddendumValueIncrease: contract value grew more than 20% over its root.
func (ind *Indicators) AddendumValueIncrease(ctx context.Context, contractID int64) (Result, error) {
	var sum *float64
	var rootID *int64
	err := ind.pool.QueryRow(ctx,
		`SELECT contract_sum_wnds, root_id FROM contract WHERE id = $1`, contractID,
	).Scan(&sum, &rootID)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: addendum increase for contract %d", contractID)
	}
	if sum == nil || rootID == nil || *rootID == contractID {
		return Result{}, nil
	}

	var rootSum *float64
	err = ind.pool.QueryRow(ctx,
		`SELECT contract_sum_wnds FROM contract WHERE id = $1`, *rootID,
	).Scan(&rootSum)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: addendum increase root %d", *rootID)
	}
	if rootSum == nil || *rootSum <= 0 {
		return Result{}, nil
	}

	pct := (*sum - *rootSum) / *rootSum * 100
	return Result{
		Triggered: pct > 20,
		Value:     value(round1(pct)),
		Evidence: map[string]any{
			"contract_sum": *sum,
			"root_sum":     *rootSum,
			"increase_pct": round1(pct),
		},
	}, nil
}

// WinMinThenAddendum: the contract sits in an addendum chain and its first
// addendum follows within 30 days of signing.
func (ind *Indicators) WinMinThenAddendum(ctx context.Context, contractID int64) (Result, error) {
	var signDate *time.Time
	var rootID *int64
	err := ind.pool.QueryRow(ctx,
		`SELECT sign_date, root_id FROM contract WHERE id = $1`, contractID,
	).Scan(&signDate, &rootID)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: addendum timing for contract %d", contractID)
	}
	if rootID == nil {
		return Result{}, nil
	}

	var firstAddendum *time.Time
	err = ind.pool.QueryRow(ctx,
		`SELECT min(sign_date) FROM contract WHERE parent_id = $1 AND NOT is_deleted`,
		contractID,
	).Scan(&firstAddendum)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: addendum timing for contract %d", contractID)
	}
	if firstAddendum == nil || signDate == nil {
		return Result{}, nil
	}

	days := wholeDays(firstAddendum.Sub(*signDate))
	return Result{
		Triggered: days <= 30,
		Value:     value(days),
		Evidence: map[string]any{
			"sign_date":      signDate.Format(time.RFC3339),
			"first_addendum": firstAddendum.Format(time.RFC3339),
			"days":           days,
		},
	}, nil
}

// WeirdExecutionTime: planned execution under 7 days or over 2 years.
func (ind *Indicators) WeirdExecutionTime(ctx context.Context, contractID int64) (Result, error) {
	var sign, planExec *time.Time
	err := ind.pool.QueryRow(ctx,
		`SELECT sign_date, plan_exec_date FROM contract WHERE id = $1`, contractID,
	).Scan(&sign, &planExec)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: execution time for contract %d", contractID)
	}
	if sign == nil || planExec == nil {
		return Result{}, nil
	}

	days := wholeDays(planExec.Sub(*sign))
	return Result{
		Triggered: days < 7 || days > 730,
		Value:     value(days),
		Evidence: map[string]any{
			"sign_date":      sign.Format(time.RFC3339),
			"plan_exec_date": planExec.Format(time.RFC3339),
			"days":           days,
		},
	}, nil
}

// RnuFlag: supplier has an active debarment entry.
func (ind *Indicators) RnuFlag(ctx context.Context, supplierBIIN string) (Result, error) {
	var active bool
	err := ind.pool.QueryRow(ctx,
		`SELECT exists(SELECT 1 FROM rnu WHERE supplier_biin = $1 AND is_active)`,
		supplierBIIN,
	).Scan(&active)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: rnu flag for %s", supplierBIIN)
	}

	v := 0.0
	if active {
		v = 1.0
	}
	return Result{
		Triggered: active,
		Value:     value(v),
		Evidence:  map[string]any{"active_debarment": active},
	}, nil
}

// DumpingFlag: the lot itself is marked as won at a dumping price.
func (ind *Indicators) DumpingFlag(ctx context.Context, lotID int64) (Result, error) {
	var flag *bool
	err := ind.pool.QueryRow(ctx,
		`SELECT dumping_flag FROM lots WHERE id = $1`, lotID,
	).Scan(&flag)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: dumping flag for lot %d", lotID)
	}
	if flag == nil {
		return Result{}, nil
	}

	v := 0.0
	if *flag {
		v = 1.0
	}
	return Result{
		Triggered: *flag,
		Value:     value(v),
		Evidence:  map[string]any{"dumping_flag": *flag},
	}, nil
}

// NewCompanyBigContract: supplier registered less than a year ago holding a
// contract worth more than 10M.
func (ind *Indicators) NewCompanyBigContract(ctx context.Context, contractID int64) (Result, error) {
	var supplierBIIN *string
	var sum float64
	err := ind.pool.QueryRow(ctx,
		`SELECT supplier_biin, coalesce(contract_sum_wnds, 0) FROM contract WHERE id = $1`,
		contractID,
	).Scan(&supplierBIIN, &sum)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: new company for contract %d", contractID)
	}
	if supplierBIIN == nil {
		return Result{}, nil
	}

	var regdate, crdate *time.Time
	err = ind.pool.QueryRow(ctx,
		`SELECT regdate, crdate FROM subject WHERE bin = $1 OR iin = $1 LIMIT 1`,
		*supplierBIIN,
	).Scan(&regdate, &crdate)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: new company subject %s", *supplierBIIN)
	}
	founded := regdate
	if founded == nil {
		founded = crdate
	}
	if founded == nil {
		return Result{}, nil
	}

	ageDays := wholeDays(ind.now().UTC().Sub(*founded))
	return Result{
		Triggered: ageDays < 365 && sum > 10_000_000,
		Value:     value(ageDays),
		Evidence: map[string]any{
			"company_age_days": ageDays,
			"contract_sum":     sum,
		},
	}, nil
}

// PaymentWithoutAct: treasury money moved but no completion act exists.
func (ind *Indicators) PaymentWithoutAct(ctx context.Context, contractID int64) (Result, error) {
	var paid float64
	var payments int64
	err := ind.pool.QueryRow(ctx,
		`SELECT coalesce(sum(pay_amount), 0), count(*) FROM treasury_pay WHERE contract_id = $1`,
		contractID,
	).Scan(&paid, &payments)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: payments for contract %d", contractID)
	}
	if payments == 0 || paid <= 0 {
		return Result{}, nil
	}

	var acts int64
	err = ind.pool.QueryRow(ctx,
		`SELECT count(*) FROM acts WHERE contract_id = $1`, contractID,
	).Scan(&acts)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: acts for contract %d", contractID)
	}

	return Result{
		Triggered: acts == 0,
		Value:     value(round1(paid)),
		Evidence: map[string]any{
			"paid_sum": round1(paid),
			"payments": payments,
			"acts":     acts,
		},
	}, nil
}

// HighWinRateFewBids: supplier wins over 90% of at least 5 tenders where
// average competition is under 3 bids.
func (ind *Indicators) HighWinRateFewBids(ctx context.Context, supplierBIIN string) (Result, error) {
	var participated int64
	err := ind.pool.QueryRow(ctx,
		`SELECT count(DISTINCT buy_id) FROM trd_app WHERE supplier_biin = $1`,
		supplierBIIN,
	).Scan(&participated)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: win rate participation for %s", supplierBIIN)
	}
	if participated < 5 {
		return Result{}, nil
	}

	var wins int64
	err = ind.pool.QueryRow(ctx,
		`SELECT count(DISTINCT trd_buy_id) FROM contract
		 WHERE supplier_biin = $1 AND NOT is_deleted AND trd_buy_id IS NOT NULL`,
		supplierBIIN,
	).Scan(&wins)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: win rate wins for %s", supplierBIIN)
	}

	var avgBids float64
	err = ind.pool.QueryRow(ctx,
		`SELECT coalesce(avg(cnt), 0) FROM (
		   SELECT count(*) AS cnt FROM trd_app
		   WHERE buy_id IN (SELECT DISTINCT buy_id FROM trd_app WHERE supplier_biin = $1)
		   GROUP BY buy_id
		 ) bids`,
		supplierBIIN,
	).Scan(&avgBids)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: win rate competition for %s", supplierBIIN)
	}

	winRate := float64(wins) / float64(participated)
	return Result{
		Triggered: winRate > 0.90 && avgBids < 3,
		Value:     value(round1(winRate * 100)),
		Evidence: map[string]any{
			"participated": participated,
			"wins":         wins,
			"win_rate_pct": round1(winRate * 100),
			"avg_bids":     round1(avgBids),
		},
	}, nil
}

// CarouselPattern: suppliers rotating wins for one customer. Scans the
// customer's first 50 contracts by sign date and counts rotations: each time
// an already-seen supplier reappears the seen-set collapses to just that
// supplier and the rotation counter increments.
func (ind *Indicators) CarouselPattern(ctx context.Context, customerBIN string) (Result, error) {
	rows, err := ind.pool.Query(ctx,
		`SELECT supplier_biin FROM contract
		 WHERE customer_bin = $1 AND NOT is_deleted AND supplier_biin IS NOT NULL
		 ORDER BY sign_date LIMIT 50`,
		customerBIN,
	)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: carousel for customer %s", customerBIN)
	}
	defer rows.Close()

	var suppliers []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return Result{}, eris.Wrap(err, "risk: carousel scan")
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return Result{}, eris.Wrap(err, "risk: carousel rows")
	}
	if len(suppliers) < 6 {
		return Result{}, nil
	}

	distinct := make(map[string]bool)
	seen := make(map[string]bool)
	rotations := 0
	for _, s := range suppliers {
		distinct[s] = true
		if seen[s] {
			rotations++
			seen = map[string]bool{s: true}
		} else {
			seen[s] = true
		}
	}

	return Result{
		Triggered: rotations >= 2 && len(distinct) >= 2,
		Value:     value(float64(rotations)),
		Evidence: map[string]any{
			"rotations":          rotations,
			"distinct_suppliers": len(distinct),
			"sample_size":        len(suppliers),
		},
	}, nil
}

// LastMinuteChanges: tender modified within 24 hours of its deadline.
func (ind *Indicators) LastMinuteChanges(ctx context.Context, tenderID int64) (Result, error) {
	var end, updated *time.Time
	err := ind.pool.QueryRow(ctx,
		`SELECT end_date, last_update_at FROM trd_buy WHERE id = $1`, tenderID,
	).Scan(&end, &updated)
	if err != nil {
		if isNoRows(err) {
			return Result{}, nil
		}
		return Result{}, eris.Wrapf(err, "risk: last minute changes for tender %d", tenderID)
	}
	if end == nil || updated == nil {
		return Result{}, nil
	}

	hours := end.Sub(*updated).Hours()
	return Result{
		Triggered: hours > 0 && hours < 24,
		Value:     value(round1(hours)),
		Evidence: map[string]any{
			"end_date":       end.Format(time.RFC3339),
			"last_update_at": updated.Format(time.RFC3339),
			"hours_before":   round1(hours),
		},
	}, nil
}

// CommonRequisites: two or more distinct bidders on the tender share a phone
// or email in the subject registry.
func (ind *Indicators) CommonRequisites(ctx context.Context, tenderID int64) (Result, error) {
	var shared int64
	err := ind.pool.QueryRow(ctx,
		`SELECT count(*) FROM (
		   SELECT s.phone AS requisite FROM trd_app a
		     JOIN subject s ON s.bin = a.supplier_biin OR s.iin = a.supplier_biin
		   WHERE a.buy_id = $1 AND s.phone IS NOT NULL AND s.phone <> ''
		   GROUP BY s.phone HAVING count(DISTINCT a.supplier_biin) >= 2
		   UNION ALL
		   SELECT s.email FROM trd_app a
		     JOIN subject s ON s.bin = a.supplier_biin OR s.iin = a.supplier_biin
		   WHERE a.buy_id = $1 AND s.email IS NOT NULL AND s.email <> ''
		   GROUP BY s.email HAVING count(DISTINCT a.supplier_biin) >= 2
		 ) shared`,
		tenderID,
	).Scan(&shared)
	if err != nil {
		return Result{}, eris.Wrapf(err, "risk: common requisites for tender %d", tenderID)
	}
	if shared == 0 {
		return Result{}, nil
	}
	return Result{
		Triggered: true,
		Value:     value(float64(shared)),
		Evidence:  map[string]any{"shared_requisites": shared},
	}, nil
}

package risk

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockBank(t *testing.T) (pgxmock.PgxPoolIface, *Indicators) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewIndicators(mock)
}

func ts(s string) *time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestShortDeadline(t *testing.T) {
	mock, bank := newMockBank(t)

	// One-day window: triggered.
	mock.ExpectQuery(`SELECT start_date, end_date FROM trd_buy`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"start_date", "end_date"}).
			AddRow(ts("2025-03-01 10:00:00"), ts("2025-03-02 10:00:00")))
	res, err := bank.ShortDeadline(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 1.0, *res.Value)

	// Exactly three days: not triggered.
	mock.ExpectQuery(`SELECT start_date, end_date FROM trd_buy`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"start_date", "end_date"}).
			AddRow(ts("2025-03-01 10:00:00"), ts("2025-03-04 10:00:00")))
	res, err = bank.ShortDeadline(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	// Missing dates: silent non-result.
	mock.ExpectQuery(`SELECT start_date, end_date FROM trd_buy`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"start_date", "end_date"}).
			AddRow(nil, ts("2025-03-04 10:00:00")))
	res, err = bank.ShortDeadline(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Nil(t, res.Value)

	// Absent tender: silent non-result.
	mock.ExpectQuery(`SELECT start_date, end_date FROM trd_buy`).
		WithArgs(int64(4)).
		WillReturnError(pgx.ErrNoRows)
	res, err = bank.ShortDeadline(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	// Partial days truncate: a 3.5-day window counts as 3 whole days.
	mock.ExpectQuery(`SELECT start_date, end_date FROM trd_buy`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"start_date", "end_date"}).
			AddRow(ts("2025-03-01 10:00:00"), ts("2025-03-04 22:00:00")))
	res, err = bank.ShortDeadline(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, 3.0, *res.Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFewBids(t *testing.T) {
	mock, bank := newMockBank(t)

	for _, tc := range []struct {
		bids      int64
		triggered bool
	}{
		{0, false}, {1, true}, {2, true}, {3, false},
	} {
		mock.ExpectQuery(`SELECT count\(\*\) FROM trd_app`).
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(tc.bids))
		res, err := bank.FewBids(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, tc.triggered, res.Triggered, "bids=%d", tc.bids)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLotSplitting(t *testing.T) {
	mock, bank := newMockBank(t)

	// 6 lots averaging 2M totaling 12M: triggered.
	mock.ExpectQuery(`SELECT count\(\*\), coalesce\(avg\(amount\), 0\)`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"count", "avg", "sum"}).
			AddRow(int64(6), 2_000_000.0, 12_000_000.0))
	res, err := bank.LotSplitting(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 6.0, *res.Value)

	// 5 lots: count threshold not crossed.
	mock.ExpectQuery(`SELECT count\(\*\), coalesce\(avg\(amount\), 0\)`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"count", "avg", "sum"}).
			AddRow(int64(5), 2_500_000.0, 12_500_000.0))
	res, err = bank.LotSplitting(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringWinner(t *testing.T) {
	mock, bank := newMockBank(t)

	// 5 of 6 contracts: 83.3%, triggered.
	mock.ExpectQuery(`SELECT count\(\*\) FILTER`).
		WithArgs("111", "222").
		WillReturnRows(pgxmock.NewRows([]string{"won", "total"}).AddRow(int64(5), int64(6)))
	res, err := bank.RecurringWinner(context.Background(), "111", "222")
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 83.3, *res.Value)

	// Sample too small: silent non-result.
	mock.ExpectQuery(`SELECT count\(\*\) FILTER`).
		WithArgs("111", "222").
		WillReturnRows(pgxmock.NewRows([]string{"won", "total"}).AddRow(int64(4), int64(4)))
	res, err = bank.RecurringWinner(context.Background(), "111", "222")
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Nil(t, res.Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplierConcentration(t *testing.T) {
	mock, bank := newMockBank(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM contract WHERE supplier_biin`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(10)))
	mock.ExpectQuery(`GROUP BY customer_bin ORDER BY count\(\*\) DESC LIMIT 1`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"customer_bin", "count"}).AddRow("111", int64(9)))

	res, err := bank.SupplierConcentration(context.Background(), "222")
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 90.0, *res.Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddendumValueIncrease(t *testing.T) {
	mock, bank := newMockBank(t)

	// 25% over the root contract: triggered.
	sum, rootSum := 1_250_000.0, 1_000_000.0
	rootID := int64(10)
	mock.ExpectQuery(`SELECT contract_sum_wnds, root_id FROM contract`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"contract_sum_wnds", "root_id"}).AddRow(&sum, &rootID))
	mock.ExpectQuery(`SELECT contract_sum_wnds FROM contract`).
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"contract_sum_wnds"}).AddRow(&rootSum))

	res, err := bank.AddendumValueIncrease(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 25.0, *res.Value)

	// Contract is its own root: nothing to compare.
	selfRoot := int64(42)
	mock.ExpectQuery(`SELECT contract_sum_wnds, root_id FROM contract`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"contract_sum_wnds", "root_id"}).AddRow(&sum, &selfRoot))
	res, err = bank.AddendumValueIncrease(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWinMinThenAddendum(t *testing.T) {
	mock, bank := newMockBank(t)

	rootID := int64(1)

	// Addendum after 10 days: triggered.
	mock.ExpectQuery(`SELECT sign_date, root_id FROM contract`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"sign_date", "root_id"}).
			AddRow(ts("2025-01-01 00:00:00"), &rootID))
	mock.ExpectQuery(`SELECT min\(sign_date\) FROM contract WHERE parent_id`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"min"}).AddRow(ts("2025-01-11 00:00:00")))
	res, err := bank.WinMinThenAddendum(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 10.0, *res.Value)

	// No addenda at all.
	mock.ExpectQuery(`SELECT sign_date, root_id FROM contract`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"sign_date", "root_id"}).
			AddRow(ts("2025-01-01 00:00:00"), &rootID))
	mock.ExpectQuery(`SELECT min\(sign_date\) FROM contract WHERE parent_id`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"min"}).AddRow(nil))
	res, err = bank.WinMinThenAddendum(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	// Outside any addendum chain (no root_id): the check does not apply
	// and the addenda query is never issued.
	mock.ExpectQuery(`SELECT sign_date, root_id FROM contract`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"sign_date", "root_id"}).
			AddRow(ts("2025-01-01 00:00:00"), nil))
	res, err = bank.WinMinThenAddendum(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Nil(t, res.Value)

	// Out-of-order sign dates still count as an immediate addendum.
	mock.ExpectQuery(`SELECT sign_date, root_id FROM contract`).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"sign_date", "root_id"}).
			AddRow(ts("2025-01-10 00:00:00"), &rootID))
	mock.ExpectQuery(`SELECT min\(sign_date\) FROM contract WHERE parent_id`).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"min"}).AddRow(ts("2025-01-05 00:00:00")))
	res, err = bank.WinMinThenAddendum(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, -5.0, *res.Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWeirdExecutionTime(t *testing.T) {
	mock, bank := newMockBank(t)

	for _, tc := range []struct {
		planExec  string
		triggered bool
	}{
		{"2025-01-03 00:00:00", true},  // 2 days, too short
		{"2025-02-01 00:00:00", false}, // a month, fine
		{"2027-06-01 00:00:00", true},  // >730 days
		{"2027-01-01 12:00:00", false}, // 730 whole days, the extra half day is cut
	} {
		mock.ExpectQuery(`SELECT sign_date, plan_exec_date FROM contract`).
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"sign_date", "plan_exec_date"}).
				AddRow(ts("2025-01-01 00:00:00"), ts(tc.planExec)))
		res, err := bank.WeirdExecutionTime(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, tc.triggered, res.Triggered, tc.planExec)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRnuFlag(t *testing.T) {
	mock, bank := newMockBank(t)

	mock.ExpectQuery(`SELECT exists`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	res, err := bank.RnuFlag(context.Background(), "222")
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 1.0, *res.Value)

	mock.ExpectQuery(`SELECT exists`).
		WithArgs("333").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	res, err = bank.RnuFlag(context.Background(), "333")
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, 0.0, *res.Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCompanyBigContract(t *testing.T) {
	mock, bank := newMockBank(t)
	bank.now = func() time.Time { return *ts("2025-06-01 00:00:00") }

	// Company age is measured against the present, not the sign date.
	supplier := "222"
	mock.ExpectQuery(`SELECT supplier_biin, coalesce\(contract_sum_wnds, 0\) FROM contract`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"supplier_biin", "contract_sum_wnds"}).
			AddRow(&supplier, 15_000_000.0))
	mock.ExpectQuery(`SELECT regdate, crdate FROM subject`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"regdate", "crdate"}).
			AddRow(ts("2025-01-01 00:00:00"), nil))

	res, err := bank.NewCompanyBigContract(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 151.0, *res.Value)

	// An old company with the same contract sum stays quiet.
	mock.ExpectQuery(`SELECT supplier_biin, coalesce\(contract_sum_wnds, 0\) FROM contract`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"supplier_biin", "contract_sum_wnds"}).
			AddRow(&supplier, 15_000_000.0))
	mock.ExpectQuery(`SELECT regdate, crdate FROM subject`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"regdate", "crdate"}).
			AddRow(ts("2020-01-01 00:00:00"), nil))

	res, err = bank.NewCompanyBigContract(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentWithoutAct(t *testing.T) {
	mock, bank := newMockBank(t)

	// Payments but no acts: triggered.
	mock.ExpectQuery(`FROM treasury_pay`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"sum", "count"}).AddRow(500_000.0, int64(2)))
	mock.ExpectQuery(`SELECT count\(\*\) FROM acts`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	res, err := bank.PaymentWithoutAct(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 500_000.0, *res.Value)

	// No payments: silent non-result, the acts table is never touched.
	mock.ExpectQuery(`FROM treasury_pay`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"sum", "count"}).AddRow(0.0, int64(0)))
	res, err = bank.PaymentWithoutAct(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHighWinRateFewBids(t *testing.T) {
	mock, bank := newMockBank(t)

	mock.ExpectQuery(`SELECT count\(DISTINCT buy_id\) FROM trd_app`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(10)))
	mock.ExpectQuery(`SELECT count\(DISTINCT trd_buy_id\) FROM contract`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(10)))
	mock.ExpectQuery(`SELECT coalesce\(avg\(cnt\), 0\)`).
		WithArgs("222").
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(1.5))

	res, err := bank.HighWinRateFewBids(context.Background(), "222")
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 100.0, *res.Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCarouselPattern(t *testing.T) {
	mock, bank := newMockBank(t)

	// A,B,A,B,A,B: two full rotations across two suppliers.
	rows := pgxmock.NewRows([]string{"supplier_biin"})
	for _, s := range []string{"A", "B", "A", "B", "A", "B"} {
		rows.AddRow(s)
	}
	mock.ExpectQuery(`SELECT supplier_biin FROM contract`).
		WithArgs("111").
		WillReturnRows(rows)
	res, err := bank.CarouselPattern(context.Background(), "111")
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 2.0, *res.Value)

	// Sample below 6 contracts: silent non-result.
	mock.ExpectQuery(`SELECT supplier_biin FROM contract`).
		WithArgs("111").
		WillReturnRows(pgxmock.NewRows([]string{"supplier_biin"}).
			AddRow("A").AddRow("B").AddRow("A"))
	res, err = bank.CarouselPattern(context.Background(), "111")
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	// Single supplier repeating rotates but lacks distinct suppliers.
	rows = pgxmock.NewRows([]string{"supplier_biin"})
	for i := 0; i < 6; i++ {
		rows.AddRow("A")
	}
	mock.ExpectQuery(`SELECT supplier_biin FROM contract`).
		WithArgs("111").
		WillReturnRows(rows)
	res, err = bank.CarouselPattern(context.Background(), "111")
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastMinuteChanges(t *testing.T) {
	mock, bank := newMockBank(t)

	// Updated 5 hours before the deadline: triggered.
	mock.ExpectQuery(`SELECT end_date, last_update_at FROM trd_buy`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"end_date", "last_update_at"}).
			AddRow(ts("2025-03-02 12:00:00"), ts("2025-03-02 07:00:00")))
	res, err := bank.LastMinuteChanges(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 5.0, *res.Value)

	// Updated after the deadline: not a pre-deadline change.
	mock.ExpectQuery(`SELECT end_date, last_update_at FROM trd_buy`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"end_date", "last_update_at"}).
			AddRow(ts("2025-03-02 12:00:00"), ts("2025-03-02 13:00:00")))
	res, err = bank.LastMinuteChanges(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommonRequisites(t *testing.T) {
	mock, bank := newMockBank(t)

	// Bidders are matched through either their bin or their iin.
	mock.ExpectQuery(`JOIN subject s ON s\.bin = a\.supplier_biin OR s\.iin = a\.supplier_biin`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	res, err := bank.CommonRequisites(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 2.0, *res.Value)

	mock.ExpectQuery(`SELECT count\(\*\) FROM \(`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	res, err = bank.CommonRequisites(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Nil(t, res.Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDumpingFlag(t *testing.T) {
	mock, bank := newMockBank(t)

	flag := true
	mock.ExpectQuery(`SELECT dumping_flag FROM lots`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"dumping_flag"}).AddRow(&flag))
	res, err := bank.DumpingFlag(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Triggered)

	mock.ExpectQuery(`SELECT dumping_flag FROM lots`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"dumping_flag"}).AddRow(nil))
	res, err = bank.DumpingFlag(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Nil(t, res.Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

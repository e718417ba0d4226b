package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tender-radar/radar-cli/internal/ows"
)

func TestIncrementalRun_AppliesJournal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	client := &fakeClient{
		journal: []ows.JournalEntry{
			{EntityType: "lots", EntityID: "7", Action: "U"},
			{EntityType: "trd_buy", EntityID: "5", Action: "D"},
			{EntityType: "plan_point", EntityID: "1", Action: "U"}, // unknown kind
			{EntityType: "contract", EntityID: "9", Action: "U"},   // gone upstream
			{EntityType: "subject", EntityID: "3", Action: "U"},    // fetch fails
		},
		items: map[string]map[string]any{
			"/v3/lots/7": {"id": float64(7), "amount": 5000.0},
		},
		itemErr: map[string]error{
			"/v3/subject/biin/3": eris.New("timeout"),
		},
	}

	mock.ExpectQuery(`INSERT INTO etl_runs`).
		WithArgs("incremental", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(20)))

	// lots update: re-fetch then narrow upsert.
	expectBulkUpsert(mock, "lots", lotsColumns, 1)
	// trd_buy delete: soft delete in place.
	mock.ExpectExec(`UPDATE trd_buy SET is_deleted = true, last_update_at = now\(\)`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// journal cursor advances to the window end.
	mock.ExpectExec(`INSERT INTO etl_cursors`).
		WithArgs("journal", "2025-06-02").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE etl_runs\s+SET status = 'success'`).
		WithArgs(pgxmock.AnyArg(), int64(20)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	window, err := ParseWindow("2025-06-01", "2025-06-02")
	require.NoError(t, err)

	inc := NewIncremental(mock, client, window)
	counts, err := inc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), counts.Processed)
	assert.Equal(t, int64(1), counts.Updated)
	assert.Equal(t, int64(1), counts.Deleted)
	assert.Equal(t, int64(1), counts.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementalRun_JournalFailureFailsRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	client := &fakeClient{journalErr: eris.New("journal unavailable")}

	mock.ExpectQuery(`INSERT INTO etl_runs`).
		WithArgs("incremental", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectExec(`UPDATE etl_runs\s+SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), int64(21)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	window, err := ParseWindow("2025-06-01", "2025-06-02")
	require.NoError(t, err)

	inc := NewIncremental(mock, client, window)
	_, err = inc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal unavailable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncremental_DeleteOnNonSoftDeletableIsSkipped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	inc := NewIncremental(mock, &fakeClient{}, DefaultSyncWindow(time.Now()))

	var counts SyncCounts
	err = inc.applyEntry(context.Background(), KindRnu, ows.JournalEntry{
		EntityType: "rnu", EntityID: "4", Action: "D",
	}, &counts)
	require.NoError(t, err)
	assert.Zero(t, counts.Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/tender-radar/radar-cli/internal/db"
)

// Cursor is a persisted pagination position for one source.
type Cursor struct {
	SourceName  string    `json:"source_name"`
	CursorValue string    `json:"cursor_value"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CursorStore persists per-source pagination cursors in etl_cursors, keyed by
// source name. A stored cursor is whatever the source hands back to resume:
// a full page URL for REST sources, a numeric lastId for GraphQL, a date for
// the journal.
type CursorStore struct {
	pool db.Pool
}

// NewCursorStore creates a CursorStore backed by the given connection pool.
func NewCursorStore(pool db.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Get returns the stored cursor value for a source, or "" if none exists.
func (c *CursorStore) Get(ctx context.Context, source string) (string, error) {
	var value string
	err := c.pool.QueryRow(ctx,
		`SELECT cursor_value FROM etl_cursors WHERE source_name = $1`,
		source,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "cursors: get %s", source)
	}
	return value, nil
}

// Save upserts the cursor value for a source.
func (c *CursorStore) Save(ctx context.Context, source, value string) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO etl_cursors (source_name, cursor_value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (source_name) DO UPDATE
		 SET cursor_value = EXCLUDED.cursor_value, updated_at = now()`,
		source, value,
	)
	if err != nil {
		return eris.Wrapf(err, "cursors: save %s", source)
	}
	return nil
}

// Delete removes the cursor for a source. Missing cursors are not an error.
func (c *CursorStore) Delete(ctx context.Context, source string) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM etl_cursors WHERE source_name = $1`, source,
	)
	if err != nil {
		return eris.Wrapf(err, "cursors: delete %s", source)
	}
	return nil
}

// List returns all stored cursors ordered by source name.
func (c *CursorStore) List(ctx context.Context) ([]Cursor, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT source_name, cursor_value, updated_at
		 FROM etl_cursors ORDER BY source_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cursors: list")
	}
	defer rows.Close()

	var cursors []Cursor
	for rows.Next() {
		var cur Cursor
		if err := rows.Scan(&cur.SourceName, &cur.CursorValue, &cur.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "cursors: scan")
		}
		cursors = append(cursors, cur)
	}
	return cursors, rows.Err()
}

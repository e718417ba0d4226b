package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tender-radar/radar-cli/internal/db"
)

// Run represents a row in etl_runs.
type Run struct {
	ID         int64          `json:"id"`
	RunType    string         `json:"run_type"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
}

// RunLog records ingestion runs in etl_runs. Every orchestrator run is
// bracketed by Start and exactly one of Complete or Fail.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a run and returns its ID.
func (r *RunLog) Start(ctx context.Context, runType string, summary map[string]any) (int64, error) {
	summaryJSON, err := marshalSummary(summary)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO etl_runs (run_type, status, started_at, summary)
		 VALUES ($1, 'running', now(), $2) RETURNING id`,
		runType, summaryJSON,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s run", runType)
	}
	return id, nil
}

// Complete marks a run as successful with its final summary.
func (r *RunLog) Complete(ctx context.Context, runID int64, summary map[string]any) error {
	summaryJSON, err := marshalSummary(summary)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE etl_runs
		 SET status = 'success', finished_at = now(), summary = $1
		 WHERE id = $2`,
		summaryJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return nil
}

// Fail marks a run as failed with an error message.
func (r *RunLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	summaryJSON, err := marshalSummary(map[string]any{"error": errMsg})
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE etl_runs
		 SET status = 'failed', finished_at = now(), summary = $1
		 WHERE id = $2`,
		summaryJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (r *RunLog) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, run_type, status, started_at, finished_at, summary
		 FROM etl_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var summaryJSON []byte
		if err := rows.Scan(&run.ID, &run.RunType, &run.Status, &run.StartedAt, &run.FinishedAt, &summaryJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if summaryJSON != nil {
			_ = json.Unmarshal(summaryJSON, &run.Summary)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func marshalSummary(summary map[string]any) ([]byte, error) {
	if summary == nil {
		return nil, nil
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal summary")
	}
	return b, nil
}

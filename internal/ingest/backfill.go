package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tender-radar/radar-cli/internal/db"
	"github.com/tender-radar/radar-cli/internal/ows"
)

// Client is the slice of the OWS client used by the orchestrators.
type Client interface {
	FetchPage(ctx context.Context, pageRef string) (*ows.Page, error)
	FetchByID(ctx context.Context, endpoint, id string) (map[string]any, error)
	FetchJournal(ctx context.Context, dateFrom, dateTo string) ([]ows.JournalEntry, error)
	FetchGraphQLPage(ctx context.Context, query string, variables map[string]any, dataKey string, after int64, limit int) (*ows.GraphQLPage, error)
}

// Window is the inclusive date range a backfill covers.
type Window struct {
	From time.Time
	To   time.Time
}

// ParseWindow parses "2006-01-02" bounds into a Window.
func ParseWindow(from, to string) (Window, error) {
	f, err := time.Parse("2006-01-02", from)
	if err != nil {
		return Window{}, eris.Wrapf(err, "ingest: parse window start %q", from)
	}
	t, err := time.Parse("2006-01-02", to)
	if err != nil {
		return Window{}, eris.Wrapf(err, "ingest: parse window end %q", to)
	}
	if t.Before(f) {
		return Window{}, eris.Errorf("ingest: window end %s before start %s", to, from)
	}
	return Window{From: f, To: t}, nil
}

// contains reports whether ts falls inside the window (whole end day included).
func (w Window) contains(ts time.Time) bool {
	return !ts.Before(w.From) && ts.Before(w.To.AddDate(0, 0, 1))
}

// batch is one table's worth of rows extracted from a page.
type batch struct {
	cfg  db.UpsertConfig
	rows [][]any
}

// restSource defines one cursor-checkpointed REST backfill source.
type restSource struct {
	name     string
	endpoint string
	build    func(items []map[string]any, w Window) []batch
}

// backfillSources lists the REST sources in dependency order: parents before
// children so foreign references resolve on first pass.
var backfillSources = []restSource{
	{
		name:     "trd_buy",
		endpoint: "/v3/trd-buy",
		build: func(items []map[string]any, w Window) []batch {
			var rows [][]any
			for _, item := range items {
				// Backfill only tenders published inside the window.
				if pub, ok := parseTimeValue(item["publish_date"]); !ok || !w.contains(pub) {
					continue
				}
				rows = append(rows, trdBuyRow(item))
			}
			return []batch{{cfg: backfillUpsert[KindTrdBuy], rows: rows}}
		},
	},
	{
		name:     "lots",
		endpoint: "/v3/lots",
		build: func(items []map[string]any, _ Window) []batch {
			rows := make([][]any, 0, len(items))
			for _, item := range items {
				rows = append(rows, lotRow(item))
			}
			return []batch{{cfg: backfillUpsert[KindLots], rows: rows}}
		},
	},
	{
		name:     "trd_app",
		endpoint: "/v3/trd-app",
		build: func(items []map[string]any, _ Window) []batch {
			appRows := make([][]any, 0, len(items))
			var lotBidRows [][]any
			for _, item := range items {
				appRows = append(appRows, trdAppRow(item))
				lotBidRows = append(lotBidRows, appLotRows(item)...)
			}
			return []batch{
				{cfg: backfillUpsert[KindTrdApp], rows: appRows},
				{cfg: trdAppLotsUpsert, rows: lotBidRows},
			}
		},
	},
	{
		name:     "contract",
		endpoint: "/v3/contract",
		build: func(items []map[string]any, w Window) []batch {
			var rows [][]any
			for _, item := range items {
				// Contracts filter by sign date; unsigned drafts by creation date.
				ref, ok := parseTimeValue(item["sign_date"])
				if !ok {
					ref, ok = parseTimeValue(item["crdate"])
				}
				if !ok || !w.contains(ref) {
					continue
				}
				rows = append(rows, contractRow(item))
			}
			return []batch{{cfg: backfillUpsert[KindContract], rows: rows}}
		},
	},
	{
		name:     "rnu",
		endpoint: "/v3/rnu",
		build: func(items []map[string]any, _ Window) []batch {
			rows := make([][]any, 0, len(items))
			for _, item := range items {
				rows = append(rows, rnuRow(item))
			}
			return []batch{{cfg: backfillUpsert[KindRnu], rows: rows}}
		},
	},
	{
		name:     "treasury_pay",
		endpoint: "/v3/plan-point/treasury",
		build: func(items []map[string]any, _ Window) []batch {
			rows := make([][]any, 0, len(items))
			for _, item := range items {
				rows = append(rows, treasuryPayRow(item))
			}
			return []batch{{cfg: treasuryPayUpsert, rows: rows}}
		},
	},
}

const subjectsQuery = `query($after: Int, $limit: Int) {
  Subjects(after: $after, limit: $limit) {
    pid bin iin name_ru name_kz full_name_ru regdate crdate year type_supplier
    mark_small_employer mark_resident oked_list krp_code kse_code ref_kopf_code
    qvazi customer supplier organizer is_single_org email phone website
    country_code system_id last_update_date
  }
}`

// Backfiller loads historical data source by source, checkpointing the page
// cursor after every committed page so an interrupted run resumes where it
// stopped instead of starting over.
type Backfiller struct {
	pool         db.Pool
	client       Client
	cursors      *CursorStore
	runs         *RunLog
	window       Window
	withSubjects bool
	pageSize     int

	log *zap.Logger
}

// NewBackfiller assembles a backfill orchestrator.
func NewBackfiller(pool db.Pool, client Client, window Window, withSubjects bool, pageSize int) *Backfiller {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Backfiller{
		pool:         pool,
		client:       client,
		cursors:      NewCursorStore(pool),
		runs:         NewRunLog(pool),
		window:       window,
		withSubjects: withSubjects,
		pageSize:     pageSize,
		log:          zap.L().With(zap.String("component", "ingest.backfill")),
	}
}

// Run executes the backfill across all sources and returns per-source upsert
// counts. The run record is finalized before any error propagates.
func (b *Backfiller) Run(ctx context.Context) (map[string]int64, error) {
	runID, err := b.runs.Start(ctx, "backfill", map[string]any{
		"date_from": b.window.From.Format("2006-01-02"),
		"date_to":   b.window.To.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, src := range backfillSources {
		n, err := b.runSource(ctx, src)
		counts[src.name] = n
		if err != nil {
			b.fail(ctx, runID, err)
			return counts, eris.Wrapf(err, "ingest: backfill source %s", src.name)
		}
	}

	if b.withSubjects {
		n, err := b.runSubjects(ctx)
		counts["subject"] = n
		if err != nil {
			b.fail(ctx, runID, err)
			return counts, eris.Wrap(err, "ingest: backfill subjects")
		}
	}

	summary := make(map[string]any, len(counts))
	for name, n := range counts {
		summary[name] = n
	}
	if err := b.runs.Complete(ctx, runID, summary); err != nil {
		return counts, err
	}
	return counts, nil
}

// runSource pages one REST source to completion. The cursor is saved only
// after the page's rows committed, so the checkpoint never runs ahead of the
// data.
func (b *Backfiller) runSource(ctx context.Context, src restSource) (int64, error) {
	cursorKey := "backfill_" + src.name

	pageRef, err := b.cursors.Get(ctx, cursorKey)
	if err != nil {
		return 0, err
	}
	if pageRef == "" {
		pageRef = src.endpoint
	} else {
		b.log.Info("resuming from checkpoint", zap.String("source", src.name))
	}

	var total int64
	for pageRef != "" {
		page, err := b.client.FetchPage(ctx, pageRef)
		if err != nil {
			return total, err
		}

		for _, bt := range src.build(page.Items, b.window) {
			n, err := db.BulkUpsert(ctx, b.pool, bt.cfg, bt.rows)
			if err != nil {
				return total, err
			}
			total += n
		}

		if page.NextCursor != "" {
			if err := b.cursors.Save(ctx, cursorKey, page.NextCursor); err != nil {
				return total, err
			}
		}
		pageRef = page.NextCursor
	}

	b.log.Info("source backfilled", zap.String("source", src.name), zap.Int64("rows", total))
	return total, nil
}

// runSubjects backfills the subject registry through the GraphQL endpoint,
// checkpointing the numeric lastId cursor.
func (b *Backfiller) runSubjects(ctx context.Context) (int64, error) {
	const cursorKey = "backfill_subject"

	var after int64
	if stored, err := b.cursors.Get(ctx, cursorKey); err != nil {
		return 0, err
	} else if stored != "" {
		after, err = strconv.ParseInt(stored, 10, 64)
		if err != nil {
			return 0, eris.Wrapf(err, "ingest: bad subject cursor %q", stored)
		}
	}

	var total int64
	for {
		page, err := b.client.FetchGraphQLPage(ctx, subjectsQuery, nil, "Subjects", after, b.pageSize)
		if err != nil {
			return total, err
		}
		if len(page.Items) == 0 {
			break
		}

		rows := make([][]any, 0, len(page.Items))
		for _, item := range page.Items {
			rows = append(rows, subjectRow(item))
		}
		n, err := db.BulkUpsert(ctx, b.pool, backfillUpsert[KindSubject], rows)
		if err != nil {
			return total, err
		}
		total += n

		if err := b.cursors.Save(ctx, cursorKey, strconv.FormatInt(page.LastID, 10)); err != nil {
			return total, err
		}
		if !page.HasNextPage {
			break
		}
		after = page.LastID
	}

	b.log.Info("source backfilled", zap.String("source", "subject"), zap.Int64("rows", total))
	return total, nil
}

func (b *Backfiller) fail(ctx context.Context, runID int64, cause error) {
	if err := b.runs.Fail(ctx, runID, cause.Error()); err != nil {
		b.log.Error("failed to finalize run record", zap.Int64("run_id", runID), zap.Error(err))
	}
}

// Package events records the refresh audit trail. Every automated or
// manual refresh appends one row describing what was touched and how
// it went.
package events

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeReclaimed = "reclaimed"
)

type Event struct {
	ID         int64
	TS         string
	Collection string
	NaturalID  string
	Outcome    string
	Detail     string
	DurationMs int64
}

type Writer struct {
	DB  *sql.DB
	Log *slog.Logger
	Now func() time.Time
}

func NewWriter(db *sql.DB, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{DB: db, Log: log, Now: time.Now}
}

func (w *Writer) Append(ctx context.Context, collection, naturalID, outcome, detail string, duration time.Duration) {
	w.append(ctx, w.DB.ExecContext, collection, naturalID, outcome, detail, duration)
}

// AppendTx records the event inside the caller's transaction so the
// audit row commits or rolls back with the data it describes.
func (w *Writer) AppendTx(ctx context.Context, tx *sql.Tx, collection, naturalID, outcome, detail string, duration time.Duration) {
	w.append(ctx, tx.ExecContext, collection, naturalID, outcome, detail, duration)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (w *Writer) append(ctx context.Context, exec execFunc, collection, naturalID, outcome, detail string, duration time.Duration) {
	ts := w.Now().UTC().Format(time.RFC3339)
	var nid any
	if naturalID != "" {
		nid = naturalID
	}
	var det any
	if detail != "" {
		det = detail
	}
	_, err := exec(ctx, `INSERT INTO refresh_events(ts,collection,natural_id,outcome,detail,duration_ms) VALUES (?,?,?,?,?,?)`,
		ts, collection, nid, outcome, det, duration.Milliseconds())
	if err != nil {
		// The audit trail must never fail the refresh itself.
		w.Log.Error("refresh_event_write_failed", "collection", collection, "error", err)
	}
}

func (w *Writer) Latest(ctx context.Context, limit int, collection string) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,collection,COALESCE(natural_id,''),outcome,COALESCE(detail,''),duration_ms FROM refresh_events`
	var args []any
	if collection != "" {
		query += ` WHERE collection=?`
		args = append(args, collection)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Collection, &e.NaturalID, &e.Outcome, &e.Detail, &e.DurationMs); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

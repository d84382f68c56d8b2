// Package journal persists sub-windows that failed to fetch so live loops
// and later jobs can retry them.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"candlefeed/internal/market"

	_ "modernc.org/sqlite"
)

// Entry is one failed sub-window of one series.
type Entry struct {
	Key       market.SeriesKey   `json:"key"`
	Window    market.FetchWindow `json:"window"`
	Reason    string             `json:"reason"`
	Attempts  int                `json:"attempts"`
	FirstSeen time.Time          `json:"first_seen"`
	LastSeen  time.Time          `json:"last_seen"`
}

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// RecordFailure stores the window, folding it into any pending window of the
// same key it overlaps or touches. The merged entry keeps the earliest
// first_seen and bumps the highest attempt count.
func (j *Journal) RecordFailure(ctx context.Context, key market.SeriesKey, w market.FetchWindow, reason string) (err error) {
	wrap := func(err error) error { return &market.PersistenceError{Key: key, Op: "journal", Err: err} }
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := j.now().UnixMilli()
	startMs, endMs := w.Start.UnixMilli(), w.End.UnixMilli()
	attempts, firstSeen := 0, now
	rows, err := tx.QueryContext(ctx, `
		SELECT start_ms, end_ms, attempts, first_seen
		FROM failed_windows
		WHERE provider=? AND symbol=? AND interval=? AND start_ms<=? AND end_ms>=?`,
		key.Provider, key.Symbol, key.Interval, endMs, startMs)
	if err != nil {
		return wrap(err)
	}
	for rows.Next() {
		var s, e, a, f int64
		if err = rows.Scan(&s, &e, &a, &f); err != nil {
			_ = rows.Close()
			return wrap(err)
		}
		startMs, endMs = min(startMs, s), max(endMs, e)
		attempts = max(attempts, int(a))
		firstSeen = min(firstSeen, f)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return wrap(err)
	}
	_ = rows.Close()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM failed_windows
		WHERE provider=? AND symbol=? AND interval=? AND start_ms>=? AND end_ms<=?`,
		key.Provider, key.Symbol, key.Interval, startMs, endMs); err != nil {
		return wrap(err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO failed_windows (provider, symbol, interval, start_ms, end_ms, reason, attempts, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.Provider, key.Symbol, key.Interval, startMs, endMs, reason, attempts+1, firstSeen, now); err != nil {
		return wrap(err)
	}
	if err = tx.Commit(); err != nil {
		return wrap(err)
	}
	return nil
}

// Resolve drops the window once it has been fetched.
func (j *Journal) Resolve(ctx context.Context, key market.SeriesKey, w market.FetchWindow) error {
	_, err := j.db.ExecContext(ctx, `
		DELETE FROM failed_windows
		WHERE provider=? AND symbol=? AND interval=? AND start_ms=? AND end_ms=?`,
		key.Provider, key.Symbol, key.Interval, w.Start.UnixMilli(), w.End.UnixMilli())
	if err != nil {
		return &market.PersistenceError{Key: key, Op: "journal", Err: err}
	}
	return nil
}

// Pending lists the oldest failed windows of key, at most limit of them
// when limit > 0.
func (j *Journal) Pending(ctx context.Context, key market.SeriesKey, limit int) ([]Entry, error) {
	query := `
		SELECT provider, symbol, interval, start_ms, end_ms, reason, attempts, first_seen, last_seen
		FROM failed_windows
		WHERE provider=? AND symbol=? AND interval=?
		ORDER BY start_ms ASC`
	args := []any{key.Provider, key.Symbol, key.Interval}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return j.query(ctx, key, query, args...)
}

// All lists every failed window, grouped by series.
func (j *Journal) All(ctx context.Context) ([]Entry, error) {
	return j.query(ctx, market.SeriesKey{}, `
		SELECT provider, symbol, interval, start_ms, end_ms, reason, attempts, first_seen, last_seen
		FROM failed_windows
		ORDER BY provider, symbol, interval, start_ms`)
}

func (j *Journal) query(ctx context.Context, key market.SeriesKey, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &market.PersistenceError{Key: key, Op: "journal", Err: err}
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e                               Entry
			startMs, endMs, firstMs, lastMs   int64
		)
		if err := rows.Scan(&e.Key.Provider, &e.Key.Symbol, &e.Key.Interval, &startMs, &endMs, &e.Reason, &e.Attempts, &firstMs, &lastMs); err != nil {
			return nil, &market.PersistenceError{Key: key, Op: "journal", Err: err}
		}
		e.Window = market.FetchWindow{Start: time.UnixMilli(startMs).UTC(), End: time.UnixMilli(endMs).UTC()}
		e.FirstSeen = time.UnixMilli(firstMs).UTC()
		e.LastSeen = time.UnixMilli(lastMs).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &market.PersistenceError{Key: key, Op: "journal", Err: err}
	}
	return out, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS failed_windows (
		provider   TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		interval   TEXT NOT NULL,
		start_ms   INTEGER NOT NULL,
		end_ms     INTEGER NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		attempts   INTEGER NOT NULL DEFAULT 1,
		first_seen INTEGER NOT NULL,
		last_seen  INTEGER NOT NULL,
		PRIMARY KEY (provider, symbol, interval, start_ms, end_ms)
	);`)
	return err
}

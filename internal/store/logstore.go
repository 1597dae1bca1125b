package store

import (
	"context"
	"fmt"
	"time"

	"lms-course-sync/internal/logging"
)

// LogStore persists sync log lines. It implements logging.LineSink.
type LogStore struct {
	s *Store
}

func (s *Store) Logs() *LogStore { return &LogStore{s: s} }

func (l *LogStore) WriteLines(ctx context.Context, lines []logging.Line) error {
	if len(lines) == 0 {
		return nil
	}
	tx, err := l.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	for _, ln := range lines {
		ts := ln.Time
		if ts.IsZero() {
			ts = l.s.now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_log (level, message, raw, created_at) VALUES (?, ?, ?, ?)`,
			ln.Level, ln.Message, ln.Raw, ts.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("store: insert log line: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to n newest lines, newest first.
func (l *LogStore) Recent(ctx context.Context, n int) ([]logging.Line, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := l.s.db.QueryContext(ctx,
		`SELECT level, message, raw, created_at FROM sync_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent logs: %w", err)
	}
	defer rows.Close()

	var out []logging.Line
	for rows.Next() {
		var ln logging.Line
		var ts string
		if err := rows.Scan(&ln.Level, &ln.Message, &ln.Raw, &ts); err != nil {
			return nil, err
		}
		ln.Time = parseTime(ts)
		out = append(out, ln)
	}
	return out, rows.Err()
}

// Prune deletes lines older than before and returns how many were removed.
func (l *LogStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.s.db.ExecContext(ctx,
		`DELETE FROM sync_log WHERE created_at < ?`, before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("store: prune logs: %w", err)
	}
	return res.RowsAffected()
}

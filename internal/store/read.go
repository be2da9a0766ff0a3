package store

import (
	"context"
	"fmt"
	"time"
)

// DefaultRecentLimit is the row count returned when a caller passes no limit.
const DefaultRecentLimit = 50

// Recent returns up to limit records, newest first. Ties on timestamp are
// broken by insertion order, latest first.
func (m *SQLMirror) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := m.db.QueryContext(ctx, m.dialect.selectSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent detections: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var ts, status, path string
		if err := rows.Scan(&ts, &status, &path); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		r, err := scanRecord(ts, status, path)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return out, nil
}

// Count returns the number of mirrored rows.
func (m *SQLMirror) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, m.dialect.countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return n, nil
}

func scanRecord(ts, status, path string) (Record, error) {
	t, err := time.ParseInLocation(TimeLayout, ts, time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("scan detection timestamp %q: %w", ts, err)
	}
	s, err := ParseStatus(status)
	if err != nil {
		return Record{}, fmt.Errorf("scan detection: %w", err)
	}
	return Record{Timestamp: t, Status: s, Artifact: path}, nil
}

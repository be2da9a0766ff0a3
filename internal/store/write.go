package store

import (
	"context"
	"fmt"
)

// dialect holds the statements that differ between SQL backends. Timestamps
// cross the driver boundary as TimeLayout strings so both backends store the
// same wall-clock value the journal shows.
type dialect struct {
	name      string
	insertSQL string
	selectSQL string
	countSQL  string
}

var sqliteDialect = dialect{
	name: "sqlite",
	insertSQL: `
		INSERT INTO detection_logs (timestamp, status, image_path, schema_version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
	selectSQL: `
		SELECT timestamp, status, image_path
		FROM detection_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
	countSQL: `SELECT COUNT(*) FROM detection_logs`,
}

var postgresDialect = dialect{
	name: "postgres",
	insertSQL: `
		INSERT INTO detection_logs (timestamp, status, image_path, schema_version)
		VALUES ($1::timestamp, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
	selectSQL: `
		SELECT to_char(timestamp, 'YYYY-MM-DD HH24:MI:SS'), status, image_path
		FROM detection_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`,
	countSQL: `SELECT COUNT(*) FROM detection_logs`,
}

// Insert writes one record. Uses ON CONFLICT DO NOTHING on the
// (timestamp, status, image_path) key so replaying the journal is idempotent.
//
// NONE records are rejected; they never reach persistent storage.
func (m *SQLMirror) Insert(ctx context.Context, r Record) error {
	if r.Status == StatusNone {
		return fmt.Errorf("write detection: status %s is not persisted", r.Status)
	}
	_, err := m.db.ExecContext(ctx, m.dialect.insertSQL,
		r.Timestamp.Format(TimeLayout),
		string(r.Status),
		r.Artifact,
		SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("write detection: %w", err)
	}
	return nil
}

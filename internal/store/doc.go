// Package store persists detection records.
//
// Every decisive classification is written twice:
//   - Journal: the local append-only log file, one line per record
//     ("2006-01-02 15:04:05 | ALERT | data/captured/x.jpg"), synced on write.
//     It is the record of truth; a failed append fails the run.
//   - Mirror: a best-effort remote copy. A failed insert is a warning and
//     never rolls back the journal line.
//
// # Mirror backends
//
//   - sqlite: detection_logs table, WAL mode, user_version migrations
//   - postgres: same table through the pgx driver, schema_migrations tracking
//   - s3: one JSON document per record under detections/YYYY/MM/DD/
//
// All backends carry schema_version and exactly three payload fields
// (timestamp, status, image_path). Inserts are idempotent on that triple, so
// Backfill may replay the whole journal as often as needed.
//
// Inconclusive (NONE) attempts are never persisted.
package store

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	m, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer m.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if m.Name() != "sqlite" {
		t.Errorf("Name() = %q, want sqlite", m.Name())
	}
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		if err := m.Insert(ctx, NewRecord(at(22, 15, 0), StatusAlert, "data/captured/a.jpg")); err != nil {
			t.Fatalf("Insert() iteration %d failed: %v", i, err)
		}
		m.Close()
	}

	m, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("final OpenSQLite() failed: %v", err)
	}
	defer m.Close()

	n, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	m := &SQLMirror{db: nil}
	if err := m.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	m := createTestMirror(t)
	if err := m.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	m := createTestMirror(t)
	// NORMAL = 1
	if err := m.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	m := createTestMirror(t)
	if err := m.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

// Schema tests

func TestSchema_DetectionLogsTable(t *testing.T) {
	m := createTestMirror(t)

	columns := getTableColumns(t, m.DB(), "detection_logs")
	for _, want := range []string{"id", "timestamp", "status", "image_path", "schema_version"} {
		if !contains(columns, want) {
			t.Errorf("detection_logs missing column %q, have %v", want, columns)
		}
	}
}

func TestSchema_StatusCheckConstraint(t *testing.T) {
	m := createTestMirror(t)

	_, err := m.DB().Exec(`INSERT INTO detection_logs (timestamp, status, image_path) VALUES ('2025-06-01 22:15:00', 'MAYBE', 'x.jpg')`)
	if err == nil {
		t.Error("expected CHECK constraint violation for unknown status")
	}
}

// Write tests

func TestInsert_RoundTrip(t *testing.T) {
	m := createTestMirror(t)
	ctx := context.Background()
	want := NewRecord(at(22, 15, 0), StatusAlert, "data/captured/20250601_221500_000000.jpg")

	if err := m.Insert(ctx, want); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	got, err := m.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() returned %d records, want 1", len(got))
	}
	if !got[0].Timestamp.Equal(want.Timestamp) || got[0].Status != want.Status || got[0].Artifact != want.Artifact {
		t.Errorf("Recent()[0] = %+v, want %+v", got[0], want)
	}

	var version int
	if err := m.DB().QueryRow("SELECT schema_version FROM detection_logs").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema_version = %d, want %d", version, SchemaVersion)
	}
}

func TestInsert_DuplicateIgnored(t *testing.T) {
	m := createTestMirror(t)
	ctx := context.Background()
	r := NewRecord(at(22, 15, 0), StatusAuthorized, "a.jpg")

	for i := 0; i < 3; i++ {
		if err := m.Insert(ctx, r); err != nil {
			t.Fatalf("Insert() #%d failed: %v", i, err)
		}
	}

	n, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestInsert_SameSecondDifferentStatus(t *testing.T) {
	m := createTestMirror(t)
	ctx := context.Background()

	if err := m.Insert(ctx, NewRecord(at(22, 15, 0), StatusAuthorized, "a.jpg")); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(ctx, NewRecord(at(22, 15, 0), StatusAlert, "a.jpg")); err != nil {
		t.Fatal(err)
	}

	n, _ := m.Count(ctx)
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestInsert_RejectsNone(t *testing.T) {
	m := createTestMirror(t)
	ctx := context.Background()

	if err := m.Insert(ctx, NewRecord(at(22, 15, 0), StatusNone, "")); err == nil {
		t.Error("Insert(NONE) should fail")
	}
	n, _ := m.Count(ctx)
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

// Read tests

func TestRecent_NewestFirstWithLimit(t *testing.T) {
	m := createTestMirror(t)
	ctx := context.Background()

	for i, r := range []Record{
		NewRecord(at(21, 0, 0), StatusAuthorized, "1.jpg"),
		NewRecord(at(23, 0, 0), StatusAlert, "3.jpg"),
		NewRecord(at(22, 0, 0), StatusAlert, "2.jpg"),
	} {
		if err := m.Insert(ctx, r); err != nil {
			t.Fatalf("Insert() #%d failed: %v", i, err)
		}
	}

	got, err := m.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d records", len(got))
	}
	if got[0].Artifact != "3.jpg" || got[1].Artifact != "2.jpg" {
		t.Errorf("Recent(2) = [%s %s], want [3.jpg 2.jpg]", got[0].Artifact, got[1].Artifact)
	}
}

func TestRecent_TieBrokenByInsertionOrder(t *testing.T) {
	m := createTestMirror(t)
	ctx := context.Background()

	m.Insert(ctx, NewRecord(at(22, 0, 0), StatusAlert, "first.jpg"))
	m.Insert(ctx, NewRecord(at(22, 0, 0), StatusAlert, "second.jpg"))

	got, err := m.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 2 || got[0].Artifact != "second.jpg" {
		t.Errorf("Recent() = %+v, want second.jpg first", got)
	}
}

func TestRecent_Empty(t *testing.T) {
	m := createTestMirror(t)

	got, err := m.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent() = %v, want empty", got)
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	m := createTestMirror(t)

	var version int
	if err := m.DB().QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// A table as the old import script left it: no natural-key index.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE detection_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		status TEXT NOT NULL,
		image_path TEXT NOT NULL,
		schema_version INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	db.Close()

	m, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer m.Close()

	indexes := getTableIndexes(t, m.DB(), "detection_logs")
	if !contains(indexes, "idx_detection_logs_natural_key") {
		t.Errorf("expected natural-key index after migration, got %v", indexes)
	}

	ctx := context.Background()
	r := NewRecord(at(22, 15, 0), StatusAlert, "a.jpg")
	m.Insert(ctx, r)
	m.Insert(ctx, r)
	if n, _ := m.Count(ctx); n != 1 {
		t.Errorf("Count() = %d after duplicate insert on migrated table, want 1", n)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

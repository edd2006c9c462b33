package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDatabase(t *testing.T) {
	// Given: A fresh database with no tables
	db := openRawDB(t)

	// When: RunMigrations is called
	version, err := RunMigrations(context.Background(), db)
	if err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	// Then: Every collection exists at the newest version
	if version != 4 {
		t.Errorf("version = %d, want 4", version)
	}
	for _, table := range []string{"entities", "comments", "pending_writes", "idempotency_keys"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	var idx string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_comments_restaurant_id'`).Scan(&idx)
	if err != nil {
		t.Errorf("comments parent index not created: %v", err)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	// Given: A database that has already been migrated
	db := openRawDB(t)
	ctx := context.Background()
	if _, err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}

	// When: RunMigrations is called again
	version, err := RunMigrations(ctx, db)

	// Then: No error occurs and each version was recorded exactly once
	if err != nil {
		t.Fatalf("second migration should be idempotent, got error: %v", err)
	}
	if version != 4 {
		t.Errorf("version = %d, want 4", version)
	}

	var applied int
	if err := db.QueryRow(`SELECT COUNT(*) FROM goose_db_version WHERE version_id > 0`).Scan(&applied); err != nil {
		t.Fatalf("read goose_db_version: %v", err)
	}
	if applied != 4 {
		t.Errorf("applied versions = %d, want 4", applied)
	}
}

func TestRunMigrations_PreservesData(t *testing.T) {
	// Given: A database with existing data
	db := openRawDB(t)
	ctx := context.Background()
	if _, err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("initial migration failed: %v", err)
	}
	_, err := db.Exec(`
		INSERT INTO entities (id, updated_at, doc, stored_at)
		VALUES (1, '2024-01-01T00:00:00Z', '{"id":1,"name":"Kang Ho Dong Baekjeong"}', '2024-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("failed to insert test data: %v", err)
	}

	// When: RunMigrations is called again
	if _, err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("re-migration failed: %v", err)
	}

	// Then: Existing data is preserved
	var doc string
	if err := db.QueryRow(`SELECT doc FROM entities WHERE id = 1`).Scan(&doc); err != nil {
		t.Fatalf("data not preserved after migration: %v", err)
	}
}

func TestWALMode_Enabled(t *testing.T) {
	// Given: An opened SQLiteStore
	store := newTestStore(t)

	db, err := store.handle(context.Background())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// Then: WAL mode and busy timeout are set on the pooled connection
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode 'wal', got %q", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", busyTimeout)
	}
}

package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEmbeddedMigrationsApplyOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mm := NewMigrationManager(db)

	available, err := mm.GetAvailableMigrations()
	if err != nil {
		t.Fatalf("available migrations: %v", err)
	}
	if len(available) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for i := 1; i < len(available); i++ {
		if available[i-1].Version >= available[i].Version {
			t.Fatalf("migrations not sorted: %d before %d", available[i-1].Version, available[i].Version)
		}
	}

	n, err := mm.ApplyPendingMigrations(ctx)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != len(available) {
		t.Fatalf("applied %d, want %d", n, len(available))
	}

	n, err = mm.ApplyPendingMigrations(ctx)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if n != 0 {
		t.Fatalf("second apply should be a no-op, applied %d", n)
	}

	for _, table := range []string{"users", "messages", "notifications"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	status, err := mm.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Pending) != 0 || len(status.Applied) != len(available) {
		t.Fatalf("unexpected status: applied=%d pending=%d", len(status.Applied), len(status.Pending))
	}
	for _, m := range status.Applied {
		if m.AppliedAt == nil {
			t.Fatalf("migration %d has no applied timestamp", m.Version)
		}
	}
}

func TestMigrationsFromPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"001_first.sql":  "CREATE TABLE a (id INTEGER);",
		"002_second.sql": "CREATE TABLE b (id INTEGER);",
		"notes.txt":      "ignored",
		"bad_name.sql":   "CREATE TABLE c (id INTEGER);",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	db := openTestDB(t)
	mm := NewMigrationManagerFromPath(db, dir)

	if err := mm.EnsureMigrationsTable(ctx); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	pending, err := mm.GetPendingMigrations(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Name != "first" || pending[1].Name != "second" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}

	if err := mm.ApplyMigration(ctx, pending[0]); err != nil {
		t.Fatalf("apply first: %v", err)
	}
	pending, err = mm.GetPendingMigrations(ctx)
	if err != nil {
		t.Fatalf("pending after first: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Fatalf("expected only migration 2 pending, got %+v", pending)
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_broken.sql"), []byte("CREATE TABLE ok (id INTEGER); THIS IS NOT SQL;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	db := openTestDB(t)
	mm := NewMigrationManagerFromPath(db, dir)
	if _, err := mm.ApplyPendingMigrations(ctx); err == nil {
		t.Fatalf("expected broken migration to fail")
	}

	applied, err := mm.GetAppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("failed migration must not be recorded, got %v", applied)
	}
}

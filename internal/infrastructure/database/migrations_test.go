package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/nerrad567/mqtt-mcp/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_users.up.sql":   {Data: []byte("CREATE TABLE test_users (id TEXT PRIMARY KEY);")},
		"20260101_000000_users.down.sql": {Data: []byte("DROP TABLE test_users;")},
		"20260102_000000_notes.up.sql":   {Data: []byte("CREATE TABLE test_notes (id TEXT PRIMARY KEY);")},
		"README.md":                      {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	if !tableExists(t, db, "test_users") || !tableExists(t, db, "test_notes") {
		t.Error("migration tables not created")
	}

	// Running again should be idempotent
	n, err = db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}

	records, err := db.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(records) != 2 || records[0].Version != "20260101_000000" {
		t.Errorf("AppliedMigrations() = %+v", records)
	}
}

// TestRollback verifies migration rollback.
func TestRollback(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260101_000000_users.up.sql":   {Data: []byte("CREATE TABLE test_users (id TEXT PRIMARY KEY);")},
		"20260101_000000_users.down.sql": {Data: []byte("DROP TABLE test_users;")},
	}

	if _, err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx, fsys); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if tableExists(t, db, "test_users") {
		t.Error("table test_users should have been dropped")
	}
	records, err := db.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected 0 applied migrations after rollback, got %d", len(records))
	}

	// Nothing left to roll back
	if err := db.Rollback(ctx, fsys); err != nil {
		t.Errorf("Rollback() on empty history error = %v", err)
	}
}

// TestRollbackWithoutDown verifies a migration with no down file cannot be reverted.
func TestRollbackWithoutDown(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260102_000000_notes.up.sql": {Data: []byte("CREATE TABLE test_notes (id TEXT PRIMARY KEY);")},
	}

	if _, err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx, fsys); err == nil {
		t.Error("Rollback() expected error for migration without down SQL")
	}
}

// TestMigrateFailureKeepsEarlier verifies per-migration atomicity.
func TestMigrateFailureKeepsEarlier(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE broken (;")},
	}

	n, err := db.Migrate(ctx, fsys)
	if err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	if n != 1 || !tableExists(t, db, "ok_table") {
		t.Errorf("Migrate() applied %d, want the first migration kept", n)
	}
}

// TestEmbeddedMigrations verifies the shipped schema applies cleanly.
func TestEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate(embedded) error = %v", err)
	}
	if !tableExists(t, db, "audit_logs") {
		t.Error("audit_logs table not created")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260118_120000_initial_schema.up.sql", "20260118_120000", "initial_schema", true, true},
		{"20260118_120000_initial_schema.down.sql", "20260118_120000", "initial_schema", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "", true, true},
		{"20260118.up.sql", "", "", false, false},
		{"20260118_120000_initial.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.filename, version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}

package database

import (
	"context"
	"embed"
	"errors"
	"testing"
	"testing/fstest"
	"time"
)

// testMigrationsDir is the directory containing test migration files.
const testMigrationsDir = "testdata"

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

func testMigrations(t *testing.T) []Migration {
	t.Helper()
	migrations, err := LoadMigrationsFS(testMigrationsFS, testMigrationsDir)
	if err != nil {
		t.Fatalf("LoadMigrationsFS() error = %v", err)
	}
	return migrations
}

// TestApplyMigrations verifies migration application.
func TestApplyMigrations(t *testing.T) {
	pool := openTestPool(t, PoolConfig{WALMode: true, BusyTimeout: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := ApplyMigrations(ctx, pool, testMigrations(t))
	if err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if len(report.Applied) != 2 || report.Applied[0] != 1 || report.Applied[1] != 2 {
		t.Errorf("Applied = %v, want [1 2]", report.Applied)
	}

	// Verify tables were created
	rows, err := pool.Select(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('notes', 'note_tags') ORDER BY name", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(rows))
	}

	applied, err := AppliedVersions(ctx, pool)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied migrations, got %d", len(applied))
	}
	if applied[0].Description != "create notes" || !applied[0].Success || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}

	// Running again should be idempotent
	report, err = ApplyMigrations(ctx, pool, testMigrations(t))
	if err != nil {
		t.Fatalf("second ApplyMigrations() error = %v", err)
	}
	if len(report.Applied) != 0 || report.Skipped != 2 {
		t.Errorf("second run report = %+v, want 0 applied, 2 skipped", report)
	}
}

func TestApplyMigrations_AscendingOrder(t *testing.T) {
	pool := openTestPool(t, PoolConfig{BusyTimeout: 5})
	ctx := context.Background()

	// Version 2 depends on version 1; registering out of order must still work.
	migrations := []Migration{
		{Version: 2, Description: "seed", SQL: "INSERT INTO items (name) VALUES ('seeded')"},
		{Version: 1, Description: "create items", SQL: "CREATE TABLE items (name TEXT)"},
		{Version: 3, Description: "drop items", SQL: "DROP TABLE items", Kind: MigrationDown},
	}

	if _, err := ApplyMigrations(ctx, pool, migrations); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	applied, err := AppliedVersions(ctx, pool)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(applied) != 2 || applied[0].Version != 1 || applied[1].Version != 2 {
		t.Errorf("applied = %+v, want versions [1 2]", applied)
	}
}

func TestApplyMigrations_Failure(t *testing.T) {
	pool := openTestPool(t, PoolConfig{BusyTimeout: 5})
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "ok", SQL: "CREATE TABLE a (v TEXT)"},
		{Version: 2, Description: "broken", SQL: "CREATE TABLE b (v TEXT); INSERT INTO missing VALUES (1)"},
		{Version: 3, Description: "never", SQL: "CREATE TABLE c (v TEXT)"},
	}

	_, err := ApplyMigrations(ctx, pool, migrations)
	if !errors.Is(err, ErrMigration) {
		t.Fatalf("ApplyMigrations() error = %v, want ErrMigration", err)
	}
	if ErrorKind(err) != KindMigration {
		t.Errorf("ErrorKind() = %q, want %q", ErrorKind(err), KindMigration)
	}

	applied, err := AppliedVersions(ctx, pool)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != 1 {
		t.Errorf("applied = %+v, want only version 1", applied)
	}

	// Migration 2 rolled back as a whole.
	rows, err := pool.Select(ctx, "SELECT name FROM sqlite_master WHERE name IN ('b', 'c')", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("found %d tables from failed migrations, want 0", len(rows))
	}
}

func TestApplyMigrations_DuplicateVersion(t *testing.T) {
	pool := openTestPool(t, PoolConfig{BusyTimeout: 5})

	migrations := []Migration{
		{Version: 1, SQL: "CREATE TABLE a (v TEXT)"},
		{Version: 1, SQL: "CREATE TABLE b (v TEXT)"},
	}

	_, err := ApplyMigrations(context.Background(), pool, migrations)
	if !errors.Is(err, ErrMigration) {
		t.Errorf("ApplyMigrations() error = %v, want ErrMigration", err)
	}
}

func TestApplyMigrations_ChecksumMismatch(t *testing.T) {
	pool := openTestPool(t, PoolConfig{BusyTimeout: 5})
	ctx := context.Background()

	original := []Migration{{Version: 1, Description: "create a", SQL: "CREATE TABLE a (v TEXT)"}}
	if _, err := ApplyMigrations(ctx, pool, original); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	edited := []Migration{{Version: 1, Description: "create a", SQL: "CREATE TABLE a (v INTEGER)"}}
	_, err := ApplyMigrations(ctx, pool, edited)
	if !errors.Is(err, ErrMigration) {
		t.Errorf("ApplyMigrations() error = %v, want ErrMigration", err)
	}
}

func TestApplyMigrations_DirtyLedger(t *testing.T) {
	pool := openTestPool(t, PoolConfig{BusyTimeout: 5})
	ctx := context.Background()

	if _, err := ApplyMigrations(ctx, pool, []Migration{{Version: 1, SQL: "CREATE TABLE a (v TEXT)"}}); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if _, err := pool.Execute(ctx, "UPDATE "+ledgerTable+" SET success = 0", nil); err != nil {
		t.Fatalf("marking ledger dirty: %v", err)
	}

	_, err := ApplyMigrations(ctx, pool, []Migration{{Version: 2, SQL: "CREATE TABLE b (v TEXT)"}})
	if !errors.Is(err, ErrMigration) {
		t.Errorf("ApplyMigrations() error = %v, want ErrMigration", err)
	}
}

func TestApplyMigrations_OnlyDown(t *testing.T) {
	pool := openTestPool(t, PoolConfig{BusyTimeout: 5})
	ctx := context.Background()

	report, err := ApplyMigrations(ctx, pool, []Migration{{Version: 1, SQL: "DROP TABLE x", Kind: MigrationDown}})
	if err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if len(report.Applied) != 0 {
		t.Errorf("Applied = %v, want none", report.Applied)
	}

	applied, err := AppliedVersions(ctx, pool)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %v, want empty ledger", applied)
	}
}

func TestMigrationSet_Take(t *testing.T) {
	set := NewMigrationSet()
	set.Register("sqlite:a.db", []Migration{{Version: 1}})
	set.Register("sqlite:a.db", []Migration{{Version: 1}, {Version: 2}})

	if !set.Pending("sqlite:a.db") {
		t.Fatal("Pending() = false after Register")
	}

	got, ok := set.Take("sqlite:a.db")
	if !ok || len(got) != 2 {
		t.Fatalf("Take() = %v, %v; want the replacing list", got, ok)
	}

	if _, ok := set.Take("sqlite:a.db"); ok {
		t.Error("second Take() found migrations, want none")
	}
	if set.Pending("sqlite:a.db") {
		t.Error("Pending() = true after Take")
	}

	set.Register("sqlite:empty.db", nil)
	if _, ok := set.Take("sqlite:empty.db"); !ok {
		t.Error("Take() of an empty registration should still report it")
	}
}

func TestLoadMigrationsFS(t *testing.T) {
	migrations := testMigrations(t)

	if len(migrations) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(migrations))
	}

	first := migrations[0]
	if first.Version != 1 || first.Kind != MigrationUp || first.Description != "create notes" {
		t.Errorf("migrations[0] = %+v", first)
	}
	if migrations[1].Version != 1 || migrations[1].Kind != MigrationDown {
		t.Errorf("migrations[1] = %+v, want version 1 down", migrations[1])
	}
	if migrations[2].Description != "add note tags" {
		t.Errorf("migrations[2].Description = %q", migrations[2].Description)
	}
}

func TestLoadMigrationsFS_Filtering(t *testing.T) {
	fsys := fstest.MapFS{
		"m/10_plain.sql":        {Data: []byte("SELECT 10")},
		"m/2_second.up.sql":     {Data: []byte("SELECT 2")},
		"m/README.md":           {Data: []byte("docs")},
		"m/notversioned.up.sql": {Data: []byte("SELECT 0")},
		"m/sub/3_nested.up.sql": {Data: []byte("SELECT 3")},
	}

	migrations, err := LoadMigrationsFS(fsys, "m")
	if err != nil {
		t.Fatalf("LoadMigrationsFS() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d: %+v", len(migrations), migrations)
	}
	if migrations[0].Version != 2 || migrations[1].Version != 10 || migrations[1].Kind != MigrationUp {
		t.Errorf("migrations = %+v", migrations)
	}

	missing, err := LoadMigrationsFS(fsys, "absent")
	if err != nil || missing != nil {
		t.Errorf("LoadMigrationsFS(absent) = %v, %v; want nil, nil", missing, err)
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int64
		wantKind    MigrationKind
		wantOK      bool
	}{
		{"0001_initial.up.sql", 1, MigrationUp, true},
		{"0001_initial.down.sql", 1, MigrationDown, true},
		{"20260118120000_add_users.up.sql", 20260118120000, MigrationUp, true},
		{"7_plain.sql", 7, MigrationUp, true},
		{"42.up.sql", 42, MigrationUp, true},
		{"invalid.sql", 0, MigrationUp, false},
		{"0001_initial.up.txt", 0, MigrationUp, false},
		{"-1_negative.up.sql", 0, MigrationUp, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, kind, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %d, want %d", version, tt.wantVersion)
			}
			if kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", kind, tt.wantKind)
			}
		})
	}
}

// TestExtractMigrationName verifies name extraction.
func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"0001_initial_schema.up.sql", "initial schema"},
		{"0002_add_users.down.sql", "add users"},
		{"42.up.sql", "42"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName() = %q, want %q", got, tt.want)
			}
		})
	}
}

package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// ledgerTable is the applied-versions ledger kept inside every migrated
// database.
const ledgerTable = "_graysql_migrations"

// Migration filename parsing constants.
const (
	// migrationFilenameParts is the number of parts in a migration filename.
	// Format: <version>_<description>.up.sql (2 parts when split by "_")
	migrationFilenameParts = 2
)

// MigrationKind is the direction of a migration.
type MigrationKind int

const (
	// MigrationUp moves the schema forward. Only Up migrations are applied.
	MigrationUp MigrationKind = iota

	// MigrationDown reverts an Up migration of the same version.
	MigrationDown
)

func (k MigrationKind) String() string {
	if k == MigrationDown {
		return "down"
	}
	return "up"
}

// Migration is a single versioned schema change.
type Migration struct {
	Version     int64
	Description string
	SQL         string
	Kind        MigrationKind
}

// AppliedMigration is one row of the ledger.
type AppliedMigration struct {
	Version       int64
	Description   string
	AppliedAt     time.Time
	Success       bool
	Checksum      string
	ExecutionTime time.Duration
}

// MigrationReport summarizes one ApplyMigrations call.
type MigrationReport struct {
	// Applied lists the versions applied by this call, ascending.
	Applied []int64

	// Skipped counts versions already present in the ledger.
	Skipped int

	Duration time.Duration
}

// MigrationSet holds pending migrations per database identifier until the
// database is first loaded. It is safe for concurrent use.
type MigrationSet struct {
	mu      sync.Mutex
	pending map[string][]Migration
}

// NewMigrationSet creates an empty MigrationSet.
func NewMigrationSet() *MigrationSet {
	return &MigrationSet{pending: make(map[string][]Migration)}
}

// Register sets the pending migrations for id, replacing any earlier list.
// Registering after id has been loaded has no effect on that load.
func (s *MigrationSet) Register(id string, migrations []Migration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = append([]Migration(nil), migrations...)
}

// Take removes and returns the pending migrations for id.
func (s *MigrationSet) Take(id string) ([]Migration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	migrations, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return migrations, ok
}

// Pending reports whether id still has migrations registered.
func (s *MigrationSet) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// ApplyMigrations applies the Up migrations in ascending version order.
//
// # Atomicity
//
// Each migration runs in its own transaction together with its ledger row.
// If migration N fails:
//   - Migrations before N remain committed
//   - Migration N is rolled back
//   - Migrations after N are not attempted
//
// Versions already in the ledger are skipped after their checksum is
// verified. A ledger holding a failed entry is refused. Every failure wraps
// ErrMigration.
func ApplyMigrations(ctx context.Context, p *Pool, migrations []Migration) (*MigrationReport, error) {
	start := time.Now()
	report := &MigrationReport{}

	up, err := upMigrations(migrations)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMigration, err)
	}
	if len(up) == 0 {
		return report, nil
	}

	if err := createLedger(ctx, p.db); err != nil {
		return nil, fmt.Errorf("%w: creating ledger: %w", ErrMigration, err)
	}

	applied, err := readLedger(ctx, p.db)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ledger: %w", ErrMigration, err)
	}

	appliedByVersion := make(map[int64]AppliedMigration, len(applied))
	for _, a := range applied {
		if !a.Success {
			return nil, fmt.Errorf("%w: database is dirty, version %d failed earlier", ErrMigration, a.Version)
		}
		appliedByVersion[a.Version] = a
	}

	for _, m := range up {
		checksum := checksumSQL(m.SQL)

		if existing, ok := appliedByVersion[m.Version]; ok {
			if existing.Checksum != checksum {
				return nil, fmt.Errorf("%w: version %d (%s) has changed since it was applied",
					ErrMigration, m.Version, m.Description)
			}
			report.Skipped++
			continue
		}

		if err := applyMigration(ctx, p.db, m, checksum); err != nil {
			return nil, fmt.Errorf("%w: applying version %d (%s): %w", ErrMigration, m.Version, m.Description, err)
		}
		report.Applied = append(report.Applied, m.Version)
	}

	report.Duration = time.Since(start)
	return report, nil
}

// AppliedVersions lists the ledger in version order. A database that was
// never migrated has an empty ledger.
func AppliedVersions(ctx context.Context, p *Pool) ([]AppliedMigration, error) {
	var exists int
	err := p.db.GetContext(ctx, &exists,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", ledgerTable)
	if err != nil {
		return nil, sqlError(err)
	}
	if exists == 0 {
		return nil, nil
	}

	applied, err := readLedger(ctx, p.db)
	if err != nil {
		return nil, sqlError(err)
	}
	return applied, nil
}

// upMigrations validates version uniqueness per direction and returns the Up
// migrations sorted by version.
func upMigrations(migrations []Migration) ([]Migration, error) {
	seen := make(map[MigrationKind]map[int64]bool, 2)
	var up []Migration

	for _, m := range migrations {
		if seen[m.Kind] == nil {
			seen[m.Kind] = make(map[int64]bool)
		}
		if seen[m.Kind][m.Version] {
			return nil, fmt.Errorf("duplicate %s migration version %d", m.Kind, m.Version)
		}
		seen[m.Kind][m.Version] = true

		if m.Kind == MigrationUp {
			up = append(up, m)
		}
	}

	sort.Slice(up, func(i, j int) bool {
		return up[i].Version < up[j].Version
	})
	return up, nil
}

func createLedger(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			checksum TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL
		)
	`)
	return err
}

type ledgerRow struct {
	Version         int64  `db:"version"`
	Description     string `db:"description"`
	AppliedAt       string `db:"applied_at"`
	Success         bool   `db:"success"`
	Checksum        string `db:"checksum"`
	ExecutionTimeMS int64  `db:"execution_time_ms"`
}

func readLedger(ctx context.Context, db *sqlx.DB) ([]AppliedMigration, error) {
	var rows []ledgerRow
	err := db.SelectContext(ctx, &rows, `
		SELECT version, description, applied_at, success, checksum, execution_time_ms
		FROM `+ledgerTable+` ORDER BY version
	`)
	if err != nil {
		return nil, err
	}

	applied := make([]AppliedMigration, 0, len(rows))
	for _, r := range rows {
		// Format is controlled by applyMigration
		appliedAt, _ := time.Parse(time.RFC3339Nano, r.AppliedAt) //nolint:errcheck // Format is controlled
		applied = append(applied, AppliedMigration{
			Version:       r.Version,
			Description:   r.Description,
			AppliedAt:     appliedAt,
			Success:       r.Success,
			Checksum:      r.Checksum,
			ExecutionTime: time.Duration(r.ExecutionTimeMS) * time.Millisecond,
		})
	}
	return applied, nil
}

// applyMigration runs one migration and records it in the same transaction.
func applyMigration(ctx context.Context, db *sqlx.DB, m Migration, checksum string) error {
	start := time.Now()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+ledgerTable+
			" (version, description, applied_at, success, checksum, execution_time_ms) VALUES (?, ?, ?, ?, ?, ?)",
		m.Version,
		m.Description,
		time.Now().UTC().Format(time.RFC3339Nano),
		true,
		checksum,
		time.Since(start).Milliseconds(),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// checksumSQL returns the hex SHA-256 of a migration's SQL.
func checksumSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// LoadMigrationsFS reads migrations from dir in fsys.
//
// Files are named <version>_<description>.up.sql or .down.sql. A plain
// <version>_<description>.sql is an Up migration. Other files are ignored.
func LoadMigrationsFS(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		version, kind, ok := parseMigrationFilename(name)
		if !ok {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		migrations = append(migrations, Migration{
			Version:     version,
			Description: extractMigrationName(name),
			SQL:         string(data),
			Kind:        kind,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].Version != migrations[j].Version {
			return migrations[i].Version < migrations[j].Version
		}
		return migrations[i].Kind < migrations[j].Kind
	})

	return migrations, nil
}

// parseMigrationFilename extracts version and direction from a migration
// filename.
func parseMigrationFilename(name string) (version int64, kind MigrationKind, ok bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, 0, false
	}

	base := strings.TrimSuffix(name, ".sql")

	switch {
	case strings.HasSuffix(base, ".up"):
		kind = MigrationUp
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		kind = MigrationDown
		base = strings.TrimSuffix(base, ".down")
	default:
		kind = MigrationUp
	}

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || version < 0 {
		return 0, 0, false
	}

	return version, kind, true
}

// extractMigrationName extracts a human-readable name from the filename.
// Example: "0002_add_notes.up.sql" -> "add notes"
func extractMigrationName(filename string) string {
	base := strings.TrimSuffix(filename, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) == migrationFilenameParts {
		return strings.ReplaceAll(parts[1], "_", " ")
	}
	return base
}

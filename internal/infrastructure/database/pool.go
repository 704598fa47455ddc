package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// filePermissions is the permission mode for database files.
	filePermissions = 0600

	// connectionTimeout bounds the connectivity check on open.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute
)

// Row is one result row: column names mapped to values in select-list order.
type Row = orderedmap.OrderedMap[string, Value]

// ExecResult is the outcome of Execute.
type ExecResult struct {
	RowsAffected uint64
	LastInsertID int64
}

// MarshalJSON encodes r as the pair [rows_affected, last_insert_id].
func (r ExecResult) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", r.RowsAffected, r.LastInsertID)), nil
}

// PoolConfig contains settings applied to every pool.
// These map to the database section of config.yaml.
type PoolConfig struct {
	// WALMode enables Write-Ahead Logging for concurrent reads during writes.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BindIntegersExact binds Int parameters as int64 (EncodeExact) instead
	// of float64 (Encode).
	BindIntegersExact bool
}

// Pool is a live connection pool for one database. It is safe for
// concurrent use.
type Pool struct {
	db     *sqlx.DB
	id     string
	path   string
	encode func(Value) any
	hooks  []QueryHook
}

// OpenPool opens a pool for target and verifies connectivity.
// The database file is created if it does not exist.
func OpenPool(ctx context.Context, id string, target Target, cfg PoolConfig, hooks ...QueryHook) (*Pool, error) {
	db, err := sqlx.Open(driverFor(target.Extensions), target.DSN(cfg))
	if err != nil {
		return nil, sqlError(fmt.Errorf("opening database: %w", err))
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, sqlError(fmt.Errorf("verifying database connection: %w", err))
	}

	// The file exists once the first connection is up.
	_ = os.Chmod(target.Path, filePermissions) //nolint:errcheck // Not fatal on filesystems without modes

	encode := Encode
	if cfg.BindIntegersExact {
		encode = EncodeExact
	}

	return &Pool{
		db:     db,
		id:     id,
		path:   target.Path,
		encode: encode,
		hooks:  hooks,
	}, nil
}

// ID returns the identifier the pool was loaded under.
func (p *Pool) ID() string {
	return p.id
}

// Path returns the filesystem path to the database file.
func (p *Pool) Path() string {
	return p.path
}

// Execute runs a statement that returns no rows and reports the affected row
// count and the last inserted rowid. Params bind positionally.
func (p *Pool) Execute(ctx context.Context, query string, params []Value) (ExecResult, error) {
	event := &QueryEvent{
		DB:        p.id,
		Query:     query,
		Args:      encodeParams(params, p.encode),
		StartTime: time.Now(),
	}
	ctx = p.beforeQuery(ctx, event)

	res, err := p.exec(ctx, query, event.Args)
	event.Err = err
	event.RowsAffected = res.RowsAffected
	p.afterQuery(ctx, event)

	return res, err
}

// exec and query prepare first: the prepared path is where database/sql
// checks the argument count against the statement's placeholders. Only the
// first statement of query text runs.
func (p *Pool) exec(ctx context.Context, query string, args []any) (ExecResult, error) {
	stmt, err := p.db.PreparexContext(ctx, query)
	if err != nil {
		return ExecResult{}, sqlError(err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return ExecResult{}, sqlError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ExecResult{}, sqlError(err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return ExecResult{}, sqlError(err)
	}

	return ExecResult{RowsAffected: uint64(affected), LastInsertID: lastID}, nil //nolint:gosec // SQLite never reports a negative count
}

// Select runs a query and decodes every row. Nothing is returned unless every
// column of every row decodes.
func (p *Pool) Select(ctx context.Context, query string, params []Value) ([]*Row, error) {
	event := &QueryEvent{
		DB:        p.id,
		Query:     query,
		Args:      encodeParams(params, p.encode),
		StartTime: time.Now(),
	}
	ctx = p.beforeQuery(ctx, event)

	rows, err := p.query(ctx, query, event.Args)
	event.Err = err
	event.Rows = len(rows)
	p.afterQuery(ctx, event)

	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *Pool) query(ctx context.Context, query string, args []any) ([]*Row, error) {
	stmt, err := p.db.PreparexContext(ctx, query)
	if err != nil {
		return nil, sqlError(err)
	}
	defer stmt.Close()

	rows, err := stmt.QueryxContext(ctx, args...)
	if err != nil {
		return nil, sqlError(err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, sqlError(err)
	}
	columns := make([]string, len(columnTypes))
	declTypes := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = ct.Name()
		declTypes[i] = ct.DatabaseTypeName()
	}

	result := make([]*Row, 0)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, sqlError(err)
		}

		row := orderedmap.New[string, Value]()
		for i, raw := range values {
			v, err := DecodeColumn(declTypes[i], raw)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", columns[i], err)
			}
			row.Set(columns[i], v)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, sqlError(err)
	}
	return result, nil
}

// HealthCheck verifies the database is accessible and functioning.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var result int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return sqlError(fmt.Errorf("database health check failed: %w", err))
	}
	return nil
}

// Stats returns connection pool statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes the pool. Connections in use are closed once their query
// completes.
func (p *Pool) Close() error {
	if err := p.db.Close(); err != nil {
		return sqlError(fmt.Errorf("closing database: %w", err))
	}
	return nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// StorageDir is the directory every database path is resolved against.
	StorageDir string

	Pool PoolConfig

	// Migrations holds the pending migrations per identifier. Nil means no
	// database has migrations.
	Migrations *MigrationSet

	// Hooks observe every query on every pool.
	Hooks []QueryHook
}

// Registry maps database identifiers to live pools.
//
// Execute and Select hold the read lock for the whole query; inserts and
// removals take the write lock, so a pool is never closed under a running
// query. Opening and migrating happen outside the lock, so loads of distinct
// identifiers run in parallel and a pool only becomes visible once migrated.
// Concurrent loads of the same identifier share one attempt.
//
// All public methods are thread-safe.
type Registry struct {
	storageDir string
	poolCfg    PoolConfig
	migrations *MigrationSet
	hooks      []QueryHook

	pools   map[string]*Pool
	poolsMu sync.RWMutex // Protects pools

	loads  singleflight.Group
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	migrations := cfg.Migrations
	if migrations == nil {
		migrations = NewMigrationSet()
	}
	return &Registry{
		storageDir: cfg.StorageDir,
		poolCfg:    cfg.Pool,
		migrations: migrations,
		hooks:      cfg.Hooks,
		pools:      make(map[string]*Pool),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Migrations returns the pending migration set.
func (r *Registry) Migrations() *MigrationSet {
	return r.migrations
}

// Load opens the database described by opts, applies its pending migrations
// and registers the pool under opts.DBURL, which is returned.
//
// If migrating fails the pool is closed and nothing is registered. Loading an
// identifier that is already registered replaces its pool; the old pool is
// closed.
func (r *Registry) Load(ctx context.Context, opts ConnectOptions) (string, error) {
	id := opts.DBURL

	// Concurrent loads of one id share an attempt, which runs detached from
	// the caller that started it so one cancellation cannot fail the rest.
	// A caller that gives up returns early; the attempt still completes.
	ch := r.loads.DoChan(id, func() (any, error) {
		return nil, r.load(context.WithoutCancel(ctx), id, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("loading %s: %w", id, ctx.Err())
	}
}

func (r *Registry) load(ctx context.Context, id string, opts ConnectOptions) error {
	target, err := opts.Resolve(r.storageDir)
	if err != nil {
		return err
	}

	pool, err := OpenPool(ctx, id, target, r.poolCfg, r.hooks...)
	if err != nil {
		return err
	}

	if migrations, ok := r.migrations.Take(id); ok {
		report, err := ApplyMigrations(ctx, pool, migrations)
		if err != nil {
			if cerr := pool.Close(); cerr != nil {
				r.logger.Warn("closing pool after failed migration", "db", id, "error", cerr)
			}
			return err
		}
		r.logger.Info("migrations applied",
			"db", id,
			"applied", len(report.Applied),
			"skipped", report.Skipped,
			"duration", report.Duration,
		)
	}

	r.poolsMu.Lock()
	old := r.pools[id]
	r.pools[id] = pool
	r.poolsMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("closing replaced pool", "db", id, "error", err)
		}
	}

	r.logger.Info("database loaded", "db", id, "path", target.Path)
	return nil
}

// Lookup returns the pool registered under id.
func (r *Registry) Lookup(id string) (*Pool, error) {
	r.poolsMu.RLock()
	pool, ok := r.pools[id]
	r.poolsMu.RUnlock()

	if !ok {
		return nil, notLoaded(id)
	}
	return pool, nil
}

// Loaded returns the registered identifiers, sorted.
func (r *Registry) Loaded() []string {
	r.poolsMu.RLock()
	defer r.poolsMu.RUnlock()

	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute runs a statement on the database registered under id.
func (r *Registry) Execute(ctx context.Context, id, query string, params []Value) (ExecResult, error) {
	r.poolsMu.RLock()
	defer r.poolsMu.RUnlock()

	pool, ok := r.pools[id]
	if !ok {
		return ExecResult{}, notLoaded(id)
	}
	return pool.Execute(ctx, query, params)
}

// Select runs a query on the database registered under id.
func (r *Registry) Select(ctx context.Context, id, query string, params []Value) ([]*Row, error) {
	r.poolsMu.RLock()
	defer r.poolsMu.RUnlock()

	pool, ok := r.pools[id]
	if !ok {
		return nil, notLoaded(id)
	}
	return pool.Select(ctx, query, params)
}

// Inspect calls fn with the pool registered under id. The registry read
// lock is held for the duration of fn, so the pool is not closed under it.
func (r *Registry) Inspect(id string, fn func(*Pool) error) error {
	r.poolsMu.RLock()
	defer r.poolsMu.RUnlock()

	pool, ok := r.pools[id]
	if !ok {
		return notLoaded(id)
	}
	return fn(pool)
}

// Close unregisters and closes the pool for id. A nil id closes every
// registered pool; an explicit id that is not registered fails with
// ErrDatabaseNotLoaded.
func (r *Registry) Close(id *string) error {
	var closing []*Pool

	r.poolsMu.Lock()
	if id != nil {
		pool, ok := r.pools[*id]
		if !ok {
			r.poolsMu.Unlock()
			return notLoaded(*id)
		}
		delete(r.pools, *id)
		closing = append(closing, pool)
	} else {
		for _, pool := range r.pools {
			closing = append(closing, pool)
		}
		r.pools = make(map[string]*Pool)
	}
	r.poolsMu.Unlock()

	var errs []error
	for _, pool := range closing {
		if err := pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pool.ID(), err))
			continue
		}
		r.logger.Info("database closed", "db", pool.ID())
	}
	return errors.Join(errs...)
}

// Shutdown closes every registered pool. Errors are logged, not returned.
func (r *Registry) Shutdown() {
	if err := r.Close(nil); err != nil {
		r.logger.Error("closing databases on shutdown", "error", err)
	}
}

// Preload loads every identifier in ids concurrently and returns the first
// error. Identifiers that loaded stay registered.
func (r *Registry) Preload(ctx context.Context, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := r.Load(gctx, ConnectOptions{DBURL: id}); err != nil {
				return fmt.Errorf("preloading %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Package database provides the SQLite access layer for graysql.
//
// This package manages:
//   - Named connection pools, loaded and closed at runtime (Registry)
//   - Versioned schema migrations applied before a pool is usable
//   - Execute and Select with positional, dynamically typed parameters
//   - Conversion between SQLite column values and Value
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database paths are confined to the storage directory
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//   - Lookups take a read lock only; queries run outside the registry lock
//
// Usage:
//
//	migrations := database.NewMigrationSet()
//	migrations.Register("sqlite:app.db", []database.Migration{
//	    {Version: 1, Description: "create notes", SQL: "CREATE TABLE notes (body TEXT)"},
//	})
//
//	reg := database.NewRegistry(database.RegistryConfig{
//	    StorageDir: cfg.Storage.Dir,
//	    Migrations: migrations,
//	})
//	defer reg.Shutdown()
//
//	id, err := reg.Load(ctx, database.ConnectOptions{DBURL: "sqlite:app.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rows, err := reg.Select(ctx, id, "SELECT body FROM notes", nil)
//
// Numeric Binding:
//
// Parameters bind through Encode, which widens every number to float64.
// Integers beyond 2^53 lose precision on the way in even though Decode keeps
// full int64 precision on the way out. PoolConfig.BindIntegersExact switches
// to EncodeExact, which binds Int as int64.
package database

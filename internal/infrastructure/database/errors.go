package database

import (
	"errors"
	"fmt"
)

// Sentinel errors for the database access layer.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSQL wraps any engine-level execution or connection failure.
	ErrSQL = errors.New("sql error")

	// ErrMigration wraps any failure while applying a migration batch.
	ErrMigration = errors.New("migration error")

	// ErrInvalidDBURL is returned when a database URL has no scheme separator
	// or no path.
	ErrInvalidDBURL = errors.New("invalid connection url")

	// ErrDatabaseNotLoaded is returned when an identifier has no open pool.
	ErrDatabaseNotLoaded = errors.New("database not loaded")

	// ErrUnsupportedDatatype is returned when a column value cannot be
	// represented as a Value.
	ErrUnsupportedDatatype = errors.New("unsupported datatype")
)

// Error kinds reported to callers across a transport boundary.
const (
	KindSQL                 = "Sql"
	KindMigration           = "Migration"
	KindInvalidDBURL        = "InvalidDbUrl"
	KindDatabaseNotLoaded   = "DatabaseNotLoaded"
	KindUnsupportedDatatype = "UnsupportedDatatype"
)

// UnsupportedDatatypeError names the Go type the driver produced.
type UnsupportedDatatypeError struct {
	Type string
}

func (e *UnsupportedDatatypeError) Error() string {
	return fmt.Sprintf("unsupported datatype: %s", e.Type)
}

// Is makes errors.Is(err, ErrUnsupportedDatatype) match.
func (e *UnsupportedDatatypeError) Is(target error) bool {
	return target == ErrUnsupportedDatatype
}

// ErrorKind maps err to its transport kind. Unclassified errors report as Sql
// since every other failure in this layer originates in the engine.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrDatabaseNotLoaded):
		return KindDatabaseNotLoaded
	case errors.Is(err, ErrInvalidDBURL):
		return KindInvalidDBURL
	case errors.Is(err, ErrMigration):
		return KindMigration
	case errors.Is(err, ErrUnsupportedDatatype):
		return KindUnsupportedDatatype
	default:
		return KindSQL
	}
}

func notLoaded(id string) error {
	return fmt.Errorf("%w: %s", ErrDatabaseNotLoaded, id)
}

func sqlError(err error) error {
	return fmt.Errorf("%w: %w", ErrSQL, err)
}

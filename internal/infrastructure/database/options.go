package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const (
	// dirPermissions is the permission mode for database directories.
	dirPermissions = 0750

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// driverName is the default go-sqlite3 driver registration.
	driverName = "sqlite3"
)

// ConnectOptions describe a database to load.
type ConnectOptions struct {
	// DBURL is the logical connection string, "<scheme>:<path>". The path is
	// relative to the storage directory. It doubles as the database identifier.
	DBURL string `json:"db_url"`

	// Extensions are shared libraries loaded into every new connection.
	Extensions []string `json:"extensions,omitempty"`
}

// Target is a connection target scoped to the storage directory.
type Target struct {
	// URL is the resolved connection string, "sqlite:<path>".
	URL string

	// Path is the database file path.
	Path string

	// Query holds extra DSN parameters carried over from the logical URL.
	Query url.Values

	Extensions []string
}

// Resolve maps o onto storageDir.
//
// The URL is split on its first ':'. The fragment after it is joined onto
// storageDir and must stay inside it. The containing directory is created if
// missing.
func (o ConnectOptions) Resolve(storageDir string) (Target, error) {
	_, fragment, ok := strings.Cut(o.DBURL, ":")
	if !ok {
		return Target{}, fmt.Errorf("%w: %q has no scheme separator", ErrInvalidDBURL, o.DBURL)
	}

	fragment, rawQuery, _ := strings.Cut(fragment, "?")
	if fragment == "" {
		return Target{}, fmt.Errorf("%w: %q has no path", ErrInvalidDBURL, o.DBURL)
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %w", ErrInvalidDBURL, o.DBURL, err)
	}

	base := filepath.Clean(storageDir)
	path := filepath.Join(base, fragment)
	if rel, err := filepath.Rel(base, path); err != nil || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Target{}, fmt.Errorf("%w: %q escapes the storage directory", ErrInvalidDBURL, o.DBURL)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return Target{}, fmt.Errorf("creating database directory: %w", err)
	}

	return Target{
		URL:        "sqlite:" + path,
		Path:       path,
		Query:      query,
		Extensions: o.Extensions,
	}, nil
}

// DSN builds the go-sqlite3 connection string for t.
// See: https://github.com/mattn/go-sqlite3#connection-string
func (t Target) DSN(cfg PoolConfig) string {
	params := url.Values{}
	for k, v := range t.Query {
		params[k] = v
	}
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*msPerSecond))
	params.Set("_foreign_keys", "on")
	if cfg.WALMode {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + t.Path + "?" + params.Encode()
}

var (
	extDriversMu sync.Mutex
	extDrivers   = map[string]string{}
)

// driverFor returns the registered driver name that loads extensions on
// every connection. database/sql panics on duplicate registration, so one
// driver is registered per distinct extension list for the process lifetime.
func driverFor(extensions []string) string {
	if len(extensions) == 0 {
		return driverName
	}

	key := strings.Join(extensions, "\x00")

	extDriversMu.Lock()
	defer extDriversMu.Unlock()

	if name, ok := extDrivers[key]; ok {
		return name
	}

	name := fmt.Sprintf("%s_ext_%d", driverName, len(extDrivers))
	sql.Register(name, &sqlite3.SQLiteDriver{
		Extensions: append([]string(nil), extensions...),
	})
	extDrivers[key] = name
	return name
}

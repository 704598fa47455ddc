package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/graysql/internal/infrastructure/database"
)

// Command names.
const (
	Load    = "load"
	Close   = "close"
	Execute = "execute"
	Select  = "select"
	Status  = "status"
)

// Commands lists every command the Dispatcher serves.
var Commands = []string{Load, Close, Execute, Select, Status}

// Backend is the registry surface the Dispatcher drives.
// *database.Registry implements it.
type Backend interface {
	Load(ctx context.Context, opts database.ConnectOptions) (string, error)
	Close(id *string) error
	Execute(ctx context.Context, id, query string, params []database.Value) (database.ExecResult, error)
	Select(ctx context.Context, id, query string, params []database.Value) ([]*database.Row, error)
	Loaded() []string
	Inspect(id string, fn func(*database.Pool) error) error
}

// CloseRequest closes one database, or all of them when DB is nil.
type CloseRequest struct {
	DB *string `json:"db,omitempty"`
}

// QueryRequest is the payload of execute and select.
type QueryRequest struct {
	DB     string           `json:"db"`
	Query  string           `json:"query"`
	Values []database.Value `json:"values,omitempty"`
}

// Response is the envelope every transport returns.
type Response struct {
	RequestID string     `json:"request_id,omitempty"`
	OK        bool       `json:"ok"`
	Result    any        `json:"result,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// StatusReport describes every loaded database.
type StatusReport struct {
	Databases []DatabaseStatus `json:"databases"`
}

// DatabaseStatus is one entry of a StatusReport.
type DatabaseStatus struct {
	ID         string            `json:"id"`
	Path       string            `json:"path"`
	Healthy    bool              `json:"healthy"`
	Migrations []MigrationStatus `json:"migrations"`
	Pool       PoolStats         `json:"pool"`
}

// MigrationStatus is one ledger row.
type MigrationStatus struct {
	Version         int64     `json:"version"`
	Description     string    `json:"description"`
	AppliedAt       time.Time `json:"applied_at"`
	Success         bool      `json:"success"`
	Checksum        string    `json:"checksum"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
}

// PoolStats is the subset of sql.DBStats worth reporting.
type PoolStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDurationMS  int64 `json:"wait_duration_ms"`
}

// Dispatcher routes commands to a Backend.
type Dispatcher struct {
	backend Backend
}

// NewDispatcher creates a Dispatcher over backend.
func NewDispatcher(backend Backend) *Dispatcher {
	return &Dispatcher{backend: backend}
}

// Handle runs command and wraps the outcome in a Response.
func (d *Dispatcher) Handle(ctx context.Context, command string, payload []byte) Response {
	result, err := d.Dispatch(ctx, command, payload)
	if err != nil {
		return Response{Error: NewErrorBody(err)}
	}
	return Response{OK: true, Result: result}
}

// Dispatch runs command with its JSON payload and returns the raw result.
// An empty payload is treated as {}.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, payload []byte) (any, error) {
	switch command {
	case Load:
		var req database.ConnectOptions
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return d.backend.Load(ctx, req)

	case Close:
		var req CloseRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := d.backend.Close(req.DB); err != nil {
			return nil, err
		}
		return true, nil

	case Execute:
		req, err := decodeQuery(payload)
		if err != nil {
			return nil, err
		}
		return d.backend.Execute(ctx, req.DB, req.Query, req.Values)

	case Select:
		req, err := decodeQuery(payload)
		if err != nil {
			return nil, err
		}
		return d.backend.Select(ctx, req.DB, req.Query, req.Values)

	case Status:
		return d.Status(ctx)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

// Status reports every loaded database with its migration ledger and pool
// statistics. A database closed while the report is built is left out.
func (d *Dispatcher) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{Databases: []DatabaseStatus{}}

	for _, id := range d.backend.Loaded() {
		var entry DatabaseStatus
		err := d.backend.Inspect(id, func(p *database.Pool) error {
			applied, err := database.AppliedVersions(ctx, p)
			if err != nil {
				return err
			}
			entry = databaseStatus(p, applied, p.HealthCheck(ctx) == nil)
			return nil
		})
		if errors.Is(err, database.ErrDatabaseNotLoaded) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", id, err)
		}
		report.Databases = append(report.Databases, entry)
	}
	return report, nil
}

func databaseStatus(p *database.Pool, applied []database.AppliedMigration, healthy bool) DatabaseStatus {
	migrations := make([]MigrationStatus, 0, len(applied))
	for _, m := range applied {
		migrations = append(migrations, MigrationStatus{
			Version:         m.Version,
			Description:     m.Description,
			AppliedAt:       m.AppliedAt,
			Success:         m.Success,
			Checksum:        m.Checksum,
			ExecutionTimeMS: m.ExecutionTime.Milliseconds(),
		})
	}

	stats := p.Stats()
	return DatabaseStatus{
		ID:         p.ID(),
		Path:       p.Path(),
		Healthy:    healthy,
		Migrations: migrations,
		Pool: PoolStats{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
			WaitDurationMS:  stats.WaitDuration.Milliseconds(),
		},
	}
}

func decode(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

func decodeQuery(payload []byte) (QueryRequest, error) {
	var req QueryRequest
	if err := decode(payload, &req); err != nil {
		return req, err
	}
	if req.Query == "" {
		return req, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	return req, nil
}

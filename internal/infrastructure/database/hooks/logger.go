// Package hooks provides query observability for database pools.
//
// Each hook implements database.QueryHook and is passed to the registry via
// RegistryConfig.Hooks:
//   - LoggerHook logs failed, slow or (optionally) all queries
//   - MetricsHook records Prometheus duration, count and error metrics
//   - TracingHook wraps each query in an OpenTelemetry span
package hooks

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nerrad567/graysql/internal/infrastructure/database"
)

// maxStatementLen truncates statements in logs and span attributes.
const maxStatementLen = 500

// LoggerHook logs queries.
type LoggerHook struct {
	logger        *slog.Logger
	logAll        bool
	slowThreshold time.Duration
}

// NewLoggerHook creates a logger hook. With logAll every query is logged at
// debug level; queries slower than slowThreshold (if non-zero) are logged at
// warn level. Failures are always logged.
func NewLoggerHook(logger *slog.Logger, logAll bool, slowThreshold time.Duration) *LoggerHook {
	return &LoggerHook{
		logger:        logger,
		logAll:        logAll,
		slowThreshold: slowThreshold,
	}
}

// BeforeQuery is called before a query is executed.
func (h *LoggerHook) BeforeQuery(ctx context.Context, _ *database.QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed.
func (h *LoggerHook) AfterQuery(ctx context.Context, event *database.QueryEvent) {
	duration := time.Since(event.StartTime)
	slow := h.slowThreshold > 0 && duration >= h.slowThreshold

	if event.Err == nil && !h.logAll && !slow {
		return
	}

	attrs := []slog.Attr{
		slog.String("db", event.DB),
		slog.Duration("duration", duration),
		slog.String("operation", OperationType(event.Query)),
		slog.String("query", truncate(event.Query)),
	}

	switch {
	case event.Err != nil:
		attrs = append(attrs, slog.String("error", event.Err.Error()))
		h.logger.LogAttrs(ctx, slog.LevelError, "database query failed", attrs...)
	case slow:
		h.logger.LogAttrs(ctx, slog.LevelWarn, "slow database query", attrs...)
	default:
		attrs = append(attrs, slog.Uint64("rows_affected", event.RowsAffected), slog.Int("rows", event.Rows))
		h.logger.LogAttrs(ctx, slog.LevelDebug, "database query", attrs...)
	}
}

func truncate(query string) string {
	if len(query) > maxStatementLen {
		return query[:maxStatementLen] + "..."
	}
	return query
}

// OperationType extracts the statement verb from a query.
func OperationType(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))
	switch {
	case strings.HasPrefix(query, "SELECT"):
		return "select"
	case strings.HasPrefix(query, "INSERT"):
		return "insert"
	case strings.HasPrefix(query, "UPDATE"):
		return "update"
	case strings.HasPrefix(query, "DELETE"):
		return "delete"
	case strings.HasPrefix(query, "REPLACE"):
		return "replace"
	case strings.HasPrefix(query, "WITH"):
		return "with"
	case strings.HasPrefix(query, "CREATE"):
		return "create"
	case strings.HasPrefix(query, "DROP"):
		return "drop"
	case strings.HasPrefix(query, "ALTER"):
		return "alter"
	case strings.HasPrefix(query, "PRAGMA"):
		return "pragma"
	case strings.HasPrefix(query, "BEGIN"):
		return "begin"
	case strings.HasPrefix(query, "COMMIT"):
		return "commit"
	case strings.HasPrefix(query, "ROLLBACK"):
		return "rollback"
	case strings.HasPrefix(query, "VACUUM"):
		return "vacuum"
	default:
		return "other"
	}
}

package influxdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/graysql/internal/infrastructure/database"
	"github.com/nerrad567/graysql/internal/infrastructure/database/hooks"
)

// Measurement names.
const (
	measurementQuery     = "query"
	measurementPoolStats = "pool_stats"
)

// QueryHook returns a database.QueryHook that records one point per query.
func (c *Client) QueryHook() database.QueryHook {
	return queryHook{c: c}
}

type queryHook struct {
	c *Client
}

func (h queryHook) BeforeQuery(ctx context.Context, _ *database.QueryEvent) context.Context {
	return ctx
}

func (h queryHook) AfterQuery(_ context.Context, event *database.QueryEvent) {
	h.c.writePoint(queryPoint(event, time.Now()))
}

// queryPoint builds the point for one query. Statement text is not recorded;
// only the operation verb is, to keep tag cardinality low.
func queryPoint(event *database.QueryEvent, now time.Time) *write.Point {
	tags := map[string]string{
		"db":        event.DB,
		"operation": hooks.OperationType(event.Query),
		"status":    "ok",
	}
	if event.Err != nil {
		tags["status"] = "error"
		tags["error_kind"] = database.ErrorKind(event.Err)
	}

	return write.NewPoint(
		measurementQuery,
		tags,
		map[string]interface{}{
			"duration_ms":   float64(now.Sub(event.StartTime).Microseconds()) / 1000,
			"rows":          event.Rows,
			"rows_affected": event.RowsAffected,
			"params":        len(event.Args),
		},
		event.StartTime,
	)
}

// WritePoolStats records connection pool statistics for one database.
func (c *Client) WritePoolStats(id string, stats sql.DBStats) {
	c.writePoint(poolStatsPoint(id, stats, time.Now()))
}

func poolStatsPoint(id string, stats sql.DBStats, now time.Time) *write.Point {
	return write.NewPoint(
		measurementPoolStats,
		map[string]string{"db": id},
		map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"wait_count":       stats.WaitCount,
			"wait_duration_ms": stats.WaitDuration.Milliseconds(),
		},
		now,
	)
}

// writePoint queues point; it is dropped while disconnected.
func (c *Client) writePoint(point *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(point)
}

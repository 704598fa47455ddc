// Package influxdb provides InfluxDB connectivity for graysql.
//
// It wraps the official influxdb-client-go v2 library and records query
// telemetry:
//   - one "query" point per Execute or Select, via Client.QueryHook
//   - periodic "pool_stats" points per loaded database
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	reg := database.NewRegistry(database.RegistryConfig{
//	    StorageDir: cfg.Storage.Dir,
//	    Hooks:      []database.QueryHook{client.QueryHook()},
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Writes never block a query. Batch errors are delivered to the SetOnError
// callback wrapped in ErrWriteFailed. Connection and health check errors are
// returned directly.
package influxdb

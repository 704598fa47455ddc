package hooks

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/graysql/internal/infrastructure/database"
)

// MetricsHook records Prometheus query metrics labelled by database and
// operation.
type MetricsHook struct {
	queryDuration *prometheus.HistogramVec
	queryTotal    *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
}

// NewMetricsHook creates a metrics hook and registers its collectors with
// registry. Collectors already registered by an earlier hook are reused.
func NewMetricsHook(registry prometheus.Registerer, namespace string) (*MetricsHook, error) {
	labels := []string{"db", "operation"}

	h := &MetricsHook{
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of database queries in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			labels,
		),
		queryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of database queries",
			},
			labels,
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_errors_total",
				Help:      "Total number of database query errors by error kind",
			},
			append(labels, "kind"),
		),
	}

	var err error
	if h.queryDuration, err = register(registry, h.queryDuration); err != nil {
		return nil, err
	}
	if h.queryTotal, err = register(registry, h.queryTotal); err != nil {
		return nil, err
	}
	if h.queryErrors, err = register(registry, h.queryErrors); err != nil {
		return nil, err
	}

	return h, nil
}

// register registers c, returning the existing collector if an identical
// one is already registered.
func register[C prometheus.Collector](registry prometheus.Registerer, c C) (C, error) {
	if err := registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// BeforeQuery is called before a query is executed.
func (h *MetricsHook) BeforeQuery(ctx context.Context, _ *database.QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed.
func (h *MetricsHook) AfterQuery(_ context.Context, event *database.QueryEvent) {
	duration := time.Since(event.StartTime).Seconds()
	op := OperationType(event.Query)

	h.queryDuration.WithLabelValues(event.DB, op).Observe(duration)
	h.queryTotal.WithLabelValues(event.DB, op).Inc()

	if event.Err != nil {
		h.queryErrors.WithLabelValues(event.DB, op, database.ErrorKind(event.Err)).Inc()
	}
}

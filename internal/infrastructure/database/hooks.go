package database

import (
	"context"
	"time"
)

// QueryEvent describes one Execute or Select call.
type QueryEvent struct {
	// DB is the database identifier the query ran against.
	DB string

	Query     string
	Args      []any
	StartTime time.Time

	// Err is the error returned to the caller, nil on success.
	Err error

	// RowsAffected is set by Execute, Rows by Select.
	RowsAffected uint64
	Rows         int
}

// QueryHook observes queries. BeforeQuery may return a derived context which
// is passed to the query and to AfterQuery.
type QueryHook interface {
	BeforeQuery(ctx context.Context, event *QueryEvent) context.Context
	AfterQuery(ctx context.Context, event *QueryEvent)
}

func (p *Pool) beforeQuery(ctx context.Context, event *QueryEvent) context.Context {
	for _, h := range p.hooks {
		ctx = h.BeforeQuery(ctx, event)
	}
	return ctx
}

func (p *Pool) afterQuery(ctx context.Context, event *QueryEvent) {
	for i := len(p.hooks) - 1; i >= 0; i-- {
		p.hooks[i].AfterQuery(ctx, event)
	}
}

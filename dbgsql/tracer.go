// Package dbgsql captures the database queries executed by a single request.
//
// Install a Tracer as the pgx connection's query tracer. The tracer finds the
// request's Collector in the query context, so one tracer serves every
// request, and queries outside of a tracked request are ignored.
package dbgsql

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/peterbourgon/debugbar/dbgdump"
)

// Query is a single executed query.
type Query struct {
	SQL          string        `json:"sql"`
	Args         *dbgdump.Node `json:"args,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Command      string        `json:"command,omitempty"`
	RowsAffected int64         `json:"rows_affected"`
	Error        string        `json:"error,omitempty"`
}

// CollectorConfig configures a collector for a single request.
type CollectorConfig struct {
	// Dumper produces a redacted preview of query args. Optional. By default,
	// dbgdump.Default.
	Dumper *dbgdump.Dumper

	// MaxQueries is the maximum number of queries kept. Further queries are
	// counted, but not kept. Optional. By default, 500.
	MaxQueries int

	// Now returns the current time. Optional. By default, time.Now.
	Now func() time.Time
}

const maxQueriesDef = 500

// Collector captures the queries of a single request. It's safe for
// concurrent use, as a request may run queries from multiple goroutines.
type Collector struct {
	dumper     *dbgdump.Dumper
	maxQueries int
	now        func() time.Time

	mtx     sync.Mutex
	queries []Query
	count   int
	errors  int
	total   time.Duration
}

// NewCollector returns an empty collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Dumper == nil {
		cfg.Dumper = dbgdump.Default
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = maxQueriesDef
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Collector{
		dumper:     cfg.Dumper,
		maxQueries: cfg.MaxQueries,
		now:        cfg.Now,
	}
}

// Observe records a query which has completed. It's used by the tracer, and
// may be called directly for drivers other than pgx.
func (c *Collector) Observe(sql string, args []any, started time.Time, command string, rows int64, err error) {
	q := Query{
		SQL:          sql,
		StartedAt:    started,
		Duration:     c.now().Sub(started),
		Command:      command,
		RowsAffected: rows,
	}
	if len(args) > 0 {
		q.Args = c.dumper.Preview(args)
	}
	if err != nil {
		q.Error = err.Error()
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.count++
	c.total += q.Duration
	if err != nil {
		c.errors++
	}
	if len(c.queries) < c.maxQueries {
		c.queries = append(c.queries, q)
	}
}

// Queries returns the kept queries, in completion order.
func (c *Collector) Queries() []Query {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	queries := make([]Query, len(c.queries))
	copy(queries, c.queries)
	return queries
}

// Name implements dbgcollect.Collector.
func (c *Collector) Name() string { return "database" }

// Label implements dbgcollect.Collector.
func (c *Collector) Label() string { return "Database" }

// Collect implements dbgcollect.Collector.
func (c *Collector) Collect(ctx context.Context) (map[string]any, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	queries := make([]Query, len(c.queries))
	copy(queries, c.queries)

	return map[string]any{
		"queries":        queries,
		"count":          c.count,
		"errors":         c.errors,
		"total_duration": c.total,
	}, nil
}

//
//
//

// Tracer is a pgx.QueryTracer which records queries into the Collector in
// the query context.
type Tracer struct{}

var _ pgx.QueryTracer = Tracer{}

type pendingQuery struct {
	c       *Collector
	sql     string
	args    []any
	started time.Time
}

type pendingContextKey struct{}

// TraceQueryStart implements pgx.QueryTracer.
func (Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	c, ok := MaybeGet(ctx)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, pendingContextKey{}, &pendingQuery{
		c:       c,
		sql:     data.SQL,
		args:    data.Args,
		started: c.now(),
	})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	p, ok := ctx.Value(pendingContextKey{}).(*pendingQuery)
	if !ok {
		return
	}
	p.c.Observe(p.sql, p.args, p.started, data.CommandTag.String(), data.CommandTag.RowsAffected(), data.Err)
}

//
//
//

type collectorContextKey struct{}

// Put the collector into the context.
func Put(ctx context.Context, c *Collector) (context.Context, *Collector) {
	return context.WithValue(ctx, collectorContextKey{}, c), c
}

// MaybeGet returns the collector in the context, if it exists.
func MaybeGet(ctx context.Context) (*Collector, bool) {
	c, ok := ctx.Value(collectorContextKey{}).(*Collector)
	return c, ok
}

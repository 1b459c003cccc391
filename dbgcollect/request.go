package dbgcollect

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/debugbar/dbgredact"
	"github.com/peterbourgon/debugbar/dbgsql"
	"github.com/peterbourgon/debugbar/dbgstore"
	"github.com/peterbourgon/debugbar/dbgview"
	"github.com/peterbourgon/debugbar/internal/dbgutil"
	"go.uber.org/zap"
)

// RequestConfig configures a single request.
type RequestConfig struct {
	// Config is the debug bar configuration. Optional. By default,
	// debugbar.DefaultConfig.
	Config *debugbar.Config

	// Dumper is shared by the collectors. Optional. By default, a dumper
	// built from the config limits and redaction rules.
	Dumper *dbgdump.Dumper

	// Store receives full dumps. Optional.
	Store dbgstore.Store

	// LateLogs receives log entries written after Finish. Optional.
	LateLogs *dbglog.LateLogs

	// Logger is the application logger. The request's logger tees into it.
	// Optional. By default, a nop logger.
	Logger *zap.Logger

	// HTTPRequest is the request being debugged. Optional. See also
	// Request.Bind.
	HTTPRequest *http.Request

	// AuthFunc reports the authentication state of the request. Optional.
	AuthFunc AuthFunc

	// Collectors are added after the built-in collectors. Optional.
	Collectors []Collector

	// Now returns the current time. Optional. By default, time.Now.
	Now func() time.Time
}

// Request is the debug state of a single HTTP request.
type Request struct {
	id         string
	started    time.Time
	now        func() time.Time
	config     debugbar.Config
	store      dbgstore.Store
	base       *zap.Logger
	logger     *zap.Logger
	tracker    *dbgview.Tracker
	logs       *dbglog.Collector
	queries    *dbgsql.Collector
	bound      *boundRequest
	collectors []Collector
	finish     sync.Once
}

// NewRequest returns a request with a fresh ID.
func NewRequest(cfg RequestConfig) *Request {
	config := debugbar.DefaultConfig()
	if cfg.Config != nil {
		config = *cfg.Config
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dumper == nil {
		policy, err := dbgredact.Compile(config.Redaction)
		if err != nil {
			cfg.Logger.Warn("invalid redaction rules, using defaults", zap.Error(err))
			policy = dbgredact.MustCompile(dbgredact.DefaultConfig())
		}
		cfg.Dumper = dbgdump.New(config.Dump, config.Preview, policy)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	id := debugbar.NewRequestID()

	tracker := dbgview.NewTracker(dbgview.TrackerConfig{
		Dumper:              cfg.Dumper,
		Store:               cfg.Store,
		RequestID:           id,
		PerformanceTracking: config.PerformanceTracking,
		FullDumps:           config.FullDumps,
		Logger:              cfg.Logger,
		Now:                 cfg.Now,
	})

	logs := dbglog.NewCollector(dbglog.CollectorConfig{
		RequestID: id,
		Dumper:    cfg.Dumper,
		Late:      cfg.LateLogs,
	})

	queries := dbgsql.NewCollector(dbgsql.CollectorConfig{
		Dumper: cfg.Dumper,
		Now:    cfg.Now,
	})

	bound := &boundRequest{r: cfg.HTTPRequest}

	collectors := []Collector{
		&viewsCollector{tracker: tracker},
		&requestCollector{bound: bound, dumper: cfg.Dumper},
		&routeCollector{bound: bound},
		&authCollector{bound: bound, fn: cfg.AuthFunc, dumper: cfg.Dumper},
		logs,
		queries,
	}
	collectors = append(collectors, cfg.Collectors...)

	return &Request{
		id:         id,
		started:    cfg.Now(),
		now:        cfg.Now,
		config:     config,
		store:      cfg.Store,
		base:       cfg.Logger,
		logger:     logs.Wrap(cfg.Logger.With(zap.String("request_id", id))),
		tracker:    tracker,
		logs:       logs,
		queries:    queries,
		bound:      bound,
		collectors: collectors,
	}
}

// ID returns the request ID.
func (r *Request) ID() string { return r.id }

// Bind the HTTP request reported by the built-in collectors. Routers record
// the matched pattern on the request they're given, so this should be the
// request passed to the router, not one derived from it.
func (r *Request) Bind(hr *http.Request) { r.bound.set(hr) }

// Tracker returns the view tracker.
func (r *Request) Tracker() *dbgview.Tracker { return r.tracker }

// Logger returns a logger which writes to the application logger, and to the
// request's log collector.
func (r *Request) Logger() *zap.Logger { return r.logger }

// Logs returns the log collector.
func (r *Request) Logs() *dbglog.Collector { return r.logs }

// Queries returns the query collector.
func (r *Request) Queries() *dbgsql.Collector { return r.queries }

// Context returns ctx carrying the request, its tracker, its logger, and its
// query collector.
func (r *Request) Context(ctx context.Context) context.Context {
	ctx, _ = Put(ctx, r)
	ctx, _ = dbgview.Put(ctx, r.tracker)
	ctx, _ = dbglog.Put(ctx, r.logger)
	ctx, _ = dbgsql.Put(ctx, r.queries)
	return ctx
}

// Dataset is the collected debug data of a single request.
type Dataset struct {
	RequestID  string          `json:"request_id"`
	Templates  []dbgview.Span  `json:"templates"`
	Total      int             `json:"total"`
	Resources  Resources       `json:"resources"`
	Collectors []Entry         `json:"collectors"`
	Enabled    map[string]bool `json:"enabled"`
	Problems   []string        `json:"problems,omitempty"`
}

// Collect the dataset. Disabled collectors produce entries without data, and
// collector faults are reported in the corresponding entry, so Collect always
// returns a complete dataset.
func (r *Request) Collect(ctx context.Context) *Dataset {
	ds := &Dataset{
		RequestID:  r.id,
		Templates:  []dbgview.Span{},
		Collectors: make([]Entry, 0, len(r.collectors)),
		Enabled:    make(map[string]bool, len(r.collectors)),
	}

	var problems []error
	for _, c := range r.collectors {
		enabled := r.config.CollectorEnabled(safeName(c))
		e := collectEntry(ctx, c, enabled)
		if e.Error != "" {
			r.base.Debug("collector fault", zap.String("request_id", r.id), zap.String("collector", e.Name), zap.String("error", e.Error))
			problems = append(problems, fmt.Errorf("%s: %s", e.Name, e.Error))
		}
		ds.Collectors = append(ds.Collectors, e)
		ds.Enabled[e.Name] = e.Enabled
	}

	ds.Problems = dbgutil.FlattenErrors(problems...)

	if ds.Enabled[viewsName] {
		ds.Templates = r.tracker.Templates()
		ds.Total = r.tracker.Total()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	ds.Resources = Resources{
		Duration:     r.now().Sub(r.started),
		HeapAlloc:    ms.HeapAlloc,
		NumGoroutine: runtime.NumGoroutine(),
	}

	return ds
}

func safeName(c Collector) (name string) {
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	return c.Name()
}

// Finish marks the request as done. Subsequent log entries become late
// entries, and the request's dump budget is released. Finish is idempotent.
func (r *Request) Finish() {
	r.finish.Do(func() {
		r.logs.Finish()
		if r.store != nil {
			r.store.Release(r.id)
		}
	})
}

//
//
//

type requestContextKey struct{}

// Put the request into the context.
func Put(ctx context.Context, r *Request) (context.Context, *Request) {
	return context.WithValue(ctx, requestContextKey{}, r), r
}

// Get the request from the context, if it exists. If not, an orphan request
// is created and returned, but not injected into the context.
func Get(ctx context.Context) *Request {
	if r, ok := MaybeGet(ctx); ok {
		return r
	}
	return NewRequest(RequestConfig{})
}

// MaybeGet returns the request in the context, if it exists.
func MaybeGet(ctx context.Context) (*Request, bool) {
	r, ok := ctx.Value(requestContextKey{}).(*Request)
	return r, ok
}

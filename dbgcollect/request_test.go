package dbgcollect_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgcollect"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/debugbar/dbgsql"
	"github.com/peterbourgon/debugbar/dbgstore"
	"github.com/peterbourgon/debugbar/dbgview"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if diff := cmp.Diff(want, have); diff != "" {
		t.Errorf("(-want +have):\n%s", diff)
	}
}

func entry(t *testing.T, ds *dbgcollect.Dataset, name string) dbgcollect.Entry {
	t.Helper()
	for _, e := range ds.Collectors {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no %s entry", name)
	return dbgcollect.Entry{}
}

func names(ds *dbgcollect.Dataset) []string {
	var ns []string
	for _, e := range ds.Collectors {
		ns = append(ns, e.Name)
	}
	return ns
}

func TestCollect(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/users/42?tab=profile&token=abc", nil)
	r.Header.Set("Authorization", "Bearer hunter2")
	r.Header.Set("Accept", "text/html")
	r.Pattern = "GET /users/{id}"
	r.SetPathValue("id", "42")

	req := dbgcollect.NewRequest(dbgcollect.RequestConfig{
		HTTPRequest: r,
		AuthFunc: func(*http.Request) (map[string]any, error) {
			return map[string]any{"user": "ann", "roles": []string{"admin"}}, nil
		},
	})
	if !debugbar.IsRequestID(req.ID()) {
		t.Fatalf("invalid request ID %q", req.ID())
	}

	ctx := req.Context(context.Background())
	dbgview.Get(ctx).OnRenderStart(1, "users/show.html")
	dbgview.Get(ctx).OnRenderEnd(1, "users/show.html", map[string]any{"id": 42})
	dbglog.Get(ctx).Info("loaded user")
	if c, ok := dbgsql.MaybeGet(ctx); ok {
		c.Observe("SELECT * FROM users WHERE id = $1", []any{42}, time.Now(), "SELECT 1", 1, nil)
	}

	ds := req.Collect(ctx)

	assertEqual(t, ds.RequestID, req.ID())
	assertEqual(t, ds.Total, 1)
	assertEqual(t, len(ds.Templates), 1)
	assertEqual(t, names(ds), []string{"views", "request", "route", "auth", "logs", "database"})
	for _, e := range ds.Collectors {
		assertEqual(t, ds.Enabled[e.Name], true)
		assertEqual(t, e.Error, "")
	}

	request := entry(t, ds, "request").Data
	assertEqual(t, request["method"], any("GET"))

	headers := request["headers"].(*dbgdump.Node)
	auth, _ := headers.Get("Authorization")
	assertEqual(t, auth.Kind, dbgdump.KindRedacted)

	query := request["query"].(*dbgdump.Node)
	token, _ := query.Get("token")
	assertEqual(t, token.Kind, dbgdump.KindRedacted)

	route := entry(t, ds, "route").Data
	assertEqual(t, route["pattern"], any("GET /users/{id}"))
	assertEqual(t, route["values"], any(map[string]string{"id": "42"}))

	assertEqual(t, entry(t, ds, "auth").Data["authenticated"], any(true))
	assertEqual(t, entry(t, ds, "logs").Data["count"], any(1))
	assertEqual(t, entry(t, ds, "database").Data["count"], any(1))

	buf, err := json.Marshal(ds)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(buf), "hunter2") {
		t.Errorf("secret leaked: %s", buf)
	}
}

func TestBind(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/users/42", nil)
	req := dbgcollect.NewRequest(dbgcollect.RequestConfig{HTTPRequest: r})

	ctx := req.Context(context.Background())
	assertEqual(t, entry(t, req.Collect(ctx), "route").Data["matched"], any(false))

	routed := r.WithContext(ctx)
	routed.Pattern = "GET /users/{id}"
	routed.SetPathValue("id", "42")
	req.Bind(routed)

	route := entry(t, req.Collect(ctx), "route").Data
	assertEqual(t, route["matched"], any(true))
	assertEqual(t, route["values"], any(map[string]string{"id": "42"}))
	assertEqual(t, r.Pattern, "")
}

func TestDisabledCollectors(t *testing.T) {
	t.Parallel()

	cfg := debugbar.DefaultConfig()
	cfg.Collectors = map[string]bool{"views": false, "database": false, "logs": true}

	req := dbgcollect.NewRequest(dbgcollect.RequestConfig{Config: &cfg})
	req.Tracker().OnRenderEnd(1, "page.html", nil)

	ds := req.Collect(context.Background())

	assertEqual(t, names(ds), []string{"views", "request", "route", "auth", "logs", "database"})
	assertEqual(t, ds.Enabled, map[string]bool{
		"views":    false,
		"request":  true,
		"route":    true,
		"auth":     true,
		"logs":     true,
		"database": false,
	})

	views := entry(t, ds, "views")
	assertEqual(t, views.Enabled, false)
	assertEqual(t, views.Data, map[string]any{})
	assertEqual(t, ds.Total, 0)
	assertEqual(t, ds.Templates, []dbgview.Span{})
}

type panicCollector struct{}

func (panicCollector) Name() string { return "boom" }
func (panicCollector) Label() string { return "Boom" }
func (panicCollector) Collect(context.Context) (map[string]any, error) {
	panic("kaboom")
}

func TestCollectorFaults(t *testing.T) {
	t.Parallel()

	req := dbgcollect.NewRequest(dbgcollect.RequestConfig{
		Collectors: []dbgcollect.Collector{
			panicCollector{},
			dbgcollect.CollectorFunc("cache", "Cache", func(context.Context) (map[string]any, error) {
				return nil, errors.New("cache unavailable")
			}),
			dbgcollect.CollectorFunc("custom", "Custom", func(context.Context) (map[string]any, error) {
				return map[string]any{"hits": 3}, nil
			}),
		},
	})

	ds := req.Collect(context.Background())

	boom := entry(t, ds, "boom")
	assertEqual(t, boom.Enabled, true)
	assertEqual(t, boom.Data, map[string]any{})
	assertEqual(t, boom.Error, "panic: kaboom")

	cache := entry(t, ds, "cache")
	assertEqual(t, cache.Data, map[string]any{})
	assertEqual(t, cache.Error, "cache unavailable")

	assertEqual(t, entry(t, ds, "custom").Data, map[string]any{"hits": 3})
	assertEqual(t, ds.Problems, []string{"boom: panic: kaboom", "cache: cache unavailable"})
}

func TestFinish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbgstore.NewMemoryStore(dbgstore.Config{})
	defer store.Close()
	late := dbglog.NewLateLogs(dbglog.LateConfig{})

	cfg := debugbar.DefaultConfig()
	cfg.FullDumps = true

	req := dbgcollect.NewRequest(dbgcollect.RequestConfig{
		Config:   &cfg,
		Store:    store,
		LateLogs: late,
	})

	req.Tracker().OnRenderEnd(1, "page.html", map[string]any{"a": 1})
	if store.Used(req.ID()) == 0 {
		t.Fatalf("full dump should be stored")
	}

	req.Logger().Info("during")
	req.Finish()
	req.Finish() // idempotent
	req.Logger().Info("after")

	assertEqual(t, store.Used(req.ID()), 0)

	entries, err := late.Get(req.ID())
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, len(entries), 1)
	assertEqual(t, entries[0].Message, "after")

	span := req.Tracker().Templates()[0]
	if _, err := store.Retrieve(ctx, req.ID(), span.DumpID); err != nil {
		t.Errorf("dumps outlive the request: %v", err)
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, ok := dbgcollect.MaybeGet(ctx); ok {
		t.Fatal("empty context should have no request")
	}
	if !debugbar.IsRequestID(dbgcollect.Get(ctx).ID()) {
		t.Fatal("orphan request should have an ID")
	}

	req := dbgcollect.NewRequest(dbgcollect.RequestConfig{})
	ctx = req.Context(ctx)
	if have := dbgcollect.Get(ctx); have != req {
		t.Errorf("Get: want %p, have %p", req, have)
	}
	if have := dbgview.Get(ctx); have != req.Tracker() {
		t.Errorf("tracker not in context")
	}
}

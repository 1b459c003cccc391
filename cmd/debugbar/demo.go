package main

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/debugbar/dbgview"
	"go.uber.org/zap"
)

var demoTemplates = template.Must(template.New("layout").Funcs(dbgview.FuncMap()).Parse(`<!DOCTYPE html>
<html>
<head><title>{{ .title }}</title></head>
<body>
{{ render "header" . }}
<ul>
{{ range .items }}<li>{{ render "item" . }}</li>
{{ end }}</ul>
</body>
</html>
{{ define "header" }}<h1>{{ .title }}</h1><p>signed in as {{ .user.name }}</p>{{ end }}
{{ define "item" }}{{ .name }}: {{ .price }}{{ end }}
`))

type demoItem struct {
	Name  string
	Price float64
}

// newDemo returns a small application which renders nested templates, logs
// during and after the response, and optionally queries a database.
func newDemo(pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := dbglog.Get(ctx)

		items := []map[string]any{
			{"name": "widget", "price": 9.99},
			{"name": "gadget", "price": 24.5},
			{"name": "gizmo", "price": 3},
		}

		if pool != nil {
			var now time.Time
			if err := pool.QueryRow(ctx, "SELECT now()").Scan(&now); err != nil {
				logger.Warn("query failed", zap.Error(err))
			} else {
				logger.Info("database time", zap.Time("now", now))
			}
		}

		data := map[string]any{
			"title": "Demo",
			"user":  map[string]any{"name": "guest", "password": "hunter2", "api_key": "abc123"},
			"items": items,
		}

		logger.Info("rendering home", zap.Int("items", len(items)))

		w.Header().Set("content-type", "text/html; charset=utf-8")
		if err := dbgview.Get(ctx).Execute(ctx, demoTemplates, w, data); err != nil {
			logger.Error("render home", zap.Error(err))
		}

		// Work which outlives the response produces late log entries.
		go func(logger *zap.Logger) {
			time.Sleep(100 * time.Millisecond)
			logger.Info("background work finished", zap.Any("item", demoItem{Name: "widget", Price: 9.99}))
		}(logger)
	})

	mux.HandleFunc("GET /api/items", func(w http.ResponseWriter, r *http.Request) {
		dbglog.Get(r.Context()).Debug("listing items")
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode([]demoItem{{"widget", 9.99}, {"gadget", 24.5}})
	})

	return mux
}

func demoAuth(r *http.Request) (map[string]any, error) {
	user, _, ok := r.BasicAuth()
	if !ok {
		return map[string]any{"authenticated": false}, nil
	}
	return map[string]any{"authenticated": true, "user": user}, nil
}


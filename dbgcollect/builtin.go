package dbgcollect

import (
	"context"
	"net/http"
	"regexp"
	"sync"

	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbgview"
)

const viewsName = "views"

type viewsCollector struct {
	tracker *dbgview.Tracker
}

func (c *viewsCollector) Name() string { return viewsName }
func (c *viewsCollector) Label() string { return "Views" }

func (c *viewsCollector) Collect(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"templates": c.tracker.Templates(),
		"total":     c.tracker.Total(),
		"open":      c.tracker.Open(),
	}, nil
}

//
//
//

// boundRequest is the HTTP request reported by the request, route, and auth
// collectors. It's rebound to the request the application actually receives,
// which is where routers record the matched pattern.
type boundRequest struct {
	mtx sync.Mutex
	r   *http.Request
}

func (b *boundRequest) get() *http.Request {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.r
}

func (b *boundRequest) set(r *http.Request) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.r = r
}

//
//
//

type requestCollector struct {
	bound  *boundRequest
	dumper *dbgdump.Dumper
}

func (c *requestCollector) Name() string { return "request" }
func (c *requestCollector) Label() string { return "Request" }

func (c *requestCollector) Collect(ctx context.Context) (map[string]any, error) {
	r := c.bound.get()
	if r == nil {
		return map[string]any{}, nil
	}
	return map[string]any{
		"method":         r.Method,
		"path":           r.URL.Path,
		"proto":          r.Proto,
		"host":           r.Host,
		"remote_addr":    r.RemoteAddr,
		"content_length": r.ContentLength,
		"headers":        c.dumper.Preview(map[string][]string(r.Header)),
		"query":          c.dumper.Preview(map[string][]string(r.URL.Query())),
	}, nil
}

//
//
//

type routeCollector struct {
	bound *boundRequest
}

func (c *routeCollector) Name() string { return "route" }
func (c *routeCollector) Label() string { return "Route" }

var wildcardExpr = regexp.MustCompile(`\{([^}.]*)(\.\.\.)?\}`)

func (c *routeCollector) Collect(ctx context.Context) (map[string]any, error) {
	r := c.bound.get()
	if r == nil || r.Pattern == "" {
		return map[string]any{"matched": false}, nil
	}

	values := map[string]string{}
	for _, m := range wildcardExpr.FindAllStringSubmatch(r.Pattern, -1) {
		if name := m[1]; name != "" && name != "$" {
			values[name] = r.PathValue(name)
		}
	}

	return map[string]any{
		"matched": true,
		"pattern": r.Pattern,
		"values":  values,
	}, nil
}

//
//
//

// AuthFunc reports the authentication state of a request, e.g. the user ID
// and roles. The result is shown through the preview dumper, so redaction
// applies.
type AuthFunc func(r *http.Request) (map[string]any, error)

type authCollector struct {
	bound  *boundRequest
	fn     AuthFunc
	dumper *dbgdump.Dumper
}

func (c *authCollector) Name() string { return "auth" }
func (c *authCollector) Label() string { return "Auth" }

func (c *authCollector) Collect(ctx context.Context) (map[string]any, error) {
	r := c.bound.get()
	if c.fn == nil || r == nil {
		return map[string]any{"authenticated": false}, nil
	}

	state, err := c.fn(r)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"authenticated": len(state) > 0,
		"state":         c.dumper.Preview(state),
	}, nil
}

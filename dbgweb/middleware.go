package dbgweb

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgcollect"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/debugbar/dbgstore"
	"github.com/peterbourgon/debugbar/internal/dbgutil"
	"go.uber.org/zap"
)

// RequestHeader is set on every response handled by an enabled middleware,
// and carries the request ID. Clients use it to fetch dumps and late logs.
const RequestHeader = "X-Debugbar-Request"

// MiddlewareConfig configures the middleware.
type MiddlewareConfig struct {
	// Config is the debug bar configuration. Optional. By default,
	// debugbar.DefaultConfig.
	Config *debugbar.Config

	// HostDebug is the debug flag of the host application, which decides
	// whether the debug bar is enabled when Config.Enabled is unset.
	HostDebug bool

	// Validator decides which requests get a debug bar. Optional. By default,
	// AllowAll.
	Validator Validator

	// Store receives full dumps. Optional.
	Store dbgstore.Store

	// LateLogs receives log entries written after the response. Optional.
	LateLogs *dbglog.LateLogs

	// Logger is the application logger. Optional. By default, a nop logger.
	Logger *zap.Logger

	// Dumper is shared by the collectors of every request. Optional.
	Dumper *dbgdump.Dumper

	// AuthFunc reports the authentication state of a request. Optional.
	AuthFunc dbgcollect.AuthFunc

	// Collectors returns additional collectors for a request. Optional.
	Collectors func(*http.Request) []dbgcollect.Collector

	// Renderer produces the injected panel. Optional. By default,
	// DefaultRenderer.
	Renderer Renderer
}

// Middleware decorates an HTTP handler by creating a debug request for each
// request, and injecting the rendered panel into HTML responses. Requests
// which aren't allowed, or all requests if the debug bar is disabled, are
// passed through untouched.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	config := debugbar.DefaultConfig()
	if cfg.Config != nil {
		config = *cfg.Config
	}
	if cfg.Validator == nil {
		cfg.Validator = AllowAll
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = DefaultRenderer
	}

	enabled := config.IsEnabled(cfg.HostDebug)

	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Validator.Allow(r) {
				next.ServeHTTP(w, r)
				return
			}

			var extra []dbgcollect.Collector
			if cfg.Collectors != nil {
				extra = cfg.Collectors(r)
			}

			req := dbgcollect.NewRequest(dbgcollect.RequestConfig{
				Config:      &config,
				Dumper:      cfg.Dumper,
				Store:       cfg.Store,
				LateLogs:    cfg.LateLogs,
				Logger:      cfg.Logger,
				HTTPRequest: r,
				AuthFunc:    cfg.AuthFunc,
				Collectors:  extra,
			})
			defer req.Finish()

			w.Header().Set(RequestHeader, req.ID())

			// The router sets the pattern on the request it's given.
			r = r.WithContext(req.Context(r.Context()))
			req.Bind(r)

			iw := newInterceptor(w)
			begin := time.Now()
			next.ServeHTTP(iw, r)

			req.Logger().Debug("response",
				zap.Int("code", iw.Code()),
				zap.String("written", dbgutil.HumanizeBytes(iw.Written())),
				zap.Duration("took", time.Since(begin)),
			)

			if !iw.Buffering() {
				iw.passthrough() // handlers which never wrote a body
				return
			}

			body := iw.Body()
			if panel, err := renderPanel(r, req, cfg.Renderer); err != nil {
				cfg.Logger.Warn("render panel failed", zap.String("request_id", req.ID()), zap.Error(err))
			} else {
				body = injectPanel(body, panel)
			}

			if err := iw.Send(body); err != nil {
				cfg.Logger.Debug("write response", zap.String("request_id", req.ID()), zap.Error(err))
			}
		})
	}
}

func renderPanel(r *http.Request, req *dbgcollect.Request, renderer Renderer) (_ []byte, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("panic: %v", x)
		}
	}()

	ds := req.Collect(r.Context())
	return renderer.Render(r.Context(), ds)
}

// injectPanel inserts the panel before the last closing body tag. Documents
// without one get the panel appended.
func injectPanel(body, panel []byte) []byte {
	const closeBody = "</body>"

	idx := bytes.LastIndex(bytes.ToLower(body), []byte(closeBody))
	if idx < 0 {
		idx = len(body)
	}

	out := make([]byte, 0, len(body)+len(panel))
	out = append(out, body[:idx]...)
	out = append(out, panel...)
	out = append(out, body[idx:]...)
	return out
}

//
//
//

// interceptor buffers HTML responses so the panel can be injected. Anything
// else, or any response which is flushed, is passed through.
type interceptor struct {
	http.ResponseWriter

	flush   func()
	code    int
	n       int
	decided bool
	buffer  bool
	buf     bytes.Buffer
}

func newInterceptor(w http.ResponseWriter) *interceptor {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	return &interceptor{ResponseWriter: w, flush: flush}
}

func (i *interceptor) WriteHeader(code int) {
	if code >= 100 && code < 200 {
		i.ResponseWriter.WriteHeader(code)
		return
	}
	if i.code == 0 {
		i.code = code
	}
	if code == http.StatusNoContent || code == http.StatusNotModified {
		i.passthrough()
	}
}

func (i *interceptor) Write(p []byte) (int, error) {
	if !i.decided {
		i.decide(p)
	}

	if i.buffer {
		n, err := i.buf.Write(p)
		i.n += n
		return n, err
	}

	n, err := i.ResponseWriter.Write(p)
	i.n += n
	return n, err
}

func (i *interceptor) Flush() {
	if i.buffer {
		if err := i.passthrough(); err != nil {
			return
		}
	}
	i.flush()
}

// Unwrap supports http.ResponseController.
func (i *interceptor) Unwrap() http.ResponseWriter {
	return i.ResponseWriter
}

func (i *interceptor) Code() int {
	if i.code == 0 {
		return http.StatusOK
	}
	return i.code
}

func (i *interceptor) Written() int {
	return i.n
}

// Buffering returns true if the response is still held by the interceptor.
func (i *interceptor) Buffering() bool {
	return i.buffer
}

func (i *interceptor) Body() []byte {
	return i.buf.Bytes()
}

// Send writes the final body of a buffered response, with a corrected
// content length.
func (i *interceptor) Send(body []byte) error {
	i.buffer = false
	h := i.ResponseWriter.Header()
	if h.Get("content-length") != "" {
		h.Set("content-length", strconv.Itoa(len(body)))
	}
	i.ResponseWriter.WriteHeader(i.Code())
	_, err := i.ResponseWriter.Write(body)
	return err
}

func (i *interceptor) decide(p []byte) {
	i.decided = true

	h := i.ResponseWriter.Header()
	if h.Get("content-type") == "" {
		h.Set("content-type", http.DetectContentType(p))
	}

	if isHTML(h.Get("content-type")) && h.Get("content-encoding") == "" {
		i.buffer = true
		return
	}

	i.ResponseWriter.WriteHeader(i.Code())
}

// passthrough stops buffering, and writes anything held so far.
func (i *interceptor) passthrough() error {
	if i.decided && !i.buffer {
		return nil
	}
	i.decided = true
	i.buffer = false
	i.ResponseWriter.WriteHeader(i.Code())
	_, err := i.buf.WriteTo(i.ResponseWriter)
	return err
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}

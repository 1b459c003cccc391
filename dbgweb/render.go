package dbgweb

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"mime"
	"net/http"
	"strings"

	"github.com/peterbourgon/debugbar/dbgcollect"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/internal/dbgutil"
	"go.uber.org/zap"
)

//go:embed assets/*
var assetsRoot embed.FS

var assets = func() fs.FS {
	assets, err := fs.Sub(assetsRoot, "assets")
	if err != nil {
		panic(err)
	}
	return assets
}()

var templates = template.Must(template.New("root").Funcs(templateFuncs).ParseFS(assets, "*.html"))

var templateFuncs = template.FuncMap{
	"JSON":             marshalJS,
	"HumanizeDuration": dbgutil.HumanizeDuration,
	"HumanizeHeap":     dbgutil.HumanizeBytes[uint64],
	"IsScalar":         func(n *dbgdump.Node) bool { return n != nil && n.IsScalar() },
}

// marshalJS encodes v as JSON for inclusion in a script element. The encoder
// escapes <, >, and &, so the output can't close the element.
func marshalJS(v any) (template.JS, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return template.JS(buf), nil
}

//
//
//

// Renderer produces the panel which is injected into HTML responses.
type Renderer interface {
	Render(ctx context.Context, ds *dbgcollect.Dataset) ([]byte, error)
}

// RendererFunc adapts a function to a renderer.
type RendererFunc func(ctx context.Context, ds *dbgcollect.Dataset) ([]byte, error)

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, ds *dbgcollect.Dataset) ([]byte, error) {
	return f(ctx, ds)
}

// DefaultRenderer embeds the dataset as a JSON script element, along with a
// minimal summary, for a front-end widget to pick up.
var DefaultRenderer Renderer = RendererFunc(func(ctx context.Context, ds *dbgcollect.Dataset) ([]byte, error) {
	return renderTemplate("panel.html", ds)
})

func renderTemplate(name string, data any) (_ []byte, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("panic: %v", x)
		}
	}()

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

//
//
//

func renderResponse(w http.ResponseWriter, r *http.Request, logger *zap.Logger, templateName string, data any) {
	var (
		asksForJSON = r.URL.Query().Has("json")
		acceptsHTML = requestExplicitlyAccepts(r, "text/html")
	)
	switch {
	case acceptsHTML && !asksForJSON:
		renderHTML(w, logger, templateName, data)
	default:
		renderJSON(w, logger, http.StatusOK, data)
	}
}

func renderHTML(w http.ResponseWriter, logger *zap.Logger, templateName string, data any) {
	code := http.StatusOK
	body, err := renderTemplate(templateName, data)
	if err != nil {
		logger.Error("render template", zap.String("template", templateName), zap.Error(err))
		code = http.StatusInternalServerError
		body = []byte(fmt.Sprintf(`<html><body><h1>Error</h1><p>%s</p>`, template.HTMLEscapeString(err.Error())))
	}

	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

func renderJSON(w http.ResponseWriter, logger *zap.Logger, code int, data any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")

	if err := enc.Encode(data); err != nil {
		code = http.StatusInternalServerError
		logger.Error("marshal JSON", zap.Error(err))
		buf.Reset()
		buf.WriteString(`{"error":"failed to marshal response"}`)
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	buf.WriteTo(w)
}

type errorResponse struct {
	Error string `json:"error"`
}

func renderError(w http.ResponseWriter, logger *zap.Logger, code int) {
	renderJSON(w, logger, code, errorResponse{Error: strings.ToLower(http.StatusText(code))})
}

func requestExplicitlyAccepts(r *http.Request, acceptable ...string) bool {
	accept := parseAcceptMediaTypes(r)
	for _, want := range acceptable {
		if _, ok := accept[want]; ok {
			return true
		}
	}
	return false
}

func parseAcceptMediaTypes(r *http.Request) map[string]map[string]string {
	mediaTypes := map[string]map[string]string{} // type: params
	for _, a := range strings.Split(r.Header.Get("accept"), ",") {
		mediaType, params, err := mime.ParseMediaType(a)
		if err != nil {
			continue
		}
		mediaTypes[mediaType] = params
	}
	return mediaTypes
}

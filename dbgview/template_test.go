package dbgview_test

import (
	"context"
	"html/template"
	"strings"
	"testing"

	"github.com/peterbourgon/debugbar/dbgview"
)

func TestExecute(t *testing.T) {
	t.Parallel()

	tmpl := template.Must(template.New("page").Funcs(dbgview.FuncMap()).Parse(
		`<h1>{{.title}}</h1>{{range .items}}{{render "item" .}}{{end}}`,
	))
	template.Must(tmpl.New("item").Parse(`<li>{{.}}</li>`))

	tr := dbgview.NewTracker(dbgview.TrackerConfig{PerformanceTracking: true})

	var sb strings.Builder
	err := tr.Execute(context.Background(), tmpl, &sb, map[string]any{
		"title": "<Hello>",
		"items": []string{"a", "b"},
	})
	if err != nil {
		t.Fatal(err)
	}

	assertEqual(t, sb.String(), `<h1>&lt;Hello&gt;</h1><li>a</li><li>b</li>`)
	assertEqual(t, paths(tr.Templates()), []string{"page", "item", "item"})

	spans := tr.Templates()
	assertEqual(t, spans[0].Depth, 0)
	assertEqual(t, spans[1].Depth, 1)
	assertEqual(t, spans[2].Depth, 1)

	data, ok := spans[1].Data.Get("data")
	if !ok {
		t.Fatalf("nested render data missing: %s", spans[1].Data.Text())
	}
	assertEqual(t, data.String, "a")

	// The original template can be executed again.
	sb.Reset()
	if err := tr.Execute(context.Background(), tmpl, &sb, map[string]any{"title": "again"}); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, tr.Total(), 4)
}

func TestRenderOutsideTracker(t *testing.T) {
	t.Parallel()

	tmpl := template.Must(template.New("page").Funcs(dbgview.FuncMap()).Parse(`{{render "x" .}}`))
	var sb strings.Builder
	if err := tmpl.Execute(&sb, nil); err == nil {
		t.Errorf("want error, have none")
	}
}

func TestExecuteError(t *testing.T) {
	t.Parallel()

	tmpl := template.Must(template.New("page").Funcs(dbgview.FuncMap()).Parse(`{{render "missing" .}}`))
	tr := dbgview.NewTracker(dbgview.TrackerConfig{})

	var sb strings.Builder
	if err := tr.Execute(context.Background(), tmpl, &sb, nil); err == nil {
		t.Errorf("want error, have none")
	}
	assertEqual(t, tr.Open(), 0)
	assertEqual(t, paths(tr.Templates()), []string{"page"})
}

package dbgview

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
)

// renderToken is the identity of a single template execution.
type renderToken struct{ _ byte }

// FuncMap returns the template funcs used by instrumented templates, to be
// installed before parsing. The render func executes the named template with
// the given data, and returns its output. Outside of Execute, render isn't
// tracked.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"render": func(name string, data any) (template.HTML, error) {
			return "", fmt.Errorf("render %q: template was not executed by a tracker", name)
		},
	}
}

// Execute the template with the data into w, recording a span for it, and for
// each nested render call. The template is cloned, so that its render func
// can be bound to the tracker; the passed template is never executed itself.
func (t *Tracker) Execute(ctx context.Context, tmpl *template.Template, w io.Writer, data any) error {
	clone, err := tmpl.Clone()
	if err != nil {
		// Cloning fails once the template has been executed directly.
		return t.execute(tmpl, tmpl.Name(), w, data)
	}

	clone.Funcs(template.FuncMap{
		"render": func(name string, data any) (template.HTML, error) {
			var buf bytes.Buffer
			if err := t.execute(clone, name, &buf, data); err != nil {
				return "", err
			}
			return template.HTML(buf.String()), nil
		},
	})

	return t.execute(clone, clone.Name(), w, data)
}

func (t *Tracker) execute(set *template.Template, name string, w io.Writer, data any) error {
	target := set.Lookup(name)
	if target == nil {
		return fmt.Errorf("template %q not found", name)
	}

	identity := &renderToken{}
	t.OnRenderStart(identity, name)
	err := target.Execute(w, data)
	t.OnRenderEnd(identity, name, localData(data))
	return err
}

func localData(data any) map[string]any {
	switch x := data.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return x
	default:
		return map[string]any{"data": x}
	}
}

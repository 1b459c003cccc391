// Package dbgcollect assembles the per-request dataset of the debug bar from
// a set of collectors.
//
// A Request is created when an HTTP request begins. It owns the request ID,
// the view tracker, the log collector, and the query collector, and it's
// carried through the request context. Collect produces the dataset once the
// response is rendered, and Finish marks the request as done, so that
// subsequent log entries become late entries.
package dbgcollect

import (
	"context"
	"fmt"
	"time"
)

// Collector contributes one section of the dataset. Collect is called once
// per request, after the response has been produced.
type Collector interface {
	Name() string
	Label() string
	Collect(ctx context.Context) (map[string]any, error)
}

// Entry is the output of a single collector. Every configured collector
// produces an entry, even if it's disabled or faulted, so the rendering layer
// always sees a stable shape.
type Entry struct {
	Name    string         `json:"name"`
	Label   string         `json:"label"`
	Enabled bool           `json:"enabled"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error,omitempty"`
}

// Resources describes what the request consumed.
type Resources struct {
	Duration     time.Duration `json:"duration"`
	HeapAlloc    uint64        `json:"heap_alloc"`
	NumGoroutine int           `json:"num_goroutine"`
}

// collectEntry runs a single collector, recovering any panic.
func collectEntry(ctx context.Context, c Collector, enabled bool) (e Entry) {
	e = Entry{
		Enabled: enabled,
		Data:    map[string]any{},
	}

	defer func() {
		if x := recover(); x != nil {
			e.Data = map[string]any{}
			e.Error = fmt.Sprintf("panic: %v", x)
		}
	}()

	e.Name = c.Name()
	e.Label = c.Label()

	if !enabled {
		return e
	}

	data, err := c.Collect(ctx)
	switch {
	case err != nil:
		e.Error = err.Error()
	case data != nil:
		e.Data = data
	}

	return e
}

//
//
//

// CollectorFunc adapts a name, label, and function to a collector.
func CollectorFunc(name, label string, fn func(context.Context) (map[string]any, error)) Collector {
	return &funcCollector{name: name, label: label, fn: fn}
}

type funcCollector struct {
	name  string
	label string
	fn    func(context.Context) (map[string]any, error)
}

func (c *funcCollector) Name() string { return c.name }
func (c *funcCollector) Label() string { return c.label }

func (c *funcCollector) Collect(ctx context.Context) (map[string]any, error) {
	return c.fn(ctx)
}

// Package dbgview tracks the rendering of views, typically templates, as
// spans with timings and a redacted preview of their local data.
//
// Render events are matched by identity, not by call order, so nested and
// interleaved renders are attributed correctly. Missing and duplicate events
// are tolerated: an end without a start produces a synthesized zero-duration
// span, and a second end for the same identity does nothing.
package dbgview

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbgstore"
	"go.uber.org/zap"
)

// Span is a single rendered view.
type Span struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Depth       int           `json:"depth"`
	Data        *dbgdump.Node `json:"data"`
	DumpID      string        `json:"dump_id,omitempty"`
	DumpOmitted bool          `json:"dump_omitted,omitempty"`
	Synthesized bool          `json:"synthesized,omitempty"`
}

// TrackerConfig configures a tracker for a single request.
type TrackerConfig struct {
	// Dumper produces previews, and full dumps. Optional. By default,
	// dbgdump.Default, which masks nothing.
	Dumper *dbgdump.Dumper

	// Store receives full dumps, when FullDumps is true. Optional.
	Store dbgstore.Store

	// RequestID owns the full dumps in the store.
	RequestID string

	// PerformanceTracking enables timestamps and durations.
	PerformanceTracking bool

	// FullDumps stores a full dump of each view's local data, in addition to
	// the inline preview.
	FullDumps bool

	// Logger receives store faults. Optional. By default, a nop logger.
	Logger *zap.Logger

	// Now returns the current time. Optional. By default, time.Now.
	Now func() time.Time
}

// Tracker records the views rendered for a single request. It's safe for
// concurrent use, though a request normally renders from one goroutine.
type Tracker struct {
	dumper    *dbgdump.Dumper
	store     dbgstore.Store
	requestID string
	timing    bool
	full      bool
	logger    *zap.Logger
	now       func() time.Time

	mtx     sync.Mutex
	spans   []*tracked
	stack   []*tracked       // open spans, in start order
	open    map[any]*tracked // open spans with a keyed identity
	closed  map[any]struct{} // identities whose span has ended
	ignored map[any]struct{} // identities whose start had no path
}

type tracked struct {
	span    Span
	key     any
	keyed   bool
	ended   bool
	started time.Time
}

// NewTracker returns an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Dumper == nil {
		cfg.Dumper = dbgdump.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		dumper:    cfg.Dumper,
		store:     cfg.Store,
		requestID: cfg.RequestID,
		timing:    cfg.PerformanceTracking,
		full:      cfg.FullDumps,
		logger:    cfg.Logger,
		now:       cfg.Now,
		open:      map[any]*tracked{},
		closed:    map[any]struct{}{},
		ignored:   map[any]struct{}{},
	}
}

// refKey identifies a value of a reference kind by its address, so that
// maps, slices, and funcs can be used as identities.
type refKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// keyOf returns the map key for the identity, if it can key a span. Values of
// reference kinds are keyed by address, and other comparable values by value.
// Nil, and values which are neither, can't key a span.
func keyOf(identity any) (any, bool) {
	if identity == nil {
		return nil, false
	}

	v := reflect.ValueOf(identity)
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		if v.IsNil() {
			return nil, false
		}
		k := refKey{typ: v.Type(), ptr: v.Pointer()}
		if v.Kind() == reflect.Slice {
			k.len = v.Len()
		}
		return k, true
	}

	if !v.Comparable() {
		return nil, false
	}
	return identity, true
}

// OnRenderStart opens a span for the identity. An empty path means the view
// can't be reported, and the event, as well as the corresponding end event,
// is ignored.
func (t *Tracker) OnRenderStart(identity any, path string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	key, keyed := keyOf(identity)

	if path == "" {
		if keyed {
			t.ignored[key] = struct{}{}
		}
		return
	}

	if keyed {
		if _, ok := t.open[key]; ok {
			return // already open
		}
		delete(t.closed, key) // identity reused for a new render
		delete(t.ignored, key)
	}

	var now time.Time
	if t.timing {
		now = t.now()
	}

	tr := &tracked{
		span: Span{
			ID:        newSpanID(now),
			Path:      path,
			StartedAt: now,
			Depth:     len(t.stack),
		},
		key:     key,
		keyed:   keyed,
		started: now,
	}

	t.spans = append(t.spans, tr)
	t.stack = append(t.stack, tr)
	if keyed {
		t.open[key] = tr
	}
}

// OnRenderEnd closes the span for the identity, recording a preview of the
// local data. If no span is open for the identity, the most recently opened
// span with the same path is closed instead, if the identity can't key a
// span. Otherwise, a zero-duration span is synthesized. An empty path means the
// event is ignored.
func (t *Tracker) OnRenderEnd(identity any, path string, local map[string]any) {
	if path == "" {
		return
	}

	tr, ok := t.match(identity, path)
	if !ok {
		return
	}

	// Dumping happens outside of the lock, it may be slow.
	data, dumpID, omitted := t.capture(local)

	t.mtx.Lock()
	defer t.mtx.Unlock()

	tr.span.Data = data
	tr.span.DumpID = dumpID
	tr.span.DumpOmitted = omitted
}

// match finds or synthesizes the span to close, and closes it.
func (t *Tracker) match(identity any, path string) (*tracked, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	key, keyed := keyOf(identity)

	var tr *tracked
	switch {
	case keyed:
		if _, ok := t.ignored[key]; ok {
			delete(t.ignored, key)
			return nil, false
		}
		if _, ok := t.closed[key]; ok {
			return nil, false // duplicate end
		}
		tr = t.open[key]

	default:
		for i := len(t.stack) - 1; i >= 0; i-- {
			if t.stack[i].span.Path == path {
				tr = t.stack[i]
				break
			}
		}
	}

	var now time.Time
	if t.timing {
		now = t.now()
	}

	if tr == nil {
		tr = &tracked{
			span: Span{
				ID:          newSpanID(now),
				Path:        path,
				StartedAt:   now,
				Depth:       len(t.stack),
				Synthesized: true,
			},
			key:     key,
			keyed:   keyed,
			started: now,
		}
		t.spans = append(t.spans, tr)
	}

	t.close(tr, now)
	return tr, true
}

func (t *Tracker) close(tr *tracked, now time.Time) {
	tr.ended = true
	if t.timing {
		end := now
		tr.span.EndedAt = &end
		tr.span.Duration = now.Sub(tr.started)
	}

	for i := range t.stack {
		if t.stack[i] == tr {
			t.stack = append(t.stack[:i], t.stack[i+1:]...)
			break
		}
	}

	if tr.keyed {
		delete(t.open, tr.key)
		t.closed[tr.key] = struct{}{}
	}
}

// capture produces the preview of the local data, and, if enabled, stores a
// full dump. Store faults never propagate: capacity faults mark the dump as
// omitted, and other faults are logged.
func (t *Tracker) capture(local map[string]any) (data *dbgdump.Node, dumpID string, omitted bool) {
	if local == nil {
		local = map[string]any{}
	}

	data = t.dumper.Preview(local)

	if !t.full || t.store == nil {
		return data, "", false
	}

	id, err := t.store.Store(context.Background(), t.requestID, t.dumper.Dump(local))
	switch {
	case err == nil:
		return data, id, false
	case errors.Is(err, debugbar.ErrCapacity):
		t.logger.Debug("full dump omitted", zap.String("request_id", t.requestID), zap.Error(err))
		return data, "", true
	default:
		t.logger.Warn("store full dump", zap.String("request_id", t.requestID), zap.Error(err))
		return data, "", false
	}
}

// Templates returns the ended spans, in start order.
func (t *Tracker) Templates() []Span {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	spans := make([]Span, 0, len(t.spans))
	for _, tr := range t.spans {
		if tr.ended {
			spans = append(spans, tr.span)
		}
	}
	return spans
}

// Total returns the number of ended spans.
func (t *Tracker) Total() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	var n int
	for _, tr := range t.spans {
		if tr.ended {
			n++
		}
	}
	return n
}

// Open returns the number of spans which have started but not ended.
func (t *Tracker) Open() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	return len(t.stack)
}

//
//
//

var spanIDEntropy = ulid.DefaultEntropy()

func newSpanID(now time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	return ulid.MustNew(ulid.Timestamp(now), spanIDEntropy).String()
}

//
//
//

type trackerContextKey struct{}

// Put the tracker into the context.
func Put(ctx context.Context, t *Tracker) (context.Context, *Tracker) {
	return context.WithValue(ctx, trackerContextKey{}, t), t
}

// Get the tracker from the context, if it exists. If not, an orphan tracker
// is created and returned, but not injected into the context.
func Get(ctx context.Context) *Tracker {
	if t, ok := MaybeGet(ctx); ok {
		return t
	}
	return NewTracker(TrackerConfig{})
}

// MaybeGet returns the tracker in the context, if it exists.
func MaybeGet(ctx context.Context) (*Tracker, bool) {
	t, ok := ctx.Value(trackerContextKey{}).(*Tracker)
	return t, ok
}

// Package dbgdump converts arbitrary values into bounded, redacted trees which
// are safe to serialize, store, and display.
//
// A dump never fails. Cycles become reference nodes, oversized input becomes
// truncated nodes, masked fields become redacted nodes, and values without
// enumerable structure become "<Type>" strings. Any panic during traversal is
// recovered and reported as a truncated node with an error.
package dbgdump

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Limits bound the size of a single dump.
type Limits struct {
	// MaxDepth is the maximum nesting depth of the tree. Containers at this
	// depth are truncated rather than traversed.
	MaxDepth int `yaml:"max_depth" json:"max_depth" validate:"gte=0"`

	// MaxItems is the maximum number of nodes in the tree.
	MaxItems int `yaml:"max_items" json:"max_items" validate:"gte=0"`

	// MaxString is the maximum length of any string, in runes.
	MaxString int `yaml:"max_string" json:"max_string" validate:"gte=0"`

	// MaxChars is the maximum total number of runes emitted as strings and
	// mapping keys.
	MaxChars int `yaml:"max_chars" json:"max_chars" validate:"gte=0"`
}

var (
	// DefaultLimits are used for full dumps.
	DefaultLimits = Limits{MaxDepth: 8, MaxItems: 1000, MaxString: 4096, MaxChars: 65536}

	// DefaultPreviewLimits are used for previews.
	DefaultPreviewLimits = Limits{MaxDepth: 3, MaxItems: 50, MaxString: 120, MaxChars: 2048}
)

// withDefaults replaces zero or negative values with the corresponding value
// from def.
func (l Limits) withDefaults(def Limits) Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = def.MaxDepth
	}
	if l.MaxItems <= 0 {
		l.MaxItems = def.MaxItems
	}
	if l.MaxString <= 0 {
		l.MaxString = def.MaxString
	}
	if l.MaxChars <= 0 {
		l.MaxChars = def.MaxChars
	}
	return l
}

// previewOf clamps preview limits so that each is no larger than the full
// limit, and the depth is strictly smaller.
func previewOf(preview, full Limits) Limits {
	preview = preview.withDefaults(DefaultPreviewLimits)
	if preview.MaxDepth >= full.MaxDepth {
		preview.MaxDepth = full.MaxDepth - 1
	}
	if preview.MaxItems > full.MaxItems {
		preview.MaxItems = full.MaxItems
	}
	if preview.MaxString > full.MaxString {
		preview.MaxString = full.MaxString
	}
	if preview.MaxChars > full.MaxChars {
		preview.MaxChars = full.MaxChars
	}
	return preview
}

// Masker decides whether the value of a field with the given key must be
// redacted. It's satisfied by *dbgredact.Policy.
type Masker interface {
	ShouldMask(key string) bool
}

type nopMasker struct{}

func (nopMasker) ShouldMask(string) bool { return false }

//
//
//

// Dumper produces dumps and previews using fixed limits and a masker.
// A dumper is immutable and safe for concurrent use.
type Dumper struct {
	full    Limits
	preview Limits
	masker  Masker
}

// New returns a dumper with the given limits. Zero limits take default
// values. A nil masker masks nothing.
func New(full, preview Limits, masker Masker) *Dumper {
	if masker == nil {
		masker = nopMasker{}
	}
	full = full.withDefaults(DefaultLimits)
	return &Dumper{
		full:    full,
		preview: previewOf(preview, full),
		masker:  masker,
	}
}

// Default is a dumper with default limits that masks nothing.
var Default = New(Limits{}, Limits{}, nil)

// Limits returns the effective full and preview limits.
func (d *Dumper) Limits() (full, preview Limits) {
	return d.full, d.preview
}

// Dump returns a full dump of v.
func (d *Dumper) Dump(v any) *Node {
	return d.run(v, d.full)
}

// Preview returns a smaller dump of v, intended for inline display.
func (d *Dumper) Preview(v any) *Node {
	return d.run(v, d.preview)
}

// Dump is a convenience function for Default.Dump.
func Dump(v any) *Node { return Default.Dump(v) }

// Preview is a convenience function for Default.Preview.
func Preview(v any) *Node { return Default.Preview(v) }

func (d *Dumper) run(v any, limits Limits) (n *Node) {
	defer func() {
		if x := recover(); x != nil {
			n = errorNode(x)
		}
	}()

	w := &walker{
		limits: limits,
		masker: d.masker,
		open:   map[visitKey]*openRef{},
	}
	w.reserve() // the root always fits, MaxItems is at least 1

	return w.value(reflect.ValueOf(v), 0)
}

//
//
//

type walker struct {
	limits Limits
	masker Masker

	count  int
	chars  int
	reason string // set once a counter is exhausted

	open   map[visitKey]*openRef
	nextID int
}

type visitKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

type openRef struct {
	id int
}

func (w *walker) exhausted() bool {
	return w.reason != ""
}

// reserve a slot for a new node. If the tree is full, the walker becomes
// exhausted and reserve returns false.
func (w *walker) reserve() bool {
	if w.exhausted() {
		return false
	}
	if w.count >= w.limits.MaxItems {
		w.reason = ReasonItems
		return false
	}
	w.count++
	return true
}

// text charges s against the string and character budgets, and returns what
// may be emitted, plus the original rune count if s was cut.
func (w *walker) text(s string) (string, int) {
	limit := w.limits.MaxString
	remaining := w.limits.MaxChars - w.chars
	if remaining < limit {
		limit = remaining
	}

	n := runeCount(s)
	if n <= limit {
		w.chars += n
		return s, 0
	}

	if limit == remaining {
		w.reason = ReasonChars
	}
	if limit < 0 {
		limit = 0
	}

	w.chars += limit
	return cutRunes(s, limit), n
}

func (w *walker) value(v reflect.Value, depth int) *Node {
	if !v.IsValid() {
		return &Node{Kind: KindNull}
	}

	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return &Node{Kind: KindNull, Type: v.Type().String()}
		}
		v = v.Elem()
	}

	typ := v.Type()

	if v.Kind() == reflect.Pointer && v.IsNil() {
		return &Node{Kind: KindNull, Type: typ.String()}
	}

	if n, ok := w.stringer(v); ok {
		return n
	}

	switch v.Kind() {
	case reflect.Bool:
		return &Node{Kind: KindBool, Type: typ.String(), Bool: v.Bool()}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &Node{Kind: KindNumber, Type: typ.String(), Number: numberOf(strconv.FormatInt(v.Int(), 10))}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &Node{Kind: KindNumber, Type: typ.String(), Number: numberOf(strconv.FormatUint(v.Uint(), 10))}

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return w.stringNode(strconv.FormatFloat(f, 'g', -1, 64), typ.String())
		}
		return &Node{Kind: KindNumber, Type: typ.String(), Number: numberOf(strconv.FormatFloat(f, 'g', -1, typ.Bits()))}

	case reflect.Complex64, reflect.Complex128:
		return w.stringNode(strconv.FormatComplex(v.Complex(), 'g', -1, typ.Bits()), typ.String())

	case reflect.String:
		return w.stringNode(v.String(), typ.String())

	case reflect.Pointer:
		return w.pointer(v, depth)

	case reflect.Map:
		return w.mapping(v, depth)

	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 && utf8.Valid(v.Bytes()) {
			return w.stringNode(string(v.Bytes()), typ.String())
		}
		return w.sequence(v, depth)

	case reflect.Array:
		return w.sequence(v, depth)

	case reflect.Struct:
		return w.structure(v, depth)

	default: // func, chan, unsafe pointer
		return w.opaque(typ)
	}
}

func (w *walker) stringNode(s, typ string) *Node {
	s, total := w.text(s)
	return &Node{Kind: KindString, Type: typ, String: s, Total: total}
}

func (w *walker) opaque(typ reflect.Type) *Node {
	return w.stringNode("<"+typ.String()+">", typ.String())
}

func errorNode(x any) *Node {
	return &Node{Kind: KindTruncated, Reason: ReasonError, Error: fmt.Sprint(x)}
}

func numberOf(s string) json.Number {
	return json.Number(s)
}

// stringer renders errors and fmt.Stringers of named, non-builtin types as
// strings. A panicking method yields an error node.
func (w *walker) stringer(v reflect.Value) (n *Node, ok bool) {
	if !v.CanInterface() || v.Type().PkgPath() == "" && v.Kind() != reflect.Pointer {
		return nil, false
	}

	var call func() string
	switch x := v.Interface().(type) {
	case error:
		call = x.Error
	case fmt.Stringer:
		call = x.String
	default:
		return nil, false
	}

	defer func() {
		if x := recover(); x != nil {
			n, ok = errorNode(x), true
		}
	}()

	return w.stringNode(call(), v.Type().String()), true
}

//
//
//

// track marks the value identified by key as open for the duration of the
// visit. If it's already open, the visit is a cycle, and track returns a
// reference node.
func (w *walker) track(key visitKey, visit func() *Node) *Node {
	if ref, ok := w.open[key]; ok {
		if ref.id == 0 {
			w.nextID++
			ref.id = w.nextID
		}
		return &Node{Kind: KindReference, Type: key.typ.String(), Ref: ref.id}
	}

	ref := &openRef{}
	w.open[key] = ref
	n := visit()
	delete(w.open, key)

	if ref.id != 0 {
		n.ID = ref.id
	}
	return n
}

func (w *walker) pointer(v reflect.Value, depth int) *Node {
	key := visitKey{typ: v.Type(), ptr: v.Pointer()}
	return w.track(key, func() *Node {
		return w.value(v.Elem(), depth)
	})
}

func (w *walker) sequence(v reflect.Value, depth int) *Node {
	visit := func() *Node {
		total := v.Len()
		node := &Node{Kind: KindSequence, Type: v.Type().String(), Total: total}
		if total == 0 {
			return node
		}

		if depth >= w.limits.MaxDepth {
			return truncate(node, ReasonDepth)
		}

		for i := 0; i < total; i++ {
			if !w.reserve() {
				break
			}
			node.Items = append(node.Items, w.value(v.Index(i), depth+1))
			if w.exhausted() {
				break
			}
		}

		if len(node.Items) < total {
			return truncate(node, w.reason)
		}
		return node
	}

	if v.Kind() == reflect.Slice && v.Len() > 0 {
		return w.track(visitKey{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}, visit)
	}
	return visit()
}

func (w *walker) mapping(v reflect.Value, depth int) *Node {
	if v.IsNil() {
		return &Node{Kind: KindNull, Type: v.Type().String()}
	}

	return w.track(visitKey{typ: v.Type(), ptr: v.Pointer()}, func() *Node {
		total := v.Len()
		node := &Node{Kind: KindMapping, Type: v.Type().String(), Total: total}
		if total == 0 {
			return node
		}

		if depth >= w.limits.MaxDepth {
			return truncate(node, ReasonDepth)
		}

		type pair struct {
			key string
			val reflect.Value
		}
		pairs := make([]pair, 0, total)
		iter := v.MapRange()
		for iter.Next() {
			pairs = append(pairs, pair{key: keyString(iter.Key()), val: iter.Value()})
		}
		sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

		for _, p := range pairs {
			if !w.entry(node, p.key, nil, p.val, depth) {
				break
			}
		}

		if len(node.Entries) < total {
			return truncate(node, w.reason)
		}
		return node
	})
}

func (w *walker) structure(v reflect.Value, depth int) *Node {
	typ := v.Type()

	var fields []int
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).IsExported() {
			fields = append(fields, i)
		}
	}

	if len(fields) == 0 {
		if typ.NumField() == 0 {
			return &Node{Kind: KindMapping, Type: typ.String()}
		}
		return w.opaque(typ)
	}

	total := len(fields)
	node := &Node{Kind: KindMapping, Type: typ.String(), Total: total}

	if depth >= w.limits.MaxDepth {
		return truncate(node, ReasonDepth)
	}

	for _, i := range fields {
		field := typ.Field(i)
		aliases := []string{}
		if tag, ok := field.Tag.Lookup("json"); ok {
			if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
				aliases = append(aliases, name)
			}
		}
		if !w.entry(node, field.Name, aliases, v.Field(i), depth) {
			break
		}
	}

	if len(node.Entries) < total {
		return truncate(node, w.reason)
	}
	return node
}

// entry adds a single key/value pair to the mapping node. It returns false if
// the walker is exhausted and the mapping should stop.
func (w *walker) entry(node *Node, key string, aliases []string, val reflect.Value, depth int) bool {
	if !w.reserve() {
		return false
	}

	masked := w.masker.ShouldMask(key)
	for _, alias := range aliases {
		masked = masked || w.masker.ShouldMask(alias)
	}

	emitted, _ := w.text(key)

	var child *Node
	if masked {
		child = &Node{Kind: KindRedacted, Type: typeName(val)}
	} else {
		child = w.value(val, depth+1)
	}

	node.Entries = append(node.Entries, Entry{Key: emitted, Value: child})
	return !w.exhausted()
}

// truncate converts a container into a truncated node, keeping the children
// which were already emitted.
func truncate(node *Node, reason string) *Node {
	node.Of = node.Kind
	node.Kind = KindTruncated
	node.Reason = reason
	node.Shown = len(node.Items) + len(node.Entries)
	return node
}

// typeName returns the dynamic type of v without looking at its contents.
func typeName(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v.Type().String()
		}
		return v.Elem().Type().String()
	}
	return v.Type().String()
}

func keyString(k reflect.Value) string {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	case reflect.Bool:
		return strconv.FormatBool(k.Bool())
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64)
	default:
		return fmt.Sprint(k)
	}
}

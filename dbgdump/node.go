package dbgdump

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Kind tags a node.
type Kind string

// Scalar kinds are string, number, bool, and null. Sequence and mapping are
// containers. The remaining kinds are markers which replace a value.
const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBool      Kind = "bool"
	KindNull      Kind = "null"
	KindSequence  Kind = "sequence"
	KindMapping   Kind = "mapping"
	KindRedacted  Kind = "redacted"
	KindTruncated Kind = "truncated"
	KindReference Kind = "reference"
)

// Reasons describe why a node was truncated.
const (
	ReasonDepth = "depth"
	ReasonItems = "items"
	ReasonChars = "chars"
	ReasonError = "error"
)

// Node is a bounded, redacted representation of a value. Nodes are plain data
// and serialize to JSON without loss.
type Node struct {
	Kind Kind   `json:"kind"`
	Type string `json:"type,omitempty"`

	// ID is set on containers which are the target of a reference.
	ID int `json:"id,omitempty"`

	String string      `json:"string,omitempty"`
	Number json.Number `json:"number,omitempty"`
	Bool   bool        `json:"bool,omitempty"`

	Items   []*Node `json:"items,omitempty"`
	Entries []Entry `json:"entries,omitempty"`

	// Of is the kind of container that was truncated.
	Of     Kind   `json:"of,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`

	// Shown is the number of children kept by a truncated container.
	Shown int `json:"shown,omitempty"`

	// Total is the original length of a container, or the original rune
	// count of a string which was cut.
	Total int `json:"total,omitempty"`

	// Ref is the ID of the container a reference node points to.
	Ref int `json:"ref,omitempty"`
}

// Entry is a single key/value pair in a mapping.
type Entry struct {
	Key   string `json:"key"`
	Value *Node  `json:"value"`
}

// IsScalar returns true for string, number, bool, and null nodes.
func (n *Node) IsScalar() bool {
	switch n.Kind {
	case KindString, KindNumber, KindBool, KindNull:
		return true
	default:
		return false
	}
}

// Walk calls fn for n and each of its descendants, depth first. If fn returns
// false, the children of that node are skipped.
func (n *Node) Walk(fn func(n *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if n == nil {
		return
	}
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Items {
		c.walk(fn, depth+1)
	}
	for _, e := range n.Entries {
		e.Value.walk(fn, depth+1)
	}
}

// Count returns the total number of nodes in the tree.
func (n *Node) Count() int {
	var count int
	n.Walk(func(*Node, int) bool { count++; return true })
	return count
}

// Depth returns the maximum nesting depth of the tree. A lone node has depth
// zero.
func (n *Node) Depth() int {
	var max int
	n.Walk(func(_ *Node, depth int) bool {
		if depth > max {
			max = depth
		}
		return true
	})
	return max
}

// Size returns the length in bytes of the JSON encoding of the tree.
func (n *Node) Size() int {
	buf, err := json.Marshal(n)
	if err != nil {
		return 0
	}
	return len(buf)
}

// Get returns the value of the first entry with the given key, if n is a
// mapping, or a truncated mapping.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	for _, e := range n.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Text returns a short human-readable rendering of the node, suitable for
// inline display.
func (n *Node) Text() string {
	var sb strings.Builder
	n.text(&sb)
	return sb.String()
}

func (n *Node) text(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("null")
		return
	}
	switch n.Kind {
	case KindString:
		sb.WriteString(n.String)
		if n.Total > 0 {
			sb.WriteString("…")
		}
	case KindNumber:
		sb.WriteString(n.Number.String())
	case KindBool:
		if n.Bool {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindNull:
		sb.WriteString("null")
	case KindRedacted:
		sb.WriteString("[redacted " + n.Type + "]")
	case KindReference:
		sb.WriteString("[cycle]")
	case KindSequence, KindMapping, KindTruncated:
		if n.Kind == KindTruncated && n.Of == "" {
			sb.WriteString("[" + n.Reason + "]")
			return
		}
		open, close := "[", "]"
		if n.Kind == KindMapping || n.Of == KindMapping {
			open, close = "{", "}"
		}
		sb.WriteString(open)
		for i, c := range n.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			c.text(sb)
		}
		for i, e := range n.Entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.Key + ": ")
			e.Value.text(sb)
		}
		if n.Kind == KindTruncated {
			if n.Shown > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("…")
		}
		sb.WriteString(close)
	}
}

// cutRunes returns the prefix of s with at most n runes. It never splits a
// multi-byte sequence.
func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	var count int
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func runeCount(s string) int {
	return utf8.RuneCountInString(s)
}

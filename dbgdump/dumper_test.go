package dbgdump_test

import (
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbgredact"
)

func assertEqual[T any](t *testing.T, have, want T, opts ...cmp.Option) {
	t.Helper()
	if !cmp.Equal(have, want, opts...) {
		t.Fatal(cmp.Diff(have, want, opts...))
	}
}

func TestScalars(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		input any
		want  *dbgdump.Node
	}{
		{"nil", nil, &dbgdump.Node{Kind: dbgdump.KindNull}},
		{"int", 42, &dbgdump.Node{Kind: dbgdump.KindNumber, Type: "int", Number: "42"}},
		{"uint8", uint8(7), &dbgdump.Node{Kind: dbgdump.KindNumber, Type: "uint8", Number: "7"}},
		{"float64", 3.5, &dbgdump.Node{Kind: dbgdump.KindNumber, Type: "float64", Number: "3.5"}},
		{"float32", float32(1.5), &dbgdump.Node{Kind: dbgdump.KindNumber, Type: "float32", Number: "1.5"}},
		{"NaN", math.NaN(), &dbgdump.Node{Kind: dbgdump.KindString, Type: "float64", String: "NaN"}},
		{"bool", true, &dbgdump.Node{Kind: dbgdump.KindBool, Type: "bool", Bool: true}},
		{"string", "hello", &dbgdump.Node{Kind: dbgdump.KindString, Type: "string", String: "hello"}},
		{"bytes", []byte("hello"), &dbgdump.Node{Kind: dbgdump.KindString, Type: "[]uint8", String: "hello"}},
		{"nil pointer", (*int)(nil), &dbgdump.Node{Kind: dbgdump.KindNull, Type: "*int"}},
		{"func", func() {}, &dbgdump.Node{Kind: dbgdump.KindString, Type: "func()", String: "<func()>"}},
		{"chan", make(chan int), &dbgdump.Node{Kind: dbgdump.KindString, Type: "chan int", String: "<chan int>"}},
		{"duration", 1500 * time.Millisecond, &dbgdump.Node{Kind: dbgdump.KindString, Type: "time.Duration", String: "1.5s"}},
		{"hidden", hidden{a: 1}, &dbgdump.Node{Kind: dbgdump.KindString, Type: "dbgdump_test.hidden", String: "<dbgdump_test.hidden>"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assertEqual(t, dbgdump.Dump(tc.input), tc.want)
		})
	}
}

type hidden struct{ a int }

type boom struct{ X int }

func (boom) String() string { panic("kaboom") }

func TestPanickingStringer(t *testing.T) {
	t.Parallel()

	have := dbgdump.Dump(map[string]any{"b": boom{}})
	child, ok := have.Get("b")
	assertEqual(t, ok, true)
	assertEqual(t, child.Kind, dbgdump.KindTruncated)
	assertEqual(t, child.Reason, dbgdump.ReasonError)
	assertEqual(t, child.Error, "kaboom")
}

func TestCycles(t *testing.T) {
	t.Parallel()

	t.Run("map", func(t *testing.T) {
		m := map[string]any{"a": 1}
		m["self"] = m

		have := dbgdump.Dump(m)
		assertEqual(t, have.Kind, dbgdump.KindMapping)
		assertEqual(t, have.ID, 1)
		assertEqual(t, len(have.Entries), 2)
		assertEqual(t, have.Entries[0].Key, "a")
		assertEqual(t, have.Entries[1].Key, "self")
		assertEqual(t, have.Entries[1].Value, &dbgdump.Node{Kind: dbgdump.KindReference, Type: "map[string]interface {}", Ref: 1})
	})

	t.Run("pointer", func(t *testing.T) {
		type node struct {
			Name string
			Next *node
		}
		a := &node{Name: "a"}
		b := &node{Name: "b", Next: a}
		a.Next = b

		have := dbgdump.Dump(a)
		assertEqual(t, have.Kind, dbgdump.KindMapping)
		assertEqual(t, have.ID, 1)

		next, ok := have.Get("Next")
		assertEqual(t, ok, true)
		assertEqual(t, next.Kind, dbgdump.KindMapping)

		back, ok := next.Get("Next")
		assertEqual(t, ok, true)
		assertEqual(t, back.Kind, dbgdump.KindReference)
		assertEqual(t, back.Ref, 1)
	})

	t.Run("slice", func(t *testing.T) {
		s := []any{1, nil}
		s[1] = s

		have := dbgdump.Dump(s)
		assertEqual(t, have.Kind, dbgdump.KindSequence)
		assertEqual(t, have.ID, 1)
		assertEqual(t, have.Items[1].Kind, dbgdump.KindReference)
	})

	t.Run("shared not cyclic", func(t *testing.T) {
		shared := map[string]any{"x": 1}
		have := dbgdump.Dump([]any{shared, shared})
		assertEqual(t, have.Kind, dbgdump.KindSequence)
		assertEqual(t, have.Items[0].Kind, dbgdump.KindMapping)
		assertEqual(t, have.Items[1].Kind, dbgdump.KindMapping)
	})
}

func TestItemLimit(t *testing.T) {
	t.Parallel()

	ints := make([]int, 5000)
	dumper := dbgdump.New(dbgdump.Limits{MaxItems: 100}, dbgdump.Limits{}, nil)

	have := dumper.Dump(ints)
	assertEqual(t, have.Kind, dbgdump.KindTruncated)
	assertEqual(t, have.Of, dbgdump.KindSequence)
	assertEqual(t, have.Reason, dbgdump.ReasonItems)
	assertEqual(t, have.Shown, 99)
	assertEqual(t, have.Total, 5000)
	assertEqual(t, have.Count(), 100)
}

func TestItemLimitUnwinds(t *testing.T) {
	t.Parallel()

	input := []any{
		[]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		"sibling",
	}
	dumper := dbgdump.New(dbgdump.Limits{MaxItems: 5}, dbgdump.Limits{}, nil)

	have := dumper.Dump(input)
	assertEqual(t, have.Kind, dbgdump.KindTruncated)
	assertEqual(t, have.Shown, 1)
	assertEqual(t, have.Total, 2)

	inner := have.Items[0]
	assertEqual(t, inner.Kind, dbgdump.KindTruncated)
	assertEqual(t, inner.Of, dbgdump.KindSequence)
	assertEqual(t, inner.Shown, 3)
	assertEqual(t, inner.Total, 10)
	assertEqual(t, have.Count(), 5)
}

func TestDepthLimit(t *testing.T) {
	t.Parallel()

	var v any = "leaf"
	for i := 0; i < 20; i++ {
		v = map[string]any{"k": v}
	}

	dumper := dbgdump.New(dbgdump.Limits{MaxDepth: 4}, dbgdump.Limits{}, nil)
	have := dumper.Dump(v)
	assertEqual(t, have.Depth() <= 4, true)

	var sawDepth bool
	have.Walk(func(n *dbgdump.Node, depth int) bool {
		if n.Kind == dbgdump.KindTruncated && n.Reason == dbgdump.ReasonDepth {
			sawDepth = true
			assertEqual(t, depth, 4)
			assertEqual(t, n.Of, dbgdump.KindMapping)
			assertEqual(t, n.Total, 1)
		}
		return true
	})
	assertEqual(t, sawDepth, true)
}

func TestStringLimit(t *testing.T) {
	t.Parallel()

	dumper := dbgdump.New(dbgdump.Limits{MaxString: 5}, dbgdump.Limits{}, nil)

	have := dumper.Dump("héllo wörld")
	assertEqual(t, have.String, "héllo")
	assertEqual(t, have.Total, 11)
	assertEqual(t, utf8.ValidString(have.String), true)

	cjk := dumper.Dump("日本語のテキスト")
	assertEqual(t, cjk.String, "日本語のテ")
	assertEqual(t, cjk.Total, 8)
}

func TestCharLimit(t *testing.T) {
	t.Parallel()

	dumper := dbgdump.New(dbgdump.Limits{MaxString: 100, MaxChars: 10}, dbgdump.Limits{}, nil)

	have := dumper.Dump([]string{"abcdef", "ghijkl", "mnopqr", "stuvwx", "yz"})
	assertEqual(t, have.Kind, dbgdump.KindTruncated)
	assertEqual(t, have.Reason, dbgdump.ReasonChars)
	assertEqual(t, have.Shown, 2)
	assertEqual(t, have.Total, 5)
	assertEqual(t, have.Items[0].String, "abcdef")
	assertEqual(t, have.Items[1].String, "ghij")
	assertEqual(t, have.Items[1].Total, 6)
}

func TestMasking(t *testing.T) {
	t.Parallel()

	policy := dbgredact.MustCompile(dbgredact.Config{
		DenyList: []string{"password"},
		Patterns: []string{"/^x-secret-/i"},
	})
	dumper := dbgdump.New(dbgdump.Limits{}, dbgdump.Limits{}, policy)

	type credentials struct {
		User string
		Pass string `json:"password"`
	}

	input := map[string]any{
		"user": "bob",
		"password": map[string]any{
			"nested": "hunter2",
			"list":   []string{"hunter3"},
		},
		"X-Secret-Header": "hunter4",
		"creds":           credentials{User: "alice", Pass: "hunter5"},
	}

	for _, have := range []*dbgdump.Node{dumper.Dump(input), dumper.Preview(input)} {
		password, ok := have.Get("password")
		assertEqual(t, ok, true)
		assertEqual(t, password, &dbgdump.Node{Kind: dbgdump.KindRedacted, Type: "map[string]interface {}"})

		header, _ := have.Get("X-Secret-Header")
		assertEqual(t, header, &dbgdump.Node{Kind: dbgdump.KindRedacted, Type: "string"})

		creds, _ := have.Get("creds")
		pass, _ := creds.Get("Pass")
		assertEqual(t, pass, &dbgdump.Node{Kind: dbgdump.KindRedacted, Type: "string"})

		buf, err := json.Marshal(have)
		if err != nil {
			t.Fatal(err)
		}
		for _, secret := range []string{"hunter2", "hunter3", "hunter4", "hunter5", "nested"} {
			if strings.Contains(string(buf), secret) {
				t.Errorf("dump contains %q: %s", secret, buf)
			}
		}
	}
}

func TestPreviewLimits(t *testing.T) {
	t.Parallel()

	dumper := dbgdump.New(dbgdump.Limits{MaxDepth: 2, MaxItems: 10}, dbgdump.Limits{MaxDepth: 5, MaxItems: 500}, nil)
	full, preview := dumper.Limits()
	assertEqual(t, full.MaxDepth, 2)
	assertEqual(t, preview.MaxDepth, 1)
	assertEqual(t, preview.MaxItems, 10)
	assertEqual(t, preview.MaxString <= full.MaxString, true)

	_, def := dbgdump.Default.Limits()
	assertEqual(t, def, dbgdump.DefaultPreviewLimits)
}

func TestJSON(t *testing.T) {
	t.Parallel()

	m := map[string]any{"a": []any{1, "two", 3.0, nil, true}, "b": map[int]string{2: "x", 1: "y"}}
	m["c"] = m

	have := dbgdump.Dump(m)
	buf, err := json.Marshal(have)
	if err != nil {
		t.Fatal(err)
	}

	var decoded dbgdump.Node
	if err := json.Unmarshal(buf, &decoded); err != nil {
		t.Fatal(err)
	}

	assertEqual(t, &decoded, have, cmpopts.EquateEmpty())
	assertEqual(t, have.Size(), len(buf))
}

func TestText(t *testing.T) {
	t.Parallel()

	assertEqual(t, dbgdump.Dump(map[string]any{"a": 1, "b": "x", "c": []int{1, 2}}).Text(), "{a: 1, b: x, c: [1, 2]}")
}

func TestLimitsHold(t *testing.T) {
	t.Parallel()

	limits := dbgdump.Limits{MaxDepth: 5, MaxItems: 200, MaxString: 16, MaxChars: 1000}
	dumper := dbgdump.New(limits, dbgdump.Limits{}, nil)

	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		v := randomValue(rng, 0)

		have := dumper.Dump(v)
		if n := have.Count(); n > limits.MaxItems {
			t.Fatalf("seed %d: count %d > %d", seed, n, limits.MaxItems)
		}
		if d := have.Depth(); d > limits.MaxDepth {
			t.Fatalf("seed %d: depth %d > %d", seed, d, limits.MaxDepth)
		}

		var chars int
		have.Walk(func(n *dbgdump.Node, _ int) bool {
			if l := utf8.RuneCountInString(n.String); l > limits.MaxString {
				t.Fatalf("seed %d: string length %d > %d", seed, l, limits.MaxString)
			}
			chars += utf8.RuneCountInString(n.String)
			for _, e := range n.Entries {
				chars += utf8.RuneCountInString(e.Key)
			}
			return true
		})
		if chars > limits.MaxChars {
			t.Fatalf("seed %d: chars %d > %d", seed, chars, limits.MaxChars)
		}
	}
}

var alphabet = []rune("abcxyzπλΩжЯ日本語🙂 ")

func randomValue(rng *rand.Rand, depth int) any {
	kind := rng.Intn(7)
	if depth > 8 {
		kind = rng.Intn(3)
	}
	switch kind {
	case 0:
		return rng.Int63()
	case 1:
		n := rng.Intn(40)
		rs := make([]rune, n)
		for i := range rs {
			rs[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(rs)
	case 2:
		return rng.Float64()
	case 3, 4:
		m := map[string]any{}
		for i, n := 0, rng.Intn(12); i < n; i++ {
			m[randomKey(rng)] = randomValue(rng, depth+1)
		}
		if rng.Intn(4) == 0 {
			m["self"] = m
		}
		return m
	case 5:
		s := make([]any, rng.Intn(30))
		for i := range s {
			s[i] = randomValue(rng, depth+1)
		}
		return s
	default:
		v := randomValue(rng, depth+1)
		return &v
	}
}

func randomKey(rng *rand.Rand) string {
	rs := make([]rune, 1+rng.Intn(24))
	for i := range rs {
		rs[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(rs)
}

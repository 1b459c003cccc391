package debugbar_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if diff := cmp.Diff(want, have); diff != "" {
		t.Errorf("(-want +have):\n%s", diff)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	t.Parallel()

	cfg := debugbar.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	assertEqual(t, cfg.TTL(), time.Hour)
	assertEqual(t, cfg.CollectorEnabled("views"), true)
}

func TestIsEnabled(t *testing.T) {
	t.Parallel()

	var (
		yes = true
		no  = false
	)
	for _, tc := range []struct {
		enabled   *bool
		hostDebug bool
		want      bool
	}{
		{nil, true, true},
		{nil, false, false},
		{&yes, false, true},
		{&no, true, false},
	} {
		cfg := debugbar.Config{Enabled: tc.enabled}
		if have := cfg.IsEnabled(tc.hostDebug); have != tc.want {
			t.Errorf("Enabled=%v hostDebug=%v: want %v, have %v", tc.enabled, tc.hostDebug, tc.want, have)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "debugbar.yaml")
	if err := os.WriteFile(path, []byte(strings.Join([]string{
		"enabled: true",
		"ttl_seconds: 60",
		"full_dumps: true",
		"preview:",
		"  max_items: 10",
		"redaction:",
		"  deny_list: [ssn]",
		"  patterns: ['/^x-.*-key$/i']",
		"collectors:",
		"  database: false",
	}, "\n")), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := debugbar.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	assertEqual(t, cfg.IsEnabled(false), true)
	assertEqual(t, cfg.TTL(), time.Minute)
	assertEqual(t, cfg.FullDumps, true)
	assertEqual(t, cfg.PerformanceTracking, true) // default kept
	assertEqual(t, cfg.PerRequestBytes, 1024*1024)
	assertEqual(t, cfg.Preview.MaxItems, 10)
	assertEqual(t, cfg.Dump, dbgdump.DefaultLimits)
	assertEqual(t, cfg.Redaction.DenyList, []string{"ssn"})
	assertEqual(t, cfg.CollectorEnabled("database"), false)
	assertEqual(t, cfg.CollectorEnabled("logs"), true)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		mutate func(*debugbar.Config)
		field  string
	}{
		{"zero bytes", func(c *debugbar.Config) { c.PerRequestBytes = 0 }, "PerRequestBytes"},
		{"ttl too long", func(c *debugbar.Config) { c.TTLSeconds = 365 * 24 * 3600 }, "TTLSeconds"},
		{"negative depth", func(c *debugbar.Config) { c.Dump.MaxDepth = -1 }, "MaxDepth"},
		{"late logs", func(c *debugbar.Config) { c.LateLogs = 1e6 }, "LateLogs"},
		{"collector name", func(c *debugbar.Config) { c.Collectors = map[string]bool{"Bad Name": true} }, "Collectors"},
		{"bad pattern", func(c *debugbar.Config) { c.Redaction.Patterns = []string{"/(/"} }, "redaction"},
	} {
		cfg := debugbar.DefaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: want error, have none", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.field) {
			t.Errorf("%s: error should mention %s: %v", tc.name, tc.field, err)
		}
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	if _, err := debugbar.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: want ErrNotExist, have %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("ttl_seconds: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := debugbar.LoadConfig(path); err == nil {
		t.Errorf("invalid file: want error, have none")
	}
}

func TestIDs(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		r, d := debugbar.NewRequestID(), debugbar.NewDumpID()
		if !debugbar.IsRequestID(r) {
			t.Fatalf("invalid request ID %q", r)
		}
		if !debugbar.IsDumpID(d) {
			t.Fatalf("invalid dump ID %q", d)
		}
		if seen[d] {
			t.Fatalf("duplicate dump ID %q", d)
		}
		seen[d] = true
	}

	for _, s := range []string{
		"",
		"0123456789abcdef0123456789abcde",   // 31
		"0123456789abcdef0123456789abcdef0", // 33
		"0123456789ABCDEF0123456789ABCDEF",
		"0123456789abcdef0123456789abcdeg",
	} {
		if debugbar.IsDumpID(s) {
			t.Errorf("IsDumpID(%q) should be false", s)
		}
	}
}

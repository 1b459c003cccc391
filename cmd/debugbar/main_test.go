package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/debugbar/dbgstore"
	"github.com/peterbourgon/debugbar/dbgweb"
	"go.uber.org/zap"
)

func TestExecHelp(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := exec(context.Background(), &stdout, &stderr, []string{"--help"}); err != nil {
		t.Fatalf("want nil error, have %v", err)
	}
	for _, want := range []string{"serve", "fetch", "logs"} {
		if !strings.Contains(stderr.String(), want) {
			t.Errorf("help output doesn't mention %q", want)
		}
	}
}

func TestExecRequiredFlags(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{"fetch", "--dump", "abc"},
		{"fetch", "--request", "abc"},
		{"logs"},
	} {
		var stdout, stderr bytes.Buffer
		err := exec(context.Background(), &stdout, &stderr, append([]string{"--log-level", "none"}, args...))
		if err == nil || !strings.Contains(err.Error(), "is required") {
			t.Errorf("%v: want required flag error, have %v", args, err)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, level := range []string{"debug", "info", "warn", "error", "none"} {
		if _, err := newLogger(level, io.Discard); err != nil {
			t.Errorf("%s: %v", level, err)
		}
	}
	if _, err := newLogger("loud", io.Discard); err == nil {
		t.Errorf("loud: want error, have none")
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbgstore.NewMemoryStore(dbgstore.Config{})
	defer store.Close()

	requestID := debugbar.NewRequestID()
	dumpID, err := store.Store(ctx, requestID, dbgdump.Dump(map[string]any{"k": "v"}))
	if err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(dbgweb.NewHandler(dbgweb.HandlerConfig{Store: store}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	if err := exec(ctx, &stdout, &stderr, []string{"fetch", "--uri", server.URL, "--log-level", "none", "--request", requestID, "--dump", dumpID, "--text"}); err != nil {
		t.Fatal(err)
	}
	if want, have := "{k: v}", strings.TrimSpace(stdout.String()); want != have {
		t.Errorf("want %q, have %q", want, have)
	}

	err = exec(ctx, &stdout, &stderr, []string{"fetch", "--uri", server.URL, "--log-level", "none", "--request", requestID, "--dump", debugbar.NewDumpID()})
	if err == nil {
		t.Errorf("missing dump: want error, have none")
	}
}

func TestServeHandler(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configFile := filepath.Join(dir, "debugbar.yaml")
	if err := os.WriteFile(configFile, []byte("enabled: true\nfull_dumps: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// httptest requests come from 192.0.2.1.
	cfg := &serveConfig{
		rootConfig:  &rootConfig{logger: zap.NewNop()},
		configFile:  configFile,
		backend:     "memory",
		prefix:      "/_debugbar",
		allowRemote: true,
	}

	config, err := cfg.loadConfig()
	if err != nil {
		t.Fatal(err)
	}

	store, err := cfg.newStore(config)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	late := dbglog.NewLateLogs(dbglog.LateConfig{})
	handler := cfg.handler(config, store, late, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	body := w.Body.String()

	requestID := w.Result().Header.Get(dbgweb.RequestHeader)
	if !debugbar.IsRequestID(requestID) {
		t.Fatalf("invalid request ID %q", requestID)
	}
	if !strings.Contains(body, `id="debugbar-data"`) {
		t.Fatalf("panel not injected: %s", body)
	}
	if strings.Contains(body, "hunter2") {
		t.Errorf("masked value leaked into the page")
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/items", nil))
	var items []demoItem
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatalf("API response was modified: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var entries []dbglog.Entry
	for time.Now().Before(deadline) {
		if entries, err = late.Get(requestID); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("late logs: %v", err)
	}
	if want, have := []string{"background work finished"}, messages(entries); !cmp.Equal(want, have) {
		t.Error(cmp.Diff(want, have))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/_debugbar/logs?request="+requestID, nil))
	if want, have := http.StatusOK, w.Code; want != have {
		t.Errorf("logs endpoint: want %d, have %d", want, have)
	}
}

func TestServeHandlerLoopbackOnly(t *testing.T) {
	t.Parallel()

	cfg := &serveConfig{
		rootConfig: &rootConfig{logger: zap.NewNop()},
		backend:    "memory",
		hostDebug:  true,
		prefix:     "/_debugbar",
	}
	config, _ := cfg.loadConfig()
	store, _ := cfg.newStore(config)
	defer store.Close()
	handler := cfg.handler(config, store, dbglog.NewLateLogs(dbglog.LateConfig{}), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if have := w.Result().Header.Get(dbgweb.RequestHeader); have != "" {
		t.Errorf("remote request got a debug bar")
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/_debugbar/logs?request=x", nil))
	if want, have := http.StatusNotFound, w.Code; want != have {
		t.Errorf("hidden endpoint: want %d, have %d", want, have)
	}
}

func messages(entries []dbglog.Entry) []string {
	var ss []string
	for _, e := range entries {
		ss = append(ss, e.Message)
	}
	return ss
}

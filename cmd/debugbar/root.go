package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/peterbourgon/debugbar/dbgweb"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/unixtransport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootConfig struct {
	stdout io.Writer
	stderr io.Writer

	uri      string
	logLevel string
	output   string

	logger *zap.Logger
}

func (cfg *rootConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'u', LongName: "uri" /*       */, Value: ffval.NewValueDefault(&cfg.uri, "localhost:8080/_debugbar") /*                    */, Usage: "debug bar endpoint URI, e.g. 'localhost:8080/_debugbar' or 'http+unix:///tmp/app.sock:/_debugbar'", Placeholder: "URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'l', LongName: "log-level" /* */, Value: ffval.NewEnum(&cfg.logLevel, "info", "debug", "warn", "error", "none") /* */, Usage: "log level: debug, info, warn, error, none", Placeholder: "LEVEL"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "output" /*    */, Value: ffval.NewEnum(&cfg.output, "prettyjson", "ndjson") /*                     */, Usage: "output format: prettyjson, ndjson", Placeholder: "FORMAT"})
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	enc := zap.NewProductionEncoderConfig()
	if lvl == zapcore.DebugLevel {
		enc = zap.NewDevelopmentEncoderConfig()
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// client returns a debug bar client for the URI. The transport supports
// http+unix:// URIs, which address unix sockets.
func (cfg *rootConfig) client() *dbgweb.Client {
	registerUnix.Do(func() { unixtransport.Register(defaultTransport) })
	return dbgweb.NewClient(&http.Client{Transport: defaultTransport}, cfg.uri)
}

// defaultTransport is also used by the event stream client, which always
// goes through http.DefaultClient.
var (
	defaultTransport = http.DefaultTransport.(*http.Transport)
	registerUnix     sync.Once
)

func (cfg *rootConfig) print(v any) error {
	enc := json.NewEncoder(cfg.stdout)
	if cfg.output == "prettyjson" {
		enc.SetIndent("", "    ")
	}
	return enc.Encode(v)
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

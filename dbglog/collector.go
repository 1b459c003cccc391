// Package dbglog captures the log entries of a single request via a
// zapcore.Core, teed into the application logger.
//
// Entries written while the request is in flight are kept in the collector,
// and reported in the request's dataset. Entries written after the request
// has finished, e.g. by goroutines it started, are late entries: they're
// moved to LateLogs, where later requests can retrieve or stream them.
package dbglog

import (
	"context"
	"sync"
	"time"

	"github.com/peterbourgon/debugbar/dbgdump"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry is a single captured log entry.
type Entry struct {
	Time    time.Time     `json:"time"`
	Level   string        `json:"level"`
	Logger  string        `json:"logger,omitempty"`
	Message string        `json:"message"`
	Caller  string        `json:"caller,omitempty"`
	Fields  *dbgdump.Node `json:"fields,omitempty"`
	Late    bool          `json:"late,omitempty"`
	Seq     uint64        `json:"seq,omitempty"`
}

// CollectorConfig configures a collector for a single request.
type CollectorConfig struct {
	// RequestID is used to key late entries.
	RequestID string

	// Dumper produces a redacted preview of entry fields. Optional. By
	// default, dbgdump.Default.
	Dumper *dbgdump.Dumper

	// Late receives entries written after Finish. Optional. If nil, late
	// entries are discarded.
	Late *LateLogs

	// Level is the minimum level captured. Optional. By default, debug.
	Level zapcore.LevelEnabler

	// MaxEntries is the maximum number of entries kept in flight. Further
	// entries are counted as dropped. Optional. By default, 1000.
	MaxEntries int
}

const maxEntriesDef = 1000

// Collector captures the log entries of a single request.
type Collector struct {
	requestID  string
	dumper     *dbgdump.Dumper
	late       *LateLogs
	level      zapcore.LevelEnabler
	maxEntries int

	mtx      sync.Mutex
	entries  []Entry
	dropped  int
	finished bool
}

// NewCollector returns an empty collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Dumper == nil {
		cfg.Dumper = dbgdump.Default
	}
	if cfg.Level == nil {
		cfg.Level = zapcore.DebugLevel
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = maxEntriesDef
	}
	return &Collector{
		requestID:  cfg.RequestID,
		dumper:     cfg.Dumper,
		late:       cfg.Late,
		level:      cfg.Level,
		maxEntries: cfg.MaxEntries,
	}
}

// Core returns a core which writes to the collector.
func (c *Collector) Core() zapcore.Core {
	return &collectorCore{LevelEnabler: c.level, c: c}
}

// Wrap returns a logger which writes to both the given logger and the
// collector. A nil logger is treated as a nop logger.
func (c *Collector) Wrap(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.New(c.Core())
	}
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, c.Core())
	}))
}

// Finish switches the collector to late mode. Subsequent entries are moved to
// late logs.
func (c *Collector) Finish() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.finished = true
}

// Entries returns the in-flight entries, oldest first.
func (c *Collector) Entries() []Entry {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	return entries
}

func (c *Collector) add(e Entry) {
	c.mtx.Lock()
	finished := c.finished
	if !finished {
		if len(c.entries) >= c.maxEntries {
			c.dropped++
		} else {
			c.entries = append(c.entries, e)
		}
	}
	c.mtx.Unlock()

	if finished && c.late != nil {
		c.late.Add(c.requestID, e)
	}
}

// Name implements dbgcollect.Collector.
func (c *Collector) Name() string { return "logs" }

// Label implements dbgcollect.Collector.
func (c *Collector) Label() string { return "Logs" }

// Collect implements dbgcollect.Collector.
func (c *Collector) Collect(ctx context.Context) (map[string]any, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)

	return map[string]any{
		"entries": entries,
		"count":   len(entries),
		"dropped": c.dropped,
	}, nil
}

//
//
//

type collectorCore struct {
	zapcore.LevelEnabler
	c      *Collector
	fields []zapcore.Field
}

func (cc *collectorCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(cc.fields)+len(fields))
	merged = append(merged, cc.fields...)
	merged = append(merged, fields...)
	return &collectorCore{LevelEnabler: cc.LevelEnabler, c: cc.c, fields: merged}
}

func (cc *collectorCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if cc.Enabled(ent.Level) {
		return ce.AddCore(ent, cc)
	}
	return ce
}

func (cc *collectorCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	e := Entry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Logger:  ent.LoggerName,
		Message: ent.Message,
	}
	if ent.Caller.Defined {
		e.Caller = ent.Caller.TrimmedPath()
	}

	if len(cc.fields)+len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range cc.fields {
			f.AddTo(enc)
		}
		for _, f := range fields {
			f.AddTo(enc)
		}
		e.Fields = cc.c.dumper.Preview(enc.Fields)
	}

	cc.c.add(e)
	return nil
}

func (cc *collectorCore) Sync() error {
	return nil
}

//
//
//

type loggerContextKey struct{}

// Put the logger into the context.
func Put(ctx context.Context, logger *zap.Logger) (context.Context, *zap.Logger) {
	return context.WithValue(ctx, loggerContextKey{}, logger), logger
}

// Get the logger from the context, if it exists. If not, a nop logger is
// returned.
func Get(ctx context.Context) *zap.Logger {
	if logger, ok := MaybeGet(ctx); ok {
		return logger
	}
	return zap.NewNop()
}

// MaybeGet returns the logger in the context, if it exists.
func MaybeGet(ctx context.Context) (*zap.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey{}).(*zap.Logger)
	return logger, ok
}

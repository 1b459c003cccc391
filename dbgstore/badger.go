package dbgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"go.uber.org/zap"
)

// BadgerConfig configures a badger-backed store.
type BadgerConfig struct {
	Config

	// Path is the directory for the database files. Required, unless InMemory
	// is true.
	Path string

	// InMemory keeps the database entirely in memory.
	InMemory bool

	// SyncWrites makes each write durable before Store returns.
	SyncWrites bool

	// GCDiscardRatio is passed to value log GC after each purge. Optional. By
	// default, 0.5.
	GCDiscardRatio float64
}

// BadgerStore keeps records in a badger database. Each entry carries a native
// TTL, so badger drops expired records during compaction, in addition to
// explicit purges.
type BadgerStore struct {
	*core

	db       *badger.DB
	inMemory bool
	discard  float64
}

var _ Store = (*BadgerStore)(nil)

const badgerPrefix = "dump/"

// NewBadgerStore opens a badger database per the config.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required unless in-memory")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	c := newCore("badger", cfg.Config)

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(&badgerLogger{logger: c.logger.Named("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	discard := cfg.GCDiscardRatio
	if discard <= 0 || discard >= 1 {
		discard = 0.5
	}

	return &BadgerStore{
		core:     c,
		db:       db,
		inMemory: cfg.InMemory,
		discard:  discard,
	}, nil
}

func badgerKey(requestID, dumpID string) []byte {
	return []byte(badgerPrefix + requestID + "/" + dumpID)
}

// Store implements Store.
func (s *BadgerStore) Store(ctx context.Context, requestID string, payload *dbgdump.Node) (string, error) {
	rec, err := s.prepare(requestID, payload)
	if err != nil {
		return "", err
	}

	val, err := json.Marshal(rec)
	if err != nil {
		s.failed(rec, err)
		return "", fmt.Errorf("encode record: %w", err)
	}

	// Badger TTLs have second granularity and use the wall clock, so they only
	// bound physical retention. Expiry is checked against the configured clock
	// on read.
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt) + time.Second

	if err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(badgerKey(rec.RequestID, rec.DumpID), val).WithTTL(ttl)
		return txn.SetEntry(e)
	}); err != nil {
		s.failed(rec, err)
		if errors.Is(err, badger.ErrDBClosed) {
			return "", debugbar.ErrClosed
		}
		return "", fmt.Errorf("write record: %w", err)
	}

	s.stored(rec)
	return rec.DumpID, nil
}

// Retrieve implements Store.
func (s *BadgerStore) Retrieve(ctx context.Context, requestID, dumpID string) (*dbgdump.Node, error) {
	if !s.validKey(requestID, dumpID) {
		return nil, s.notFound()
	}

	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(requestID, dumpID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r Record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			rec = &r
			return nil
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, s.notFound()
	case err != nil:
		storeRetrieved.WithLabelValues(s.backend, "error").Inc()
		return nil, fmt.Errorf("read record: %w", err)
	}

	return s.found(rec)
}

// PurgeExpired implements Store. Logically expired records are deleted in a
// single write batch, and value log GC is run afterwards for on-disk
// databases.
func (s *BadgerStore) PurgeExpired(ctx context.Context) (int, error) {
	var (
		now     = s.now()
		expired [][]byte
	)
	if err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				var r Record
				if err := json.Unmarshal(val, &r); err != nil || r.Expired(now) {
					expired = append(expired, item.KeyCopy(nil))
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return 0, debugbar.ErrClosed
		}
		return 0, fmt.Errorf("scan records: %w", err)
	}

	if len(expired) > 0 {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range expired {
			if err := wb.Delete(key); err != nil {
				return 0, fmt.Errorf("delete record: %w", err)
			}
		}
		if err := wb.Flush(); err != nil {
			return 0, fmt.Errorf("flush deletes: %w", err)
		}
	}

	s.purged(len(expired))

	if !s.inMemory {
		if err := s.db.RunValueLogGC(s.discard); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			s.logger.Debug("value log GC", zap.Error(err))
		}
	}

	return len(expired), nil
}

// Release implements Store.
func (s *BadgerStore) Release(requestID string) {
	s.budgets.Release(requestID)
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

//
//
//

// badgerLogger adapts a zap logger to badger's logger interface.
type badgerLogger struct {
	logger *zap.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

package dbgstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
)

// CacheConfig configures a ristretto-backed store.
type CacheConfig struct {
	Config

	// MaxBytes is the total cost, in serialized bytes, the cache may hold
	// before it starts evicting. Optional. By default, 64MiB.
	MaxBytes int64
}

const cacheMaxBytesDef = 64 * 1024 * 1024

// CacheStore keeps records in a ristretto cache. Records may be evicted
// before they expire, when the cache is full. An expiry index tracks every
// record, so PurgeExpired can find expired records, which ristretto doesn't
// enumerate.
type CacheStore struct {
	*core

	cache *ristretto.Cache

	mtx    sync.Mutex
	index  map[recordKey]time.Time
	closed bool
}

var _ Store = (*CacheStore)(nil)

// ErrCacheRejected is returned when the cache declines to admit a record.
var ErrCacheRejected = errors.New("cache rejected record")

// NewCacheStore constructs a ristretto cache per the config.
func NewCacheStore(cfg CacheConfig) (*CacheStore, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = cacheMaxBytesDef
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1e5,
		MaxCost:            cfg.MaxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &CacheStore{
		core:  newCore("ristretto", cfg.Config),
		cache: cache,
		index: map[recordKey]time.Time{},
	}, nil
}

func cacheKey(k recordKey) string {
	return k.requestID + "/" + k.dumpID
}

// Store implements Store.
func (s *CacheStore) Store(ctx context.Context, requestID string, payload *dbgdump.Node) (string, error) {
	rec, err := s.prepare(requestID, payload)
	if err != nil {
		return "", err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		s.failed(rec, debugbar.ErrClosed)
		return "", debugbar.ErrClosed
	}

	// The ristretto TTL uses the wall clock, and only bounds physical
	// retention. Expiry is checked against the configured clock on read.
	key := recordKey{rec.RequestID, rec.DumpID}
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt) + time.Second
	if !s.cache.SetWithTTL(cacheKey(key), rec, int64(rec.SizeBytes), ttl) {
		s.failed(rec, ErrCacheRejected)
		return "", ErrCacheRejected
	}
	s.cache.Wait()

	s.index[key] = rec.ExpiresAt
	s.stored(rec)
	return rec.DumpID, nil
}

// Retrieve implements Store.
func (s *CacheStore) Retrieve(ctx context.Context, requestID, dumpID string) (*dbgdump.Node, error) {
	if !s.validKey(requestID, dumpID) {
		return nil, s.notFound()
	}

	val, ok := s.cache.Get(cacheKey(recordKey{requestID, dumpID}))
	if !ok {
		return nil, s.notFound()
	}

	rec, ok := val.(*Record)
	if !ok {
		storeRetrieved.WithLabelValues(s.backend, "error").Inc()
		return nil, fmt.Errorf("unexpected cache value %T", val)
	}

	return s.found(rec)
}

// PurgeExpired implements Store. Index entries for records the cache has
// already evicted are dropped as well, but don't count as purged.
func (s *CacheStore) PurgeExpired(ctx context.Context) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return 0, debugbar.ErrClosed
	}

	var (
		now = s.now()
		n   int
	)
	for key, expiresAt := range s.index {
		present := func() bool { _, ok := s.cache.Get(cacheKey(key)); return ok }()
		switch {
		case !now.Before(expiresAt):
			s.cache.Del(cacheKey(key))
			delete(s.index, key)
			if present {
				n++
			}
		case !present:
			delete(s.index, key)
		}
	}

	s.purged(n)
	return n, nil
}

// Release implements Store.
func (s *CacheStore) Release(requestID string) {
	s.budgets.Release(requestID)
}

// Close implements Store.
func (s *CacheStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.index = map[recordKey]time.Time{}
	s.cache.Close()
	return nil
}

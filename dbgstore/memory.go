package dbgstore

import (
	"context"
	"sync"

	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"go.uber.org/zap"
)

// purgeEvery is how many writes the memory store accepts between
// opportunistic purges.
const purgeEvery = 64

// MemoryStore keeps records in a map in process memory.
type MemoryStore struct {
	*core

	mtx     sync.Mutex
	records map[recordKey]*Record
	writes  int
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty memory store.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		core:    newCore("memory", cfg),
		records: map[recordKey]*Record{},
	}
}

// Store implements Store.
func (s *MemoryStore) Store(ctx context.Context, requestID string, payload *dbgdump.Node) (string, error) {
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

	s.records[recordKey{rec.RequestID, rec.DumpID}] = rec
	s.stored(rec)

	s.writes++
	if s.writes%purgeEvery == 0 {
		if n := s.purgeLocked(); n > 0 {
			s.logger.Debug("opportunistic purge", zap.Int("purged", n))
		}
	}

	return rec.DumpID, nil
}

// Retrieve implements Store. Expired records are deleted as they're found.
func (s *MemoryStore) Retrieve(ctx context.Context, requestID, dumpID string) (*dbgdump.Node, error) {
	if !s.validKey(requestID, dumpID) {
		return nil, s.notFound()
	}

	key := recordKey{requestID, dumpID}

	s.mtx.Lock()
	rec, ok := s.records[key]
	if ok && rec.Expired(s.now()) {
		delete(s.records, key)
		rec = nil
	}
	s.mtx.Unlock()

	return s.found(rec)
}

// PurgeExpired implements Store.
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return 0, debugbar.ErrClosed
	}

	return s.purgeLocked(), nil
}

func (s *MemoryStore) purgeLocked() int {
	var (
		now = s.now()
		n   int
	)
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			n++
		}
	}
	s.purged(n)
	return n
}

// Release implements Store.
func (s *MemoryStore) Release(requestID string) {
	s.budgets.Release(requestID)
}

// Len returns the number of records held by the store, including any which
// have expired but not yet been purged.
func (s *MemoryStore) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return len(s.records)
}

// Close implements Store. Records are dropped.
func (s *MemoryStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.closed = true
	s.records = map[recordKey]*Record{}
	return nil
}

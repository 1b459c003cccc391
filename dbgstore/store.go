// Package dbgstore persists full dumps outside of the response path, keyed by
// request ID and dump ID, with a TTL and a per-request byte budget.
//
// Three implementations are provided: an in-memory map, a badger database
// (on disk or in memory), and a ristretto cache. All of them check expiry
// logically on read, so an expired record is never returned, regardless of
// when it's physically purged.
package dbgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"go.uber.org/zap"
)

// Store is the storage service for dumps. Implementations are safe for
// concurrent use by multiple requests.
type Store interface {
	// Store persists the payload for the request, and returns a fresh dump ID.
	// If the payload would exceed the request's byte budget, Store returns an
	// error matching debugbar.ErrCapacity, and nothing is stored.
	Store(ctx context.Context, requestID string, payload *dbgdump.Node) (dumpID string, err error)

	// Retrieve returns the payload stored under the given IDs. Unknown,
	// expired, or malformed IDs yield an error matching debugbar.ErrNotFound.
	Retrieve(ctx context.Context, requestID, dumpID string) (*dbgdump.Node, error)

	// PurgeExpired removes all expired records, and returns how many were
	// removed.
	PurgeExpired(ctx context.Context) (int, error)

	// Release drops the byte budget of a request which is done. Records stored
	// by the request are unaffected.
	Release(requestID string)

	// Close releases resources held by the store.
	Close() error
}

// Record is a single stored dump. Records are immutable once written.
type Record struct {
	RequestID string          `json:"request_id"`
	DumpID    string          `json:"dump_id"`
	Payload   json.RawMessage `json:"payload"`
	SizeBytes int             `json:"size_bytes"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired returns true if the record has expired as of now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Node decodes the payload.
func (r *Record) Node() (*dbgdump.Node, error) {
	var n dbgdump.Node
	if err := json.Unmarshal(r.Payload, &n); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &n, nil
}

//
//
//

// Config defines the parameters shared by every store implementation.
type Config struct {
	// PerRequestBytes is the cumulative size of all dumps a single request may
	// store. Optional. By default, 1MiB. The minimum is 1, and the maximum is
	// 1GiB.
	PerRequestBytes int

	// TTL is how long a record may be retrieved after it's stored. Optional.
	// By default, 1h. The minimum is 1s, and the maximum is 7 days.
	TTL time.Duration

	// Now returns the current time. Optional. By default, time.Now.
	Now func() time.Time

	// Logger receives store faults. Optional. By default, a nop logger.
	Logger *zap.Logger
}

const (
	perRequestBytesMin = 1
	perRequestBytesDef = 1 * 1024 * 1024
	perRequestBytesMax = 1024 * 1024 * 1024

	ttlMin = time.Second
	ttlDef = time.Hour
	ttlMax = 7 * 24 * time.Hour
)

func (cfg *Config) normalize() {
	switch {
	case cfg.PerRequestBytes <= 0:
		cfg.PerRequestBytes = perRequestBytesDef
	case cfg.PerRequestBytes < perRequestBytesMin:
		cfg.PerRequestBytes = perRequestBytesMin
	case cfg.PerRequestBytes > perRequestBytesMax:
		cfg.PerRequestBytes = perRequestBytesMax
	}

	switch {
	case cfg.TTL <= 0:
		cfg.TTL = ttlDef
	case cfg.TTL < ttlMin:
		cfg.TTL = ttlMin
	case cfg.TTL > ttlMax:
		cfg.TTL = ttlMax
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// core is the behavior shared by every implementation: ID validation,
// encoding, budgets, and metrics.
type core struct {
	backend string
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	budgets *Budgets
}

func newCore(backend string, cfg Config) *core {
	cfg.normalize()
	return &core{
		backend: backend,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  cfg.Logger.With(zap.String("backend", backend)),
		budgets: NewBudgets(cfg.PerRequestBytes),
	}
}

// prepare validates and encodes the payload, and reserves its size against
// the request budget. If the subsequent write fails, the caller must refund
// the reservation.
func (c *core) prepare(requestID string, payload *dbgdump.Node) (*Record, error) {
	if !debugbar.IsRequestID(requestID) {
		storeRejected.WithLabelValues(c.backend, "invalid").Inc()
		return nil, fmt.Errorf("%w: request ID %q", debugbar.ErrInvalidID, requestID)
	}

	if payload == nil {
		payload = &dbgdump.Node{Kind: dbgdump.KindNull}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		storeRejected.WithLabelValues(c.backend, "error").Inc()
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := c.now()
	if err := c.budgets.Reserve(requestID, len(buf), now); err != nil {
		storeRejected.WithLabelValues(c.backend, "capacity").Inc()
		return nil, err
	}

	return &Record{
		RequestID: requestID,
		DumpID:    debugbar.NewDumpID(),
		Payload:   buf,
		SizeBytes: len(buf),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}, nil
}

// stored is called after a successful write.
func (c *core) stored(rec *Record) {
	storeStored.WithLabelValues(c.backend).Inc()
	storeBytes.WithLabelValues(c.backend).Add(float64(rec.SizeBytes))
}

// failed is called after a failed write.
func (c *core) failed(rec *Record, err error) {
	c.budgets.Refund(rec.RequestID, rec.SizeBytes)
	storeRejected.WithLabelValues(c.backend, "error").Inc()
	c.logger.Warn("store dump failed", zap.String("request_id", rec.RequestID), zap.Error(err))
}

// validKey returns false if the IDs are malformed, and can't possibly refer to
// a stored record.
func (c *core) validKey(requestID, dumpID string) bool {
	return debugbar.IsRequestID(requestID) && debugbar.IsDumpID(dumpID)
}

// found decodes a record which was read from the backend, checking expiry.
func (c *core) found(rec *Record) (*dbgdump.Node, error) {
	if rec == nil || rec.Expired(c.now()) {
		return nil, c.notFound()
	}

	n, err := rec.Node()
	if err != nil {
		storeRetrieved.WithLabelValues(c.backend, "error").Inc()
		return nil, err
	}

	storeRetrieved.WithLabelValues(c.backend, "found").Inc()
	return n, nil
}

func (c *core) notFound() error {
	storeRetrieved.WithLabelValues(c.backend, "not_found").Inc()
	return debugbar.ErrNotFound
}

func (c *core) purged(n int) {
	storePurged.WithLabelValues(c.backend).Add(float64(n))
	c.budgets.Prune(c.ttl, c.now())
}

type recordKey struct {
	requestID string
	dumpID    string
}

// Used returns the bytes the request has stored so far, against its budget.
func (c *core) Used(requestID string) int {
	return c.budgets.Used(requestID)
}

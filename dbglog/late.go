package dbglog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/internal/dbgpubsub"
	"github.com/peterbourgon/debugbar/internal/dbgringbuf"
)

// LateConfig configures late log retention.
type LateConfig struct {
	// Capacity is the maximum number of late entries kept per request. Older
	// entries are dropped. Optional. By default, 100. The maximum is 10000.
	Capacity int

	// TTL is how long late entries are kept after the last one was written.
	// Optional. By default, 1h.
	TTL time.Duration

	// Now returns the current time. Optional. By default, time.Now.
	Now func() time.Time
}

const (
	lateCapacityDef = 100
	lateCapacityMax = 10000
	lateTTLDef      = time.Hour
)

// Event is a late entry published to subscribers.
type Event struct {
	RequestID string `json:"request_id"`
	Entry     Entry  `json:"entry"`
}

// LateLogs keeps entries logged by requests after they've finished, so they
// can be retrieved, or streamed, by a later request.
type LateLogs struct {
	bufs   *dbgringbuf.RingBuffers[Entry]
	broker *dbgpubsub.Broker[Event]
	ttl    time.Duration
	now    func() time.Time
	seq    atomic.Uint64
}

// NewLateLogs returns an empty set of late logs.
func NewLateLogs(cfg LateConfig) *LateLogs {
	switch {
	case cfg.Capacity <= 0:
		cfg.Capacity = lateCapacityDef
	case cfg.Capacity > lateCapacityMax:
		cfg.Capacity = lateCapacityMax
	}
	if cfg.TTL <= 0 {
		cfg.TTL = lateTTLDef
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LateLogs{
		bufs:   dbgringbuf.NewRingBuffers[Entry](cfg.Capacity),
		broker: dbgpubsub.NewBroker[Event](),
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}
}

// Add a late entry for the request, and publish it to subscribers. Each
// entry gets a sequence number, unique across requests.
func (ll *LateLogs) Add(requestID string, e Entry) {
	e.Late = true
	e.Seq = ll.seq.Add(1)
	ll.bufs.Add(requestID, e, ll.now())
	ll.broker.Publish(Event{RequestID: requestID, Entry: e})
}

// Get the late entries for the request, oldest first. If the request has no
// late entries, or they've expired, Get returns debugbar.ErrNotFound.
func (ll *LateLogs) Get(requestID string) ([]Entry, error) {
	rb, touched, ok := ll.bufs.Get(requestID)
	if !ok {
		return nil, debugbar.ErrNotFound
	}
	if !ll.now().Before(touched.Add(ll.ttl)) {
		ll.bufs.Delete(requestID)
		return nil, debugbar.ErrNotFound
	}
	return rb.Snapshot(), nil
}

// Subscribe the channel to late entries for the request. Subscribe blocks
// until the context is canceled.
func (ll *LateLogs) Subscribe(ctx context.Context, requestID string, ch chan<- Event) error {
	allow := func(ev Event) bool { return ev.RequestID == requestID }
	_, err := ll.broker.Subscribe(ctx, allow, ch)
	return err
}

// Follow subscribes the channel to late entries for the request, and returns
// the entries kept so far. Every entry added after Follow returns is sent to
// the channel, barring drops, and entries added concurrently may be both
// returned and sent; callers can tell them apart by Seq. Call stop to end the
// subscription.
func (ll *LateLogs) Follow(requestID string, ch chan<- Event) (backlog []Entry, stop func(), err error) {
	allow := func(ev Event) bool { return ev.RequestID == requestID }
	if err := ll.broker.Register(allow, ch); err != nil {
		return nil, nil, err
	}

	backlog, _ = ll.Get(requestID) // none yet is fine
	return backlog, func() { ll.broker.Unregister(ch) }, nil
}

// Subscribers returns the number of active subscriptions.
func (ll *LateLogs) Subscribers() int {
	return ll.broker.Subscribers()
}

// Requests returns the number of requests with late entries kept, including
// expired ones not yet purged.
func (ll *LateLogs) Requests() int {
	return ll.bufs.Len()
}

// Purge deletes expired late entries, and returns the number of requests
// whose entries were deleted.
func (ll *LateLogs) Purge() int {
	return ll.bufs.Prune(ll.now().Add(-ll.ttl))
}


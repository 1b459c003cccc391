package dbgpubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAlreadySubscribed is returned when a channel is subscribed twice.
var ErrAlreadySubscribed = errors.New("already subscribed")

// Broker fans published values out to subscribers. Sends never block: a
// subscriber whose channel is full misses the value, and the drop is counted.
type Broker[T any] struct {
	mtx         sync.Mutex
	subscribers map[chan<- T]*subscriber[T]
	active      atomic.Bool
}

type subscriber[T any] struct {
	allow func(T) bool
	ch    chan<- T
	stats Stats
}

// NewBroker returns a broker with no subscribers.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: map[chan<- T]*subscriber[T]{},
	}
}

// Publish the value to every subscriber which allows it.
func (b *Broker[T]) Publish(val T) {
	if !b.active.Load() { // optimization
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, sub := range b.subscribers {
		if sub.allow != nil && !sub.allow(val) {
			sub.stats.Skips++
			continue
		}
		select {
		case sub.ch <- val:
			sub.stats.Sends++
		default:
			sub.stats.Drops++
		}
	}
}

// Subscribe the channel to published values which pass allow, where a nil
// allow passes everything. Subscribe blocks until the context is canceled,
// and returns the subscription's stats.
func (b *Broker[T]) Subscribe(ctx context.Context, allow func(T) bool, ch chan<- T) (Stats, error) {
	if err := b.Register(allow, ch); err != nil {
		return Stats{}, err
	}

	<-ctx.Done()

	return b.Unregister(ch), ctx.Err()
}

// Register the channel to published values which pass allow, where a nil
// allow passes everything. Values published after Register returns are sent
// to the channel until Unregister is called.
func (b *Broker[T]) Register(allow func(T) bool, ch chan<- T) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		return ErrAlreadySubscribed
	}

	b.subscribers[ch] = &subscriber[T]{
		allow: allow,
		ch:    ch,
	}

	b.active.Store(true)

	return nil
}

// Unregister the channel, and return its stats. Unknown channels yield zero
// stats.
func (b *Broker[T]) Unregister(ch chan<- T) Stats {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subscribers[ch]
	if !ok {
		return Stats{}
	}

	delete(b.subscribers, ch)
	b.active.Store(len(b.subscribers) > 0)

	return sub.stats
}

// Subscribers returns the number of active subscriptions.
func (b *Broker[T]) Subscribers() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return len(b.subscribers)
}

// Stats for a single subscription.
type Stats struct {
	Skips uint64 `json:"skips"`
	Sends uint64 `json:"sends"`
	Drops uint64 `json:"drops"`
}

func (s Stats) String() string {
	return fmt.Sprintf("skips=%d sends=%d drops=%d", s.Skips, s.Sends, s.Drops)
}

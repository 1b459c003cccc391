package dbgstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/peterbourgon/debugbar"
)

// Budgets tracks the cumulative bytes stored by each request. The
// read-check-increment of a reservation is atomic, so concurrent stores from
// the same request can't overrun the limit.
type Budgets struct {
	mtx   sync.Mutex
	limit int
	used  map[string]*budget
}

type budget struct {
	used    int
	touched time.Time
}

// NewBudgets returns an empty set of budgets with the given per-request limit.
func NewBudgets(limit int) *Budgets {
	return &Budgets{
		limit: limit,
		used:  map[string]*budget{},
	}
}

// Limit returns the per-request limit.
func (b *Budgets) Limit() int {
	return b.limit
}

// Reserve size bytes for the request. If the reservation would exceed the
// limit, Reserve returns a *CapacityError, and nothing is reserved.
func (b *Budgets) Reserve(requestID string, size int, now time.Time) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	u, ok := b.used[requestID]
	if !ok {
		u = &budget{}
		b.used[requestID] = u
	}

	if u.used+size > b.limit {
		return &CapacityError{
			RequestID: requestID,
			Used:      u.used,
			Size:      size,
			Limit:     b.limit,
		}
	}

	u.used += size
	u.touched = now
	return nil
}

// Refund returns size bytes to the request's budget, after a failed write.
func (b *Budgets) Refund(requestID string, size int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if u, ok := b.used[requestID]; ok {
		u.used -= size
		if u.used < 0 {
			u.used = 0
		}
	}
}

// Used returns the bytes currently reserved by the request.
func (b *Budgets) Used(requestID string) int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if u, ok := b.used[requestID]; ok {
		return u.used
	}
	return 0
}

// Release forgets the request's budget.
func (b *Budgets) Release(requestID string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	delete(b.used, requestID)
}

// Prune forgets the budgets of requests which haven't reserved anything for
// longer than idle, and returns how many were forgotten. It guards against
// requests which were never released.
func (b *Budgets) Prune(idle time.Duration, now time.Time) int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	var n int
	for id, u := range b.used {
		if now.Sub(u.touched) > idle {
			delete(b.used, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked budgets.
func (b *Budgets) Len() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return len(b.used)
}

//
//
//

// CapacityError is returned when a dump would exceed its request's budget.
// It matches debugbar.ErrCapacity via errors.Is.
type CapacityError struct {
	RequestID string
	Used      int
	Size      int
	Limit     int
}

// Error implements error.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: request %s has used %d of %d bytes, dump needs %d", debugbar.ErrCapacity, e.RequestID, e.Used, e.Limit, e.Size)
}

// Unwrap returns debugbar.ErrCapacity.
func (e *CapacityError) Unwrap() error {
	return debugbar.ErrCapacity
}

// Package debounce coalesces rapid repeated requests per user and caches
// recent answers so superseded or duplicate work never reaches a provider.
package debounce

import (
	"context"
	"sync"
	"time"
)

type pendingUnit struct {
	cancel     context.CancelFunc
	generation uint64
}

// Debouncer holds one pending unit of work per user. Scheduling a new unit
// cancels the previous one; the unit runs only after the quiet period passes
// without another request from the same user.
type Debouncer struct {
	mu         sync.Mutex
	pending    map[int64]pendingUnit
	generation uint64
	delay      time.Duration
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Debouncer{
		pending: make(map[int64]pendingUnit),
		delay:   delay,
	}
}

// Schedule queues fn for userID after the quiet period. Any previously
// scheduled unit for the same user is cancelled, even when it is already
// running; fn must check its context before causing side effects. The
// unit stays registered until fn returns so a newer submission can cancel
// in-flight work.
func (d *Debouncer) Schedule(ctx context.Context, userID int64, fn func(ctx context.Context)) {
	unitCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if prev, ok := d.pending[userID]; ok {
		prev.cancel()
	}
	d.generation++
	generation := d.generation
	d.pending[userID] = pendingUnit{cancel: cancel, generation: generation}
	d.mu.Unlock()

	go func() {
		defer cancel()
		defer d.remove(userID, generation)
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-unitCtx.Done():
			return
		case <-timer.C:
		}
		fn(unitCtx)
	}()
}

// remove drops the unit's registration unless a newer one replaced it.
func (d *Debouncer) remove(userID int64, generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.pending[userID]; ok && current.generation == generation {
		delete(d.pending, userID)
	}
}

// Cancel drops any pending unit for userID.
func (d *Debouncer) Cancel(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if unit, ok := d.pending[userID]; ok {
		unit.cancel()
		delete(d.pending, userID)
	}
}

// internal/manager/dispatcher.go
package manager

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// dispatcher runs work on at most `workers` goroutines at a time.
// Dispatch never blocks: queued work waits on the semaphore in its own
// goroutine and is dropped if ctx ends before a slot frees up.
type dispatcher struct {
	ctx context.Context
	sem *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(ctx context.Context, workers int) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &dispatcher{
		ctx: ctx,
		sem: semaphore.NewWeighted(int64(workers)),
	}
}

func (d *dispatcher) Dispatch(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		fn()
	}()
	return true
}

// Close rejects new work and waits for everything dispatched so far.
func (d *dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

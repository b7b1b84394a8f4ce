package tracker

import (
	"sync"
	"sync/atomic"
)

// Runner executes at most one task at a time. A task offered while another
// is running is rejected, not queued.
type Runner struct {
	busy atomic.Bool
	wg   sync.WaitGroup
}

// TryGo starts fn on its own goroutine unless a task is running.
func (r *Runner) TryGo(fn func()) bool {
	if !r.busy.CompareAndSwap(false, true) {
		return false
	}

	r.wg.Add(1)
	go func() {
		defer func() {
			r.busy.Store(false)
			r.wg.Done()
		}()
		fn()
	}()
	return true
}

// Busy reports whether a task is running.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Wait blocks until the running task, if any, returns.
func (r *Runner) Wait() {
	r.wg.Wait()
}

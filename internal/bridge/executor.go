package bridge

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Executor runs blocking I/O for every worker of a Bridge. It outlives the
// workers: a discarded worker's in-flight jobs finish here and their results
// are dropped when the worker's loop refuses them.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc
	slots  *semaphore.Weighted
	jobs   errgroup.Group
	width  int
}

// DefaultExecutorWidth bounds concurrent I/O jobs.
const DefaultExecutorWidth = 64

// NewExecutor returns an executor running at most width jobs at once.
func NewExecutor(width int) *Executor {
	if width <= 0 {
		width = DefaultExecutorWidth
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{ctx: ctx, cancel: cancel, slots: semaphore.NewWeighted(int64(width)), width: width}
}

// Width is the number of jobs run at once.
func (e *Executor) Width() int { return e.width }

// Context is cancelled when the executor shuts down.
func (e *Executor) Context() context.Context { return e.ctx }

// Submit runs job on its own goroutine once a slot frees up. It never blocks
// the caller, which is usually the loop goroutine. It returns false if the
// executor is shut down.
func (e *Executor) Submit(job func()) bool {
	if e.ctx.Err() != nil {
		return false
	}
	e.jobs.Go(func() error {
		if err := e.slots.Acquire(e.ctx, 1); err != nil {
			return nil
		}
		defer e.slots.Release(1)
		job()
		return nil
	})
	return true
}

// Close cancels the executor context and waits for running jobs.
func (e *Executor) Close() {
	e.cancel()
	_ = e.jobs.Wait()
}

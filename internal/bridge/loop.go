package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/guestjs/internal/goroutineid"
)

// Loop owns the goroutine a guest worker runs on.
//
// goja.Runtime is not goroutine-safe, so every access goes through the loop.
// The host blocks on RunSync while the guest runs, which is what keeps guest
// code inside the dynamic extent of a host call.
type Loop struct {
	loop *eventloop.EventLoop

	// owner is the loop goroutine, captured once at startup.
	owner goroutineid.Owner

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

var (
	errLoopNotRunning = errors.New("event loop not running")
	errLoopStopped    = errors.New("event loop stopped before completion")
)

// NewLoop starts an event loop using registry for require().
func NewLoop(registry *require.Registry) (*Loop, error) {
	if registry == nil {
		registry = require.NewRegistry()
	}

	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(true),
	)

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		loop:   loop,
		ctx:    ctx,
		cancel: cancel,
	}

	loop.Start()
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()

	ready := make(chan struct{})
	if !loop.RunOnLoop(func(*goja.Runtime) {
		l.owner.Claim()
		close(ready)
	}) {
		cancel()
		return nil, errLoopNotRunning
	}
	<-ready

	return l, nil
}

// EventLoop returns the underlying event loop, for its timer API.
func (l *Loop) EventLoop() *eventloop.EventLoop { return l.loop }

// OnLoop reports whether the caller is the loop goroutine.
func (l *Loop) OnLoop() bool { return l.owner.IsCurrent() }

// Close stops the loop. It must not be called from the loop goroutine. Safe
// to call multiple times.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	l.cancel()
	l.loop.Stop()
	l.owner.Disown()
}

// Done is closed once the loop is stopped.
func (l *Loop) Done() <-chan struct{} { return l.ctx.Done() }

// IsRunning reports whether the loop accepts jobs.
func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started && !l.stopped
}

// RunAsync posts fn to the loop without waiting. It returns false if the loop
// is not running.
func (l *Loop) RunAsync(fn func(*goja.Runtime)) bool {
	if !l.IsRunning() {
		return false
	}
	return l.loop.RunOnLoop(fn)
}

// RunSync runs fn on the loop and blocks until it returns. A panic inside fn
// is recovered and returned as an error, so a misbehaving host callback
// cannot take the loop goroutine down.
func (l *Loop) RunSync(fn func(*goja.Runtime) error) error {
	if !l.IsRunning() {
		return errLoopNotRunning
	}

	errCh := make(chan error, 1)
	if !l.loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- guard(vm, fn)
	}) {
		return errLoopNotRunning
	}

	select {
	case err := <-errCh:
		return err
	case <-l.Done():
		return errLoopStopped
	}
}

// TryRunSync runs fn inline when the caller already is the loop goroutine and
// falls back to RunSync otherwise. Posting from the loop to itself and then
// waiting would deadlock.
func (l *Loop) TryRunSync(vm *goja.Runtime, fn func(*goja.Runtime) error) error {
	if !l.IsRunning() {
		return errLoopNotRunning
	}
	if l.OnLoop() {
		return guard(vm, fn)
	}
	return l.RunSync(fn)
}

func guard(vm *goja.Runtime, fn func(*goja.Runtime) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch r := r.(type) {
			case *goja.Exception:
				err = r
			case *goja.InterruptedError:
				err = r
			case error:
				err = fmt.Errorf("panic on event loop: %w", r)
			default:
				err = fmt.Errorf("panic on event loop: %v", r)
			}
		}
	}()
	return fn(vm)
}

// Package bridge embeds a guest JavaScript engine in a single-threaded host.
//
// A Bridge owns the runtime state: the I/O executor, the current guest
// worker, the reentrancy flag and active scope, the script counter, the
// session options and whether a tick is armed. Host code enters the guest
// through the entry points in entry.go; guest code calls host functions by
// name through the global host object, and those functions may call back into
// the guest through the scope they are handed.
package bridge

import (
	"fmt"
	"io"
	"sync"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/cache"
	"github.com/joeycumines/guestjs/internal/host"
	"github.com/joeycumines/guestjs/internal/inspector"
	"github.com/joeycumines/guestjs/internal/proxy"
	"go.uber.org/zap"
)

// RuntimeState is the mutable state of a Bridge, guarded by Bridge.mu.
type RuntimeState struct {
	executor *Executor
	worker   *Worker

	// inside is true while a top-level entry is running on the loop.
	inside bool
	// active is the scope nested calls use; nil when outside.
	active *Scope

	moduleCounter uint64
	options       Options
	tickScheduled bool
	// topLevel is true while a script evaluation is in flight.
	topLevel bool

	scopesCreated  uint64
	workersCreated uint64
}

// Stats is a snapshot of the runtime state counters.
type Stats struct {
	ScopesCreated  uint64
	WorkersCreated uint64
	Scripts        uint64
	Inside         bool
	TopLevel       bool
	TickScheduled  bool
	HasWorker      bool
}

// Bridge is the process-wide owner of the guest engine.
type Bridge struct {
	mu    sync.Mutex
	state RuntimeState

	// entry serializes top-level entries from host goroutines.
	entry sync.Mutex

	logger        *zap.Logger
	scheduler     host.Scheduler
	obarray       *host.Obarray
	executorWidth int
	stdout        io.Writer
	stderr        io.Writer

	cache      cache.Cache
	inspector  *inspector.Server
	onRelease  []func(proxy.ID, host.Value)
	watchers   []*Watcher
	closed     bool
	debuggerOK bool
}

// New returns a Bridge. Nothing is started until the first entry.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger:    zap.NewNop(),
		scheduler: host.TimerScheduler{},
		obarray:   host.NewObarray(),
	}
	b.state.options = DefaultOptions()
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Obarray returns the symbol table guest code resolves host functions in.
func (b *Bridge) Obarray() *host.Obarray { return b.obarray }

// Logger returns the bridge logger.
func (b *Bridge) Logger() *zap.Logger { return b.logger }

// Options returns the session options.
func (b *Bridge) Options() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.options
}

// Stats returns a snapshot of the state counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		ScopesCreated:  b.state.scopesCreated,
		WorkersCreated: b.state.workersCreated,
		Scripts:        b.state.moduleCounter,
		Inside:         b.state.inside,
		TopLevel:       b.state.topLevel,
		TickScheduled:  b.state.tickScheduled,
		HasWorker:      b.state.worker != nil,
	}
}

// Worker returns the current worker, or nil.
func (b *Bridge) Worker() *Worker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.worker
}

// OnProxyRelease registers fn to observe host objects leaving the proxy
// table of this and every later worker.
func (b *Bridge) OnProxyRelease(fn func(proxy.ID, host.Value)) {
	b.mu.Lock()
	b.onRelease = append(b.onRelease, fn)
	w := b.state.worker
	b.mu.Unlock()
	if w != nil {
		w.table.OnRelease(fn)
	}
}

func (b *Bridge) releaseHooks() []func(proxy.ID, host.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]func(proxy.ID, host.Value){}, b.onRelease...)
}

func (b *Bridge) transpileCache() cache.Cache {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cache == nil {
		c, err := cache.New(b.state.options.Cache)
		if err != nil {
			b.logger.Warn("transpile cache unavailable", zap.Error(err))
			c = cache.Nop{}
		}
		b.cache = c
	}
	return b.cache
}

// nextName returns a fresh script name, so no two evaluations share one.
func (b *Bridge) nextName(prefix string, typed bool) string {
	b.mu.Lock()
	b.state.moduleCounter++
	n := b.state.moduleCounter
	b.mu.Unlock()
	ext := ".js"
	if typed {
		ext = ".ts"
	}
	return fmt.Sprintf("%s-%d%s", prefix, n, ext)
}

// nextFileName returns path tagged with a fresh counter.
func (b *Bridge) nextFileName(path string) string {
	b.mu.Lock()
	b.state.moduleCounter++
	n := b.state.moduleCounter
	b.mu.Unlock()
	return fmt.Sprintf("%s#%d", path, n)
}

// ensureWorker returns the current worker, creating the executor and the
// worker on first use. The caller holds b.entry.
func (b *Bridge) ensureWorker() (*Worker, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.state.executor == nil {
		b.state.executor = NewExecutor(b.executorWidth)
		b.logger.Debug("io executor started", zap.Int("width", b.state.executor.Width()))
	}
	if w := b.state.worker; w != nil {
		b.mu.Unlock()
		return w, nil
	}
	opts := b.state.options
	exec := b.state.executor
	b.mu.Unlock()

	w, err := newWorker(b, opts, exec)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.state.worker = w
	b.state.workersCreated++
	b.mu.Unlock()
	b.logger.Info("guest worker created", zap.String("worker", w.id))
	return w, nil
}

// discardWorker drops w. On the loop goroutine the teardown is deferred to the
// end of the running entry.
func (b *Bridge) discardWorker(w *Worker) {
	if w == nil {
		return
	}
	if w.loop.OnLoop() {
		w.doomed = true
		return
	}
	b.mu.Lock()
	if b.state.worker == w {
		b.state.worker = nil
		b.state.tickScheduled = false
	}
	b.mu.Unlock()
	w.close()
}

// install makes s the active scope and returns the previous one.
func (b *Bridge) install(s *Scope) *Scope {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state.active
	b.state.active = s
	return prev
}

func (b *Bridge) newScope(w *Worker, vm *goja.Runtime) (*Scope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.inside {
		return nil, ErrReentrantScope
	}
	s := &Scope{bridge: b, worker: w, vm: vm}
	b.state.inside = true
	b.state.active = s
	b.state.scopesCreated++
	return s, nil
}

func (b *Bridge) exitScope(s *Scope) {
	b.mu.Lock()
	b.state.inside = false
	b.state.active = nil
	b.mu.Unlock()
	s.expired = true
}

// nested returns the active scope when the caller is the loop goroutine of
// the current worker, i.e. a host function called by the guest.
func (b *Bridge) nested() (*Scope, bool, error) {
	b.mu.Lock()
	w := b.state.worker
	active := b.state.active
	b.mu.Unlock()
	if w == nil || !w.loop.OnLoop() {
		return nil, false, nil
	}
	if active == nil {
		return nil, true, ErrNoScope
	}
	return active, true, nil
}

// activeScope returns the scope host functions called by w receive.
func (b *Bridge) activeScope(w *Worker) (*Scope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.state.active; s != nil && s.worker == w {
		return s, nil
	}
	return nil, ErrNoScope
}

// entryResult is what a call through enter produced.
type entryResult struct {
	value host.Value
	// nested is true when the call reused the scope of a running entry.
	nested bool
	// rejected holds the promises a top-level entry rejected and left
	// unhandled, other than those its script evaluation already claimed.
	rejected error
}

// enter runs fn with a scope. From a host goroutine it is a top-level entry:
// one new scope, held for the whole call. From the loop goroutine it is a
// nested entry reusing the active scope, run inline.
func (b *Bridge) enter(fn func(s *Scope) (host.Value, error)) (entryResult, error) {
	if s, ok, err := b.nested(); ok {
		res := entryResult{nested: true}
		if err != nil {
			return res, err
		}
		err = s.worker.loop.TryRunSync(s.vm, func(*goja.Runtime) error {
			var err error
			res.value, err = s.reenter(func() (host.Value, error) { return fn(s) })
			return err
		})
		return res, err
	}

	b.entry.Lock()
	defer b.entry.Unlock()

	w, err := b.ensureWorker()
	if err != nil {
		return entryResult{}, err
	}
	var res entryResult
	err = w.loop.RunSync(func(vm *goja.Runtime) error {
		s, err := b.newScope(w, vm)
		if err != nil {
			return err
		}
		defer b.exitScope(s)
		w.flush()
		mark := w.rejectMark()
		res.value, err = fn(s)
		w.dropAdoptions()
		res.rejected = w.takeRejections(mark)
		return err
	})
	if w.doomed {
		b.discardWorker(w)
	}
	return res, err
}

// setTopLevel sets the top-level flag and returns the previous value.
func (b *Bridge) setTopLevel(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state.topLevel
	b.state.topLevel = v
	return prev
}

// armTick schedules a tick unless one is already armed.
func (b *Bridge) armTick() {
	b.mu.Lock()
	if b.state.tickScheduled || b.closed {
		b.mu.Unlock()
		return
	}
	b.state.tickScheduled = true
	d := b.state.options.interval()
	b.mu.Unlock()
	b.scheduler.RunAfter(d, func() { _, _ = b.Tick(nil) })
}

// rearm schedules the next tick with handler.
func (b *Bridge) rearm(handler ErrorHandler) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.state.tickScheduled = true
	d := b.state.options.interval()
	b.mu.Unlock()
	b.scheduler.RunAfter(d, func() { _, _ = b.Tick(handler) })
}

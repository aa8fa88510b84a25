package bridge

import (
	_ "embed"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/google/uuid"
	"github.com/joeycumines/guestjs/internal/builtin"
	"github.com/joeycumines/guestjs/internal/builtin/policy"
	"github.com/joeycumines/guestjs/internal/codec"
	"github.com/joeycumines/guestjs/internal/host"
	"github.com/joeycumines/guestjs/internal/proxy"
	"github.com/joeycumines/guestjs/internal/typescript"
	"go.uber.org/zap"
)

//go:embed bootstrap.js
var bootstrapSource string

// drainProgram does nothing; running it drains the job queue, so promise
// reactions to values settled from Go run before the poll returns.
var drainProgram = goja.MustCompile("drain", "void 0", false)

// Worker is one guest execution context: a goja runtime on its own loop, the
// proxy table for the host objects it references and its module cache. A
// worker that failed fatally is discarded, never reused.
//
// Fields below the loop are only touched from the loop goroutine.
type Worker struct {
	id     string
	bridge *Bridge
	opts   Options
	exec   *Executor
	logger *zap.Logger

	loop *Loop
	vm   *goja.Runtime

	table     *proxy.Table
	finalizer *proxy.Finalizer
	codec     codec.Config
	ts        *typescript.Transpiler

	invoke goja.Callable
	encode goja.Callable

	guestMu sync.Mutex
	guests  map[string]*guestRef
	guestID map[*goja.Object]string
	dropped []string
	nextRef uint64

	timers    map[int64]*timer
	nextTimer int64
	armed     int
	inflight  int
	ready     []func() error

	rejected  []rejection
	rejectSeq uint64
	// adoptable counts the references Proxify took that the guest has not
	// adopted yet; adopt only accepts ids listed here.
	adoptable map[proxy.ID]int
	remote    map[string]goja.Value

	doomed bool
}

type guestRef struct {
	value goja.Value
	refs  int
}

// rejection is a promise rejected with no handler, numbered in the order the
// rejections happened.
type rejection struct {
	promise *goja.Promise
	seq     uint64
}

func newWorker(b *Bridge, opts Options, exec *Executor) (*Worker, error) {
	ts, err := typescript.New(typescript.Options{
		TSConfigPath: opts.TSConfigPath,
		NoCheck:      opts.NoCheck,
		Cache:        b.transpileCache(),
	})
	if err != nil {
		return nil, err
	}

	w := &Worker{
		id:        uuid.NewString(),
		bridge:    b,
		opts:      opts,
		exec:      exec,
		table:     proxy.NewTable(),
		finalizer: proxy.NewFinalizer(nil),
		ts:        ts,
		guests:    make(map[string]*guestRef),
		guestID:   make(map[*goja.Object]string),
		timers:    make(map[int64]*timer),
		adoptable: make(map[proxy.ID]int),
		remote:    make(map[string]goja.Value),
	}
	w.logger = b.logger.With(zap.String("worker", w.id))
	for _, fn := range b.releaseHooks() {
		w.table.OnRelease(fn)
	}

	w.codec = opts.Codec
	w.codec.Proxify = func(v host.Value) (string, error) {
		id := w.table.Retain(v)
		w.adoptable[id]++
		return id.String(), nil
	}
	w.codec.Resolve = w.table.ResolveString
	w.codec.Guest = w.foreign

	registry := require.NewRegistry(require.WithLoader(w.loadSource))
	builtin.Register(exec.Context(), registry, opts.Permissions(), w)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&printer{w: w}))

	loop, err := NewLoop(registry)
	if err != nil {
		return nil, err
	}
	w.loop = loop

	if err := loop.RunSync(w.bootstrap); err != nil {
		loop.Close()
		return nil, fmt.Errorf("bootstrap worker: %w", err)
	}
	w.logger.Debug("worker started")
	return w, nil
}

func (w *Worker) bootstrap(vm *goja.Runtime) error {
	w.vm = vm
	vm.SetPromiseRejectionTracker(w.trackRejection)
	if err := w.installTimers(vm); err != nil {
		return err
	}
	if err := w.installBoundary(vm); err != nil {
		return err
	}

	v, err := vm.RunScript("bootstrap.js", bootstrapSource)
	if err != nil {
		return err
	}
	internals := v.ToObject(vm)
	var ok bool
	if w.invoke, ok = goja.AssertFunction(internals.Get("invoke")); !ok {
		return fmt.Errorf("bootstrap: invoke is not a function")
	}
	if w.encode, ok = goja.AssertFunction(internals.Get("encode")); !ok {
		return fmt.Errorf("bootstrap: encode is not a function")
	}
	return nil
}

// ID returns the worker's session id.
func (w *Worker) ID() string { return w.id }

// Table returns the proxy table of the worker.
func (w *Worker) Table() *proxy.Table { return w.table }

// close stops the loop and drops every retained host object. It must not run
// on the loop goroutine.
func (w *Worker) close() {
	w.loop.Close()
	w.table.Clear()
	w.logger.Debug("worker discarded")
}

// Go runs work on the executor and queues the function it returns to run on
// the next poll. Called from the loop goroutine by guest modules.
func (w *Worker) Go(work func() func(*goja.Runtime)) {
	w.inflight++
	w.bridge.armTick()
	submitted := w.exec.Submit(func() {
		settle := work()
		w.loop.RunAsync(func(vm *goja.Runtime) {
			w.inflight--
			w.ready = append(w.ready, func() error {
				settle(vm)
				return nil
			})
		})
	})
	if !submitted {
		w.inflight--
	}
}

var _ policy.Executor = (*Worker)(nil)

// flush applies handles and guest references dropped since the last entry.
func (w *Worker) flush() {
	if n := w.finalizer.Flush(w.table); n > 0 {
		w.logger.Debug("finalized proxies", zap.Int("count", n))
	}
	w.guestMu.Lock()
	dropped := w.dropped
	w.dropped = nil
	for _, id := range dropped {
		if r, ok := w.guests[id]; ok {
			r.refs--
		}
	}
	for id, r := range w.guests {
		if r.refs <= 0 {
			delete(w.guests, id)
			if obj, ok := r.value.(*goja.Object); ok {
				delete(w.guestID, obj)
			}
		}
	}
	w.guestMu.Unlock()
}

// poll runs every job that is ready and reports what failed. Rejections the
// jobs leave unhandled are collected by the entry running the poll.
func (w *Worker) poll() []error {
	w.flush()
	batch := w.ready
	w.ready = nil
	var errs []error
	for _, job := range batch {
		if err := guard(w.vm, func(*goja.Runtime) error { return job() }); err != nil {
			errs = append(errs, classifyGoja("", err))
		}
	}
	if len(batch) > 0 {
		if _, err := w.vm.RunProgram(drainProgram); err != nil {
			errs = append(errs, classifyGoja("", err))
		}
	}
	return errs
}

// drained reports whether nothing is left for a future poll.
func (w *Worker) drained() bool {
	return w.armed == 0 && w.inflight == 0 && len(w.ready) == 0
}

func (w *Worker) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		w.rejectSeq++
		w.rejected = append(w.rejected, rejection{promise: p, seq: w.rejectSeq})
	case goja.PromiseRejectionHandle:
		for i, r := range w.rejected {
			if r.promise == p {
				w.rejected = append(w.rejected[:i], w.rejected[i+1:]...)
				break
			}
		}
	}
}

// rejectMark numbers the latest rejection; takeRejections(mark) later sees
// only the ones that came after it.
func (w *Worker) rejectMark() uint64 { return w.rejectSeq }

// takeRejections removes the unhandled rejections recorded after mark and
// returns them as one error, or nil.
func (w *Worker) takeRejections(mark uint64) error {
	var (
		err  *UnhandledRejectionError
		kept = w.rejected[:0]
	)
	for _, r := range w.rejected {
		if r.seq <= mark {
			kept = append(kept, r)
			continue
		}
		if err == nil {
			err = &UnhandledRejectionError{}
		}
		err.Reasons = append(err.Reasons, guestError(r.promise.Result()))
	}
	w.rejected = kept
	if err == nil {
		return nil
	}
	return err
}

// claimAdoption consumes one reference Proxify took for id.
func (w *Worker) claimAdoption(id proxy.ID) bool {
	n := w.adoptable[id]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(w.adoptable, id)
	} else {
		w.adoptable[id] = n - 1
	}
	return true
}

// dropAdoptions releases references Proxify took for values the guest never
// decoded, e.g. because decoding failed part way.
func (w *Worker) dropAdoptions() {
	if len(w.adoptable) == 0 {
		return
	}
	var ids []proxy.ID
	for id, n := range w.adoptable {
		for range n {
			ids = append(ids, id)
		}
	}
	clear(w.adoptable)
	w.table.Release(ids...)
}

// retainGuest returns the reference id of a guest value.
func (w *Worker) retainGuest(v goja.Value) string {
	w.guestMu.Lock()
	defer w.guestMu.Unlock()
	obj, _ := v.(*goja.Object)
	if obj != nil {
		if id, ok := w.guestID[obj]; ok {
			return id
		}
	}
	w.nextRef++
	id := strconv.FormatUint(w.nextRef, 10)
	w.guests[id] = &guestRef{value: v}
	if obj != nil {
		w.guestID[obj] = id
	}
	return id
}

// foreign is the codec hook producing host references to guest values. The
// reference keeps the guest value alive until the host drops it.
func (w *Worker) foreign(id string) (host.Value, error) {
	w.guestMu.Lock()
	r, ok := w.guests[id]
	if ok {
		r.refs++
	}
	w.guestMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: guest reference %s", proxy.ErrStaleHandle, id)
	}
	f := &host.Foreign{Kind: codec.GuestKind, ID: id, Owner: w}
	runtime.AddCleanup(f, w.dropGuest, id)
	return f, nil
}

func (w *Worker) dropGuest(id string) {
	w.guestMu.Lock()
	w.dropped = append(w.dropped, id)
	w.guestMu.Unlock()
}

func (w *Worker) guestValue(f *host.Foreign) (goja.Value, error) {
	if f.Owner != w || f.Kind != codec.GuestKind {
		return nil, fmt.Errorf("%w: guest reference %s", proxy.ErrStaleHandle, f.ID)
	}
	w.guestMu.Lock()
	r, ok := w.guests[f.ID]
	w.guestMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: guest reference %s", proxy.ErrStaleHandle, f.ID)
	}
	return r.value, nil
}

// toHost converts a guest value through the codec.
func (w *Worker) toHost(v goja.Value) (host.Value, error) {
	if v == nil || goja.IsUndefined(v) {
		return host.Nil, nil
	}
	text, err := w.encode(goja.Undefined(), v)
	if err != nil {
		return nil, classifyGoja("", err)
	}
	return codec.Decode(text.String(), w.codec)
}

// loadSource backs require() for files: it honours the read permission and
// runs .ts modules through the typed pass.
func (w *Worker) loadSource(path string) ([]byte, error) {
	if err := w.opts.Permissions().Check(policy.Read, path); err != nil {
		return nil, err
	}
	data, err := require.DefaultSourceLoader(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".ts") {
		code, err := w.ts.Transform(path, string(data))
		if err != nil {
			return nil, err
		}
		return []byte(code), nil
	}
	return data, nil
}

package bridge

import (
	"context"
	"errors"
	"os"

	"github.com/joeycumines/guestjs/internal/host"
	"github.com/joeycumines/guestjs/internal/inspector"
	"github.com/joeycumines/guestjs/internal/typescript"
	"go.uber.org/zap"
)

var _ host.Caller = (*Bridge)(nil)

// Evaluate runs source as a fresh anonymous script and returns its completion
// value. Failures go to the error handler, in which case the result is nil.
func (b *Bridge) Evaluate(source string, typed bool) (host.Value, error) {
	return b.evaluate(b.nextName("anonymous", typed), source, typed)
}

// EvaluateFile runs the contents of path under a fresh name, so evaluating an
// unchanged file twice runs it twice. Files without a .js, .mjs or .cjs
// suffix are always typed.
func (b *Bridge) EvaluateFile(path string, typed bool) (host.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		sig := &host.Signal{Symbol: host.FileMissing, Data: []host.Value{host.String(err.Error()), host.String(path)}}
		return b.fail(sig, nil)
	}
	typed = typed || !typescript.IsUntyped(path)
	return b.evaluate(b.nextFileName(path), string(data), typed)
}

// EvaluateBuffer runs the whole text of buf.
func (b *Bridge) EvaluateBuffer(buf host.Buffer, typed bool) (host.Value, error) {
	return b.Evaluate(buf.String(), typed)
}

// EvaluateRegion runs the text of buf between positions start and end.
func (b *Bridge) EvaluateRegion(buf host.Buffer, start, end int, typed bool) (host.Value, error) {
	text, err := buf.Substring(start, end)
	if err != nil {
		return b.fail(err, nil)
	}
	return b.Evaluate(text, typed)
}

func (b *Bridge) evaluate(name, source string, typed bool) (host.Value, error) {
	b.waitForDebugger()
	res, err := b.enter(func(s *Scope) (host.Value, error) {
		return b.run(s, name, source, typed)
	})
	if err != nil {
		if res.nested {
			return nil, err
		}
		return b.fail(err, nil)
	}
	if err := b.reportRejected(res.rejected); err != nil {
		return res.value, err
	}
	return res.value, nil
}

// reportRejected hands the rejections an entry left behind to the session
// error handler. They never cost the worker. Without a handler the error is
// returned.
func (b *Bridge) reportRejected(rejected error) error {
	if rejected == nil {
		return nil
	}
	_, err := b.fail(rejected, nil)
	return err
}

// Initialize replaces the session options and eagerly starts a worker under
// them. An existing worker is discarded first.
func (b *Bridge) Initialize(opts Options) (host.Value, error) {
	if _, ok, _ := b.nested(); ok {
		return nil, ErrReentrantScope
	}
	if opts.Codec.Null == nil && opts.Codec.False == nil {
		opts.Codec = DefaultOptions().Codec
	}

	b.entry.Lock()
	defer b.entry.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	old := b.state.worker
	b.state.options = opts
	b.cache = nil
	insp := b.inspector
	b.inspector = nil
	b.debuggerOK = false
	b.mu.Unlock()

	b.discardWorker(old)
	if insp != nil {
		_ = insp.Close()
	}
	if opts.InspectAddr != "" {
		if err := b.startInspector(opts.InspectAddr, opts.InspectBreak); err != nil {
			return nil, err
		}
	}
	if _, err := b.ensureWorker(); err != nil {
		return nil, err
	}
	return host.T, nil
}

// InitializeArgs is Initialize in the keyword form host code uses, e.g.
// InitializeArgs(host.Keyword("allow-net"), host.Nil).
func (b *Bridge) InitializeArgs(plist ...host.Value) (host.Value, error) {
	opts, err := ParseOptions(b.obarray, b, plist...)
	if err != nil {
		return nil, err
	}
	return b.Initialize(opts)
}

// Cleanup discards the worker. The next entry builds a new one.
// Called from a host function the worker is torn down once the running
// entry returns.
func (b *Bridge) Cleanup() (host.Value, error) {
	if _, nested, _ := b.nested(); nested {
		b.discardWorker(b.Worker())
		return host.Nil, nil
	}
	b.entry.Lock()
	defer b.entry.Unlock()
	b.discardWorker(b.Worker())
	return host.Nil, nil
}

// Tick polls the guest once. It re-arms itself through the host scheduler
// while work is pending and stops once the guest is drained. Errors raised by
// the poll go to handler (or the session handler) and leave the worker
// running.
func (b *Bridge) Tick(handler ErrorHandler) (host.Value, error) {
	b.mu.Lock()
	w := b.state.worker
	inside := b.state.inside
	if w == nil {
		b.state.tickScheduled = false
	}
	b.mu.Unlock()

	if w == nil {
		return host.Nil, nil
	}
	if inside {
		b.rearm(handler)
		return host.Nil, nil
	}

	var (
		errs    []error
		drained bool
	)
	res, err := b.enter(func(s *Scope) (host.Value, error) {
		if s.worker != w {
			drained = true
			return host.Nil, nil
		}
		errs = w.poll()
		drained = w.drained()
		return host.Nil, nil
	})
	if res.rejected != nil {
		errs = append(errs, res.rejected)
	}
	if err != nil {
		errs = append(errs, err)
	}

	if drained {
		b.mu.Lock()
		b.state.tickScheduled = false
		b.mu.Unlock()
	} else {
		b.rearm(handler)
	}

	var unhandled []error
	for _, e := range errs {
		if _, ferr := b.fail(e, handler); ferr != nil {
			unhandled = append(unhandled, ferr)
		}
	}
	if len(unhandled) > 0 {
		return nil, errors.Join(unhandled...)
	}
	return host.Nil, nil
}

// Call calls fn from outside the guest, as a top-level entry. fn may be a
// guest reference or a host function. Promises the call rejects without
// handling them go to the error handler and leave the worker running; with
// no handler they are returned together with the result.
func (b *Bridge) Call(fn host.Value, args ...host.Value) (host.Value, error) {
	res, err := b.enter(func(s *Scope) (host.Value, error) {
		return s.Call(fn, args...)
	})
	if err != nil {
		return nil, err
	}
	return res.value, b.reportRejected(res.rejected)
}

// Eval evaluates source and returns failures instead of handing them to the
// error handler.
func (b *Bridge) Eval(source string) (host.Value, error) {
	name := b.nextName("anonymous", false)
	res, err := b.enter(func(s *Scope) (host.Value, error) {
		return b.run(s, name, source, false)
	})
	if err == nil && res.rejected != nil {
		return nil, res.rejected
	}
	return res.value, err
}

// Close discards the worker and stops the executor, the inspector and any
// file watchers. The Bridge cannot be used afterwards.
func (b *Bridge) Close() error {
	if _, nested, _ := b.nested(); nested {
		return ErrReentrantScope
	}
	b.entry.Lock()
	defer b.entry.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	w := b.state.worker
	exec := b.state.executor
	insp := b.inspector
	watchers := b.watchers
	b.state.executor = nil
	b.inspector = nil
	b.watchers = nil
	b.mu.Unlock()

	for _, wt := range watchers {
		_ = wt.Close()
	}
	b.discardWorker(w)
	if exec != nil {
		exec.Close()
	}
	if insp != nil {
		return insp.Close()
	}
	return nil
}

func (b *Bridge) startInspector(addr string, wait bool) error {
	srv := inspector.New(addr, b.inspectEval, b.logger)
	if err := srv.Start(); err != nil {
		return err
	}
	b.mu.Lock()
	b.inspector = srv
	b.debuggerOK = !wait
	b.mu.Unlock()
	b.logger.Info("inspector listening", zap.String("addr", srv.Addr()))
	return nil
}

// inspectEval evaluates an inspector expression. The client connection is
// not the host's goroutine, so the evaluation is handed to the host
// scheduler, like any other event, and the connection waits for it.
func (b *Bridge) inspectEval(ctx context.Context, expr string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	b.scheduler.RunAfter(0, func() {
		if ctx.Err() != nil {
			done <- result{err: ctx.Err()}
			return
		}
		v, err := b.Eval(expr)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{text: host.Format(v)}
	})
	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Inspector returns the running inspector, or nil.
func (b *Bridge) Inspector() *inspector.Server {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inspector
}

// waitForDebugger holds the first evaluation of an InspectBreak session until
// a client resumes it.
func (b *Bridge) waitForDebugger() {
	b.mu.Lock()
	insp := b.inspector
	ok := b.debuggerOK
	b.mu.Unlock()
	if insp == nil || ok {
		return
	}
	if _, nested, _ := b.nested(); nested {
		return
	}
	b.logger.Info("waiting for debugger", zap.String("addr", insp.Addr()))
	if err := insp.WaitForDebugger(context.Background()); err != nil {
		b.logger.Warn("debugger wait aborted", zap.Error(err))
	}
	b.mu.Lock()
	b.debuggerOK = true
	b.mu.Unlock()
}

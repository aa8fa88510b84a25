package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeycumines/guestjs/internal/host"
	"github.com/joeycumines/guestjs/internal/proxy"
	"github.com/joeycumines/guestjs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newBridge(t *testing.T, opts ...Option) (*Bridge, *testutil.ManualScheduler) {
	t.Helper()
	sched := &testutil.ManualScheduler{}
	b := New(append([]Option{WithScheduler(sched)}, opts...)...)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })
	return b, sched
}

// recorder collects the failures an ErrorHandler receives.
type recorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *recorder) handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func initWithHandler(t *testing.T, b *Bridge, mutate func(*Options)) *recorder {
	t.Helper()
	rec := &recorder{}
	opts := DefaultOptions()
	opts.ErrorHandler = rec.handle
	if mutate != nil {
		mutate(&opts)
	}
	v, err := b.Initialize(opts)
	require.NoError(t, err)
	require.Equal(t, host.Value(host.T), v)
	return rec
}

// runTicks fires scheduled ticks until none is armed.
func runTicks(t *testing.T, b *Bridge, sched *testutil.ManualScheduler) int {
	t.Helper()
	ticks := 0
	err := testutil.Poll(context.Background(), func() bool {
		if sched.RunNext() {
			ticks++
		}
		return !b.Stats().TickScheduled && sched.Len() == 0
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
	return ticks
}

func TestEvaluateReturnsCompletionValue(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	for _, tc := range []struct {
		source string
		typed  bool
		want   host.Value
	}{
		{source: "1+1", want: host.Int(2)},
		{source: `"a" + "b"`, want: host.String("ab")},
		{source: "true", want: host.T},
		{source: "false", want: host.Keyword("false")},
		{source: "null", want: host.Keyword("null")},
		{source: "undefined", want: host.Nil},
		{source: "const x: number = 40; x + 2", typed: true, want: host.Int(42)},
	} {
		got, err := b.Evaluate(tc.source, tc.typed)
		require.NoError(t, err, tc.source)
		assert.Equal(t, tc.want, got, tc.source)
	}

	got, err := b.Evaluate("[1, 2.5, 'x']", false)
	require.NoError(t, err)
	vec, ok := got.(*host.Vector)
	require.True(t, ok)
	assert.Equal(t, []host.Value{host.Int(1), host.Float(2.5), host.String("x")}, vec.Items)
}

func TestEvaluationsGetUniqueNames(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	// lexical declarations would collide if two evaluations shared a scope
	for range 3 {
		got, err := b.Evaluate("const k = 41; k + 1", false)
		require.NoError(t, err)
		assert.Equal(t, host.Value(host.Int(42)), got)
	}
	assert.EqualValues(t, 3, b.Stats().Scripts)
	assert.NotEqual(t, b.nextName("anonymous", false), b.nextName("anonymous", false))
	assert.Regexp(t, `^anonymous-\d+\.ts$`, b.nextName("anonymous", true))
}

func TestOneScopePerTopLevelEntry(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	b.Obarray().Defun("nested", func(c host.Caller, args []host.Value) (host.Value, error) {
		// through the handed scope
		x, err := c.Eval("20 + 1")
		if err != nil {
			return nil, err
		}
		// through the bridge, which must detect the nesting
		y, err := b.Evaluate("21", false)
		if err != nil {
			return nil, err
		}
		return x.(host.Int) + y.(host.Int), nil
	})

	before := b.Stats().ScopesCreated
	got, err := b.Evaluate(`host.call("nested")`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)
	assert.Equal(t, before+1, b.Stats().ScopesCreated)

	_, err = b.Evaluate(`host.call("nested") + host.call("nested")`, false)
	require.NoError(t, err)
	assert.Equal(t, before+2, b.Stats().ScopesCreated)
	assert.False(t, b.Stats().Inside)
}

func TestGuestFunctionsCallableFromHost(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	b.Obarray().Defun("apply", func(c host.Caller, args []host.Value) (host.Value, error) {
		return c.Call(args[0], args[1:]...)
	})

	got, err := b.Evaluate(`host.call("apply", x => x * 2, 21)`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)

	fn, err := b.Evaluate(`(x) => x + 1`, false)
	require.NoError(t, err)
	f, ok := fn.(*host.Foreign)
	require.True(t, ok)
	got, err = b.Call(f, host.Int(1))
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(2)), got)
}

func TestScopeExpiresWithItsEntry(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	var kept host.Caller
	b.Obarray().Defun("keep", func(c host.Caller, args []host.Value) (host.Value, error) {
		kept = c
		return host.Nil, nil
	})

	_, err := b.Evaluate(`host.call("keep")`, false)
	require.NoError(t, err)
	require.NotNil(t, kept)
	_, err = kept.Eval("1")
	assert.ErrorIs(t, err, ErrScopeExpired)
}

func TestHostErrorsSurfaceInGuest(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	b.Obarray().Defun("reinit", func(c host.Caller, args []host.Value) (host.Value, error) {
		return b.Initialize(DefaultOptions())
	})

	got, err := b.Evaluate(`
		let out;
		try { host.call("no-such-function"); } catch (e) { out = [e instanceof HostError, e.symbol]; }
		out`, false)
	require.NoError(t, err)
	assert.Equal(t, []host.Value{host.T, host.String("void-function")}, got.(*host.Vector).Items)

	got, err = b.Evaluate(`
		let msg;
		try { host.call("reinit"); } catch (e) { msg = e.message; }
		msg`, false)
	require.NoError(t, err)
	assert.Contains(t, string(got.(host.String)), ErrReentrantScope.Error())
}

func TestProxyIdentityIsStable(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	obj := host.NewFunction("opaque", nil)
	b.Obarray().Defun("get-obj", func(c host.Caller, args []host.Value) (host.Value, error) {
		return obj, nil
	})
	b.Obarray().Defun("same-p", func(c host.Caller, args []host.Value) (host.Value, error) {
		return host.Bool(host.Eq(args[0], args[1])), nil
	})

	got, err := b.Evaluate(`
		const a = host.call("get-obj");
		const b = host.call("get-obj");
		[host.isProxy(a), host.call("same-p", a, b), a, b]`, false)
	require.NoError(t, err)
	items := got.(*host.Vector).Items
	require.Len(t, items, 4)
	assert.Equal(t, host.Value(host.T), items[0])
	assert.Equal(t, host.Value(host.T), items[1])
	assert.Same(t, obj, items[2])
	assert.Same(t, obj, items[3])

	// one slot per distinct host object, however many handles point at it
	assert.Equal(t, 1, b.Worker().Table().Len())
}

func TestFinalizeReleasesProxies(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	obj := host.NewFunction("opaque", nil)
	b.Obarray().Defun("get-obj", func(c host.Caller, args []host.Value) (host.Value, error) {
		return obj, nil
	})

	var (
		mu       sync.Mutex
		released []host.Value
	)
	b.OnProxyRelease(func(_ proxy.ID, v host.Value) {
		mu.Lock()
		released = append(released, v)
		mu.Unlock()
	})

	got, err := b.Evaluate(`
		const p = host.call("get-obj");
		const q = host.call("get-obj");
		[host.finalize(p), host.finalize(p), host.finalize([q])]`, false)
	require.NoError(t, err)
	assert.Equal(t, []host.Value{host.Int(1), host.Int(0), host.Int(1)}, got.(*host.Vector).Items)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, released, 1)
	assert.Same(t, obj, released[0])
	assert.Zero(t, b.Worker().Table().Len())
}

func TestUnreachableProxiesAreReleased(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	obj := host.NewFunction("opaque", nil)
	b.Obarray().Defun("get-obj", func(c host.Caller, args []host.Value) (host.Value, error) {
		return obj, nil
	})
	var released atomic.Bool
	b.OnProxyRelease(func(_ proxy.ID, v host.Value) {
		if v == host.Value(obj) {
			released.Store(true)
		}
	})

	_, err := b.Evaluate(`host.call("get-obj"); 0`, false)
	require.NoError(t, err)
	require.Equal(t, 1, b.Worker().Table().Len())

	err = testutil.Poll(context.Background(), func() bool {
		runtime.GC()
		// a deep call overwrites stale stack slots; the entry flushes the queue
		_, err := b.Evaluate(`(function f(n) { return n ? f(n - 1) : 0; })(64)`, false)
		require.NoError(t, err)
		return released.Load()
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, b.Worker().Table().Len())
}

func TestProxyConstructors(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	b.Obarray().Defun("describe", func(c host.Caller, args []host.Value) (host.Value, error) {
		out := make([]host.Value, len(args))
		for i, a := range args {
			out[i] = host.TypeOf(a)
		}
		return host.NewVector(out...), nil
	})

	got, err := b.Evaluate(`
		host.call("describe",
			host.string("s"), host.integer(3), host.float(3), host.symbol("foo"), host.list(1, 2))`, false)
	require.NoError(t, err)
	assert.Equal(t, []host.Value{
		host.Symbol("string"), host.Symbol("integer"), host.Symbol("float"), host.Symbol("symbol"), host.Symbol("cons"),
	}, got.(*host.Vector).Items)

	_, err = b.Evaluate(`host.integer(1.5)`, false)
	var ge *GuestError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "HostError", ge.Name)
}

func TestUnhandledRejectionDiscardsWorker(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	b, _ := newBridge(t, WithLogger(zap.New(core)))
	rec := initWithHandler(t, b, nil)
	first := b.Worker()
	require.NotNil(t, first)

	got, err := b.Evaluate(`Promise.reject(new Error("boom")); 1`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Nil), got)

	errs := rec.all()
	require.Len(t, errs, 1)
	var ur *UnhandledRejectionError
	require.ErrorAs(t, errs[0], &ur)
	require.Len(t, ur.Reasons, 1)
	assert.Equal(t, "boom", ur.Reasons[0].Message)
	assert.False(t, b.Stats().HasWorker)
	assert.Equal(t, 1, logs.FilterMessage("discarding worker after unhandled top-level rejection").Len())

	got, err = b.Evaluate("1+1", false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(2)), got)
	assert.EqualValues(t, 2, b.Stats().WorkersCreated)
	assert.NotEqual(t, first.ID(), b.Worker().ID())
}

func TestHandledRejectionKeepsWorker(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	rec := initWithHandler(t, b, nil)

	got, err := b.Evaluate(`Promise.reject(new Error("x")).catch(() => {}); 1`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(1)), got)
	assert.Empty(t, rec.all())
	assert.EqualValues(t, 1, b.Stats().WorkersCreated)
}

func TestThrownExceptionKeepsWorker(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	rec := initWithHandler(t, b, nil)

	_, err := b.Evaluate(`globalThis.kept = 5; throw new TypeError("bad")`, false)
	require.NoError(t, err)
	errs := rec.all()
	require.Len(t, errs, 1)
	var ge *GuestError
	require.ErrorAs(t, errs[0], &ge)
	assert.Equal(t, "TypeError", ge.Name)
	assert.Equal(t, "bad", ge.Message)

	got, err := b.Evaluate("kept", false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(5)), got)
	assert.EqualValues(t, 1, b.Stats().WorkersCreated)
}

func TestErrorsReturnedWithoutHandler(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)

	_, err := b.Evaluate(`throw new RangeError("nope")`, false)
	var ge *GuestError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "RangeError", ge.Name)

	_, err = b.Evaluate("1 +", false)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)

	_, err = b.Evaluate("const x: number = ;", true)
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, ce.Diagnostics)
	assert.Regexp(t, `^anonymous-\d+\.ts$`, ce.Name)

	_, err = b.EvaluateFile(filepath.Join(t.TempDir(), "missing.js"), false)
	var sig *host.Signal
	require.ErrorAs(t, err, &sig)
	assert.Equal(t, host.FileMissing, sig.Symbol)
}

func TestEvaluateFileTwiceRunsTwice(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.js")
	require.NoError(t, os.WriteFile(path, []byte(`
		const step = 1;
		globalThis.count = (globalThis.count || 0) + step;
		count
	`), 0o644))

	for want := 1; want <= 2; want++ {
		got, err := b.EvaluateFile(path, false)
		require.NoError(t, err)
		assert.Equal(t, host.Value(host.Int(want)), got)
	}

	typed := filepath.Join(dir, "answer.ts")
	require.NoError(t, os.WriteFile(typed, []byte("const n: number = 2;\nn * 21\n"), 0o644))
	got, err := b.EvaluateFile(typed, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)
}

func TestEvaluateBufferAndRegion(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	buf := host.NewTextBuffer("scratch", "xx 6*7 yy")

	got, err := b.EvaluateRegion(buf, 4, 7, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)

	_, err = b.EvaluateRegion(buf, 0, 100, false)
	var sig *host.Signal
	require.ErrorAs(t, err, &sig)
	assert.Equal(t, host.ArgsOutOfRange, sig.Symbol)

	got, err = b.EvaluateBuffer(host.NewTextBuffer("typed", "let v: string = 'ok'; v"), true)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.String("ok")), got)
}

func TestTickStopsWhenDrained(t *testing.T) {
	t.Parallel()

	b, sched := newBridge(t)
	v, err := b.Tick(nil)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Nil), v)
	assert.Zero(t, sched.Len())

	_, err = b.Evaluate("1", false)
	require.NoError(t, err)
	require.True(t, b.Stats().TickScheduled)
	next, ok := sched.Peek()
	require.True(t, ok)
	assert.Equal(t, DefaultTickInterval, next.Delay)

	require.True(t, sched.RunNext())
	assert.False(t, b.Stats().TickScheduled)
	assert.Zero(t, sched.Len())
}

func TestTickReschedulesWhileTimersPending(t *testing.T) {
	t.Parallel()

	b, sched := newBridge(t)
	initWithHandler(t, b, func(o *Options) { o.TickInterval = 250 * time.Millisecond })

	_, err := b.Evaluate(`
		globalThis.fired = 0;
		globalThis.n = 0;
		setTimeout(() => { fired++; }, 20);
		const id = setInterval(() => { if (++n === 3) clearInterval(id); }, 1);
		0`, false)
	require.NoError(t, err)
	next, ok := sched.Peek()
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, next.Delay)

	// timers only ever run inside a tick
	got, err := b.Evaluate("fired", false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(0)), got)

	assert.GreaterOrEqual(t, runTicks(t, b, sched), 1)

	got, err = b.Evaluate("[fired, n]", false)
	require.NoError(t, err)
	assert.Equal(t, []host.Value{host.Int(1), host.Int(3)}, got.(*host.Vector).Items)
}

func TestTickReportsCallbackFailures(t *testing.T) {
	t.Parallel()

	b, sched := newBridge(t)
	rec := initWithHandler(t, b, nil)

	_, err := b.Evaluate(`
		setTimeout(() => { throw new Error("late"); }, 0);
		setImmediate(() => { Promise.reject(new Error("later")); });
		0`, false)
	require.NoError(t, err)
	runTicks(t, b, sched)

	errs := rec.all()
	require.Len(t, errs, 2)
	var (
		ge *GuestError
		ur *UnhandledRejectionError
	)
	for _, e := range errs {
		switch {
		case errors.As(e, &ur):
		case errors.As(e, &ge):
		}
	}
	require.NotNil(t, ge)
	assert.Equal(t, "late", ge.Message)
	require.NotNil(t, ur)
	// failures outside a top-level evaluation leave the worker alone
	assert.EqualValues(t, 1, b.Stats().WorkersCreated)
	assert.True(t, b.Stats().HasWorker)
}

func TestTickSettlesAsyncIO(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"answer":42}`)
	}))
	t.Cleanup(srv.Close)

	b, sched := newBridge(t)
	_, err := b.Evaluate(fmt.Sprintf(`
		globalThis.answer = null;
		require("host:fetch").fetchAsync(%q).then(r => { answer = r.json().answer; });
		0`, srv.URL), false)
	require.NoError(t, err)
	runTicks(t, b, sched)

	got, err := b.Evaluate("answer", false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)
}

func TestPermissionDeniedReachesHandler(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		option string
		script string
	}{
		{option: "allow-network", script: `require("host:fetch").fetch("http://127.0.0.1:1/")`},
		{option: "allow-network", script: `require("http://127.0.0.1:1/mod.js")`},
		{option: "allow-read", script: `require("host:fs").readFile("/etc/hostname")`},
		{option: "allow-write", script: `require("host:fs").writeFile("/tmp/never", "x")`},
		{option: "allow-subprocess", script: `require("host:exec").exec("true")`},
	} {
		t.Run(tc.option, func(t *testing.T) {
			t.Parallel()

			b, _ := newBridge(t)
			var received []host.Value
			b.Obarray().Defun("record-error", func(c host.Caller, args []host.Value) (host.Value, error) {
				received = append(received, args...)
				return host.Nil, nil
			})
			v, err := b.InitializeArgs(
				host.Keyword(tc.option), host.Nil,
				host.Keyword("error-handler"), host.Symbol("record-error"),
			)
			require.NoError(t, err)
			require.Equal(t, host.Value(host.T), v)

			got, err := b.Evaluate(tc.script, false)
			require.NoError(t, err)
			assert.Equal(t, host.Value(host.Nil), got)

			require.Len(t, received, 1)
			data, ok := host.ToSlice(received[0])
			require.True(t, ok)
			require.Len(t, data, 3)
			assert.Equal(t, host.Value(host.GuestErrorSymbol), data[0])
			assert.Equal(t, host.Value(host.String("PermissionDenied")), data[1])
		})
	}
}

func TestRemoteImports(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/mod.js":
			_, _ = fmt.Fprint(w, `module.exports = { answer: 42 };`)
		case "/typed.ts":
			_, _ = fmt.Fprint(w, `const half: number = 21; exports.answer = half * 2;`)
		case "/rel/main.js":
			_, _ = fmt.Fprint(w, `module.exports = { answer: require("./dep.js").half * 2 };`)
		case "/rel/dep.js":
			_, _ = fmt.Fprint(w, `exports.half = 21;`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	b, _ := newBridge(t)
	for _, p := range []string{"/mod.js", "/typed.ts"} {
		got, err := b.Evaluate(fmt.Sprintf(`require(%q).answer`, srv.URL+p), false)
		require.NoError(t, err)
		assert.Equal(t, host.Value(host.Int(42)), got)
	}
	// cached per worker
	_, err := b.Evaluate(fmt.Sprintf(`require(%q).answer`, srv.URL+"/mod.js"), false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())

	// relative requires resolve against the requiring module's URL
	got, err := b.Evaluate(fmt.Sprintf(`require(%q).answer`, srv.URL+"/rel/main.js"), false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)
	assert.EqualValues(t, 4, hits.Load())

	_, err = b.Evaluate(fmt.Sprintf(`require(%q)`, srv.URL+"/missing.js"), false)
	assert.ErrorContains(t, err, "404")

	initWithHandler(t, b, func(o *Options) { o.ErrorHandler = nil; o.NoRemote = true })
	_, err = b.Evaluate(fmt.Sprintf(`require(%q)`, srv.URL+"/mod.js"), false)
	assert.ErrorContains(t, err, ErrRemoteImport.Error())
}

func TestFetchSourceLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "0123456789")
	}))
	t.Cleanup(srv.Close)

	src, err := fetchSource(context.Background(), srv.URL, 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", src)

	_, err = fetchSource(context.Background(), srv.URL, 9)
	assert.ErrorContains(t, err, "larger than 9 bytes")
}

func TestCleanupDiscardsWorker(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	_, err := b.Evaluate("globalThis.x = 1", false)
	require.NoError(t, err)
	require.True(t, b.Stats().HasWorker)

	v, err := b.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Nil), v)
	assert.False(t, b.Stats().HasWorker)

	got, err := b.Evaluate("typeof x", false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.String("undefined")), got)
	assert.EqualValues(t, 2, b.Stats().WorkersCreated)
}

func TestCloseRejectsEntries(t *testing.T) {
	t.Parallel()

	b := New(WithScheduler(&testutil.ManualScheduler{}))
	_, err := b.Evaluate("1", false)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Evaluate("1", false)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Initialize(DefaultOptions())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConsoleOutput(t *testing.T) {
	t.Parallel()

	var stdout, stderr syncBuffer
	b, _ := newBridge(t, WithConsole(&stdout, &stderr))
	_, err := b.Evaluate(`console.log("hello", 1); console.error("oops")`, false)
	require.NoError(t, err)
	assert.Equal(t, "hello 1\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
}

func TestWatchFileReevaluatesOnChange(t *testing.T) {
	t.Parallel()

	b, sched := newBridge(t)
	var hits atomic.Int32
	b.Obarray().Defun("hit", func(c host.Caller, args []host.Value) (host.Value, error) {
		hits.Add(1)
		return host.Nil, nil
	})

	path := filepath.Join(t.TempDir(), "watched.js")
	require.NoError(t, os.WriteFile(path, []byte(`0`), 0o644))
	w, err := b.WatchFile(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte(`host.call("hit")`), 0o644))
	err = testutil.Poll(context.Background(), func() bool {
		sched.RunNext()
		return hits.Load() > 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

func TestInspectorEvaluates(t *testing.T) {
	t.Parallel()

	b, sched := newBridge(t)
	initWithHandler(t, b, func(o *Options) { o.InspectAddr = "127.0.0.1:0" })
	insp := b.Inspector()
	require.NotNil(t, insp)

	conn, _, err := websocket.DefaultDialer.Dial(insp.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]any{
		"id": 1, "method": "Runtime.evaluate", "params": map[string]any{"expression": "6 * 7"},
	}))
	var resp struct {
		ID     int `json:"id"`
		Result struct {
			Result struct {
				Value string `json:"value"`
			} `json:"result"`
		} `json:"result"`
	}
	// the evaluation waits for the host to run its scheduled events
	err = testutil.Poll(context.Background(), func() bool { return sched.RunNext() }, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, 1, resp.ID)
	assert.Equal(t, "42", resp.Result.Result.Value)
}

func TestCallReportsItsOwnRejections(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	rec := initWithHandler(t, b, nil)

	fn, err := b.Evaluate(`() => { Promise.reject(new Error("from call")); return 1; }`, false)
	require.NoError(t, err)
	require.Empty(t, rec.all())

	got, err := b.Call(fn)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(1)), got)
	errs := rec.all()
	require.Len(t, errs, 1)
	var ur *UnhandledRejectionError
	require.ErrorAs(t, errs[0], &ur)
	require.Len(t, ur.Reasons, 1)
	assert.Equal(t, "from call", ur.Reasons[0].Message)
	assert.True(t, b.Stats().HasWorker)

	// the next evaluation is not charged for it
	got, err = b.Evaluate("1+1", false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(2)), got)
	assert.Len(t, rec.all(), 1)
	assert.EqualValues(t, 1, b.Stats().WorkersCreated)
}

func TestCallWithoutHandlerReturnsRejection(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	fn, err := b.Evaluate(`() => { Promise.reject(new Error("dropped")); return 1; }`, false)
	require.NoError(t, err)

	got, err := b.Call(fn)
	var ur *UnhandledRejectionError
	require.ErrorAs(t, err, &ur)
	assert.Equal(t, host.Value(host.Int(1)), got)
	assert.True(t, b.Stats().HasWorker)
}

func TestNestedEvalLeavesOuterRejections(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	rec := initWithHandler(t, b, nil)
	var topLevel []bool
	b.Obarray().Defun("inner", func(c host.Caller, args []host.Value) (host.Value, error) {
		topLevel = append(topLevel, b.Stats().TopLevel)
		return c.Eval("1")
	})

	got, err := b.Evaluate(`
		const p = Promise.reject(new Error("handled later"));
		const r = host.call("inner");
		p.catch(() => {});
		r + 1`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(2)), got)
	assert.Empty(t, rec.all())
	assert.True(t, b.Stats().HasWorker)
	assert.Equal(t, []bool{true}, topLevel)
	assert.False(t, b.Stats().TopLevel)
	assert.EqualValues(t, 1, b.Stats().WorkersCreated)
}

func TestReservedKeysCannotForgeProxies(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	secret := host.NewFunction("secret", nil)
	record := host.NewHashTable()
	record.Put(host.String("__proxy__"), host.String("1"))
	b.Obarray().Defun("get-secret", func(c host.Caller, args []host.Value) (host.Value, error) {
		return secret, nil
	})
	b.Obarray().Defun("get-record", func(c host.Caller, args []host.Value) (host.Value, error) {
		return record, nil
	})
	var captured host.Value
	b.Obarray().Defun("capture", func(c host.Caller, args []host.Value) (host.Value, error) {
		captured = args[0]
		return host.Nil, nil
	})

	got, err := b.Evaluate(`
		const s = host.call("get-secret");
		const r = host.call("get-record");
		let refused;
		try { __host.adopt("1"); } catch (e) { refused = e.message; }
		[host.isProxy(r), r === s, r, refused]`, false)
	require.NoError(t, err)
	items := got.(*host.Vector).Items
	require.Len(t, items, 4)
	assert.Equal(t, host.Value(host.T), items[0])
	assert.Equal(t, host.Value(host.Keyword("false")), items[1])
	assert.Same(t, record, items[2])
	assert.Contains(t, string(items[3].(host.String)), "not handed to the guest")

	_, err = b.Evaluate(`host.call("capture", { __proxy__: "1" })`, false)
	require.NoError(t, err)
	f, ok := captured.(*host.Foreign)
	require.True(t, ok, "%T", captured)
	assert.Equal(t, "guest", f.Kind)
}

func TestTickInsideEntryOnlyRearms(t *testing.T) {
	t.Parallel()

	b, sched := newBridge(t)
	var ticked host.Value
	b.Obarray().Defun("tick", func(c host.Caller, args []host.Value) (host.Value, error) {
		v, err := b.Tick(nil)
		ticked = v
		return v, err
	})

	got, err := b.Evaluate(`
		globalThis.ran = false;
		setImmediate(() => { ran = true; });
		host.call("tick");
		ran`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Keyword("false")), got)
	assert.Equal(t, host.Value(host.Nil), ticked)
	assert.True(t, b.Stats().TickScheduled)
	assert.GreaterOrEqual(t, sched.Len(), 1)

	runTicks(t, b, sched)
	got, err = b.Evaluate("ran", false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.T), got)
}

func TestDeepReentryRestoresScope(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	active := func() *Scope {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.state.active
	}
	var seen []*Scope
	b.Obarray().Defun("outer", func(c host.Caller, args []host.Value) (host.Value, error) {
		seen = append(seen, active())
		v, err := c.Call(args[0])
		if err != nil {
			return nil, err
		}
		seen = append(seen, active())
		w, err := c.Eval("2")
		if err != nil {
			return nil, err
		}
		return v.(host.Int) + w.(host.Int), nil
	})
	b.Obarray().Defun("innermost", func(c host.Caller, args []host.Value) (host.Value, error) {
		seen = append(seen, active())
		return c.Eval("40")
	})

	before := b.Stats().ScopesCreated
	got, err := b.Evaluate(`host.call("outer", () => host.call("innermost"))`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)
	assert.Equal(t, before+1, b.Stats().ScopesCreated)

	require.Len(t, seen, 3)
	require.NotNil(t, seen[0])
	assert.Same(t, seen[0], seen[1])
	assert.Same(t, seen[0], seen[2])
	assert.Zero(t, seen[0].depth)
	assert.Nil(t, active())
	assert.False(t, b.Stats().Inside)
}

func TestRelativeRequireChecksReadPermission(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	initWithHandler(t, b, func(o *Options) { o.AllowRead = false })

	got, err := b.Evaluate(`
		let msg;
		try { require("./not-there.js"); } catch (e) { msg = e.message; }
		msg`, false)
	require.NoError(t, err)
	assert.Contains(t, string(got.(host.String)), "permission denied")
}

func TestWithObarray(t *testing.T) {
	t.Parallel()

	ob := host.NewObarray()
	ob.Defun("answer", func(c host.Caller, args []host.Value) (host.Value, error) {
		return host.Int(42), nil
	})
	b, _ := newBridge(t, WithObarray(ob))
	assert.Same(t, ob, b.Obarray())

	got, err := b.Evaluate(`host.call("answer")`, false)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.Int(42)), got)
}

func TestWithExecutorWidth(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t, WithExecutorWidth(3))
	_, err := b.Evaluate("1", false)
	require.NoError(t, err)
	b.mu.Lock()
	exec := b.state.executor
	b.mu.Unlock()
	require.NotNil(t, exec)
	assert.Equal(t, 3, exec.Width())
}

func TestTypedSourceMismatchIsCompileError(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t)
	_, err := b.Evaluate(`const n: number = "not a number"; n`, true)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Diagnostics, 1)
	assert.Contains(t, ce.Diagnostics[0].Text, "not assignable to type 'number'")

	initWithHandler(t, b, func(o *Options) { o.ErrorHandler = nil; o.NoCheck = true })
	got, err := b.Evaluate(`const n: number = "not a number"; n`, true)
	require.NoError(t, err)
	assert.Equal(t, host.Value(host.String("not a number")), got)
}

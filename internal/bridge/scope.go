package bridge

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/codec"
	"github.com/joeycumines/guestjs/internal/host"
)

// Scope is the borrowed token for the guest's execution scope. Exactly one is
// created per top-level entry; every host function the guest calls during
// that entry receives it as its host.Caller, and every nested call back into
// the guest goes through it.
type Scope struct {
	bridge  *Bridge
	worker  *Worker
	vm      *goja.Runtime
	expired bool
	// depth counts the nested calls in flight; zero is the entry itself.
	depth int
}

var _ host.Caller = (*Scope)(nil)

// reenter runs fn as a nested call: the previously installed scope is saved,
// s is installed for the duration, and the saved one is restored.
func (s *Scope) reenter(fn func() (host.Value, error)) (host.Value, error) {
	if s.expired || !s.worker.loop.OnLoop() {
		return nil, ErrScopeExpired
	}
	prev := s.bridge.install(s)
	s.depth++
	defer func() {
		s.depth--
		s.bridge.install(prev)
	}()
	return fn()
}

// Call calls fn with args. Guest references run in the guest; host functions
// and symbols naming them are applied directly.
func (s *Scope) Call(fn host.Value, args ...host.Value) (host.Value, error) {
	f, ok := fn.(*host.Foreign)
	if !ok {
		return s.bridge.obarray.Funcall(s, fn, args...)
	}
	return s.reenter(func() (host.Value, error) {
		return s.worker.callGuest(f, args)
	})
}

// Eval evaluates source as a fresh anonymous script on this scope.
func (s *Scope) Eval(source string) (host.Value, error) {
	return s.reenter(func() (host.Value, error) {
		return s.bridge.run(s, s.bridge.nextName("anonymous", false), source, false)
	})
}

// Worker returns the worker the scope is bound to.
func (s *Scope) Worker() *Worker { return s.worker }

func (w *Worker) callGuest(f *host.Foreign, args []host.Value) (host.Value, error) {
	fn, err := w.guestValue(f)
	if err != nil {
		return nil, err
	}
	if _, ok := goja.AssertFunction(fn); !ok {
		return nil, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("functionp"), f}}
	}
	argv := make([]goja.Value, 0, len(args)+1)
	argv = append(argv, fn)
	for _, a := range args {
		text, err := codec.Encode(a, w.codec)
		if err != nil {
			return nil, err
		}
		argv = append(argv, w.vm.ToValue(text))
	}
	out, err := w.invoke(goja.Undefined(), argv...)
	if err != nil {
		return nil, classifyGoja(fmt.Sprintf("guest-%s", f.ID), err)
	}
	return codec.Decode(out.String(), w.codec)
}

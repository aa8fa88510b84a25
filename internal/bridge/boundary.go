package bridge

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/codec"
	"github.com/joeycumines/guestjs/internal/host"
	"github.com/joeycumines/guestjs/internal/proxy"
	"github.com/segmentio/encoding/json"
)

// hostErrorKey marks a dispatcher result carrying a host error.
const hostErrorKey = codec.HostErrorKey

type wireError struct {
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// errorWire serializes a host-side failure into the wrapper the bootstrap
// rethrows as a HostError.
func errorWire(err error) string {
	we := wireError{Symbol: string(host.ErrorSymbol), Message: err.Error()}
	var (
		sig *host.Signal
		ge  *GuestError
	)
	switch {
	case errors.As(err, &sig):
		we.Symbol = string(sig.Symbol)
		we.Message = sig.Message()
		we.Data = host.Format(host.List(sig.Data...))
	case errors.As(err, &ge):
		we.Symbol = string(host.GuestErrorSymbol)
		we.Message = ge.Error()
	case errors.Is(err, proxy.ErrStaleHandle), errors.Is(err, proxy.ErrMalformedHandle):
		we.Symbol = "invalid-handle"
	}
	out, merr := json.Marshal(map[string]wireError{hostErrorKey: we})
	if merr != nil {
		return `{"` + hostErrorKey + `":{"symbol":"error","message":"unserializable error"}}`
	}
	return string(out)
}

// installBoundary defines the non-enumerable global __host the bootstrap
// builds the public host object from.
func (w *Worker) installBoundary(vm *goja.Runtime) error {
	native := vm.NewObject()
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"call":          w.dispatch,
		"string":        w.primitive(func(v goja.Value) (host.Value, error) { return host.String(v.String()), nil }),
		"integer":       w.primitive(toInteger),
		"float":         w.primitive(func(v goja.Value) (host.Value, error) { return host.Float(v.ToFloat()), nil }),
		"symbol":        w.primitive(func(v goja.Value) (host.Value, error) { return host.Symbol(v.String()), nil }),
		"list":          w.list,
		"intern":        w.intern,
		"resolve":       w.resolve,
		"adopt":         w.adopt,
		"finalize":      w.finalize,
		"finalizer":     w.finalizerClosure,
		"isProxy":       func(call goja.FunctionCall) goja.Value { return vm.ToValue(handleOf(call.Argument(0)) != nil) },
		"proxyID":       w.proxyID,
		"errorJSON":     w.errorJSON,
		"retainGuest":   func(call goja.FunctionCall) goja.Value { return vm.ToValue(w.retainGuest(call.Argument(0))) },
		"guest":         w.guest,
		"requireRemote": w.requireRemote,
	} {
		if err := native.Set(name, fn); err != nil {
			return err
		}
	}
	return vm.GlobalObject().DefineDataProperty("__host", native, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

func handleOf(v goja.Value) *proxy.Handle {
	if v == nil {
		return nil
	}
	h, _ := v.Export().(*proxy.Handle)
	return h
}

// throw raises err in the guest as a HostError-shaped exception.
func (w *Worker) throw(err error) {
	obj := w.vm.NewGoError(err)
	_ = obj.Set("name", "HostError")
	var sig *host.Signal
	if errors.As(err, &sig) {
		_ = obj.Set("symbol", string(sig.Symbol))
	}
	panic(obj)
}

// handle wraps a fresh retain of id in a guest-visible, finalizable handle.
func (w *Worker) handle(id proxy.ID, v host.Value) goja.Value {
	h := proxy.NewHandle(id, string(host.TypeOf(v)))
	w.finalizer.Track(h)
	return w.vm.ToValue(h)
}

// dispatch is __host.call(fn, ...argJSON). fn is a handle or the name of a
// host function. It returns the JSON of the result, or the host error
// wrapper when the host function failed.
func (w *Worker) dispatch(call goja.FunctionCall) goja.Value {
	text, err := w.dispatchJSON(call)
	if err != nil {
		return w.vm.ToValue(errorWire(err))
	}
	return w.vm.ToValue(text)
}

func (w *Worker) dispatchJSON(call goja.FunctionCall) (string, error) {
	s, err := w.bridge.activeScope(w)
	if err != nil {
		return "", err
	}

	var fn host.Value
	target := call.Argument(0)
	if h := handleOf(target); h != nil {
		if fn, err = w.table.Resolve(h.Ref()); err != nil {
			return "", err
		}
	} else if name, ok := target.Export().(string); ok {
		fn = host.Symbol(name)
	} else {
		return "", &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("functionp"), host.String(target.String())}}
	}

	args := make([]host.Value, 0, len(call.Arguments))
	for _, a := range call.Arguments[1:] {
		v, err := codec.Decode(a.String(), w.codec)
		if err != nil {
			return "", err
		}
		args = append(args, v)
	}

	out, err := w.bridge.obarray.Funcall(s, fn, args...)
	if err != nil {
		return "", err
	}
	return codec.Encode(out, w.codec)
}

func toInteger(v goja.Value) (host.Value, error) {
	f := v.ToFloat()
	n := v.ToInteger()
	if float64(n) != f || n > codec.MaxSafeInteger || n < -codec.MaxSafeInteger {
		return nil, &host.Signal{Symbol: host.ArgsOutOfRange, Data: []host.Value{host.Float(f)}}
	}
	return host.Int(n), nil
}

// primitive builds a proxy constructor for one primitive kind.
func (w *Worker) primitive(conv func(goja.Value) (host.Value, error)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		v, err := conv(call.Argument(0))
		if err != nil {
			w.throw(err)
		}
		return w.handle(w.table.Retain(v), v)
	}
}

// list is __host.list(...itemJSON): a handle to a host list of the items.
func (w *Worker) list(call goja.FunctionCall) goja.Value {
	items := make([]host.Value, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		v, err := codec.Decode(a.String(), w.codec)
		if err != nil {
			w.throw(err)
		}
		items = append(items, v)
	}
	v := host.List(items...)
	return w.handle(w.table.Retain(v), v)
}

// intern is __host.intern(name): a handle to the function bound to name.
func (w *Worker) intern(call goja.FunctionCall) goja.Value {
	fn, err := w.bridge.obarray.SymbolFunction(host.Symbol(call.Argument(0).String()))
	if err != nil {
		w.throw(err)
	}
	return w.handle(w.table.Retain(fn), fn)
}

// resolve is __host.resolve(id): a new handle holding its own reference.
func (w *Worker) resolve(call goja.FunctionCall) goja.Value {
	id, err := proxy.ParseID(call.Argument(0).String())
	if err != nil {
		w.throw(err)
	}
	v, err := w.table.Resolve(id)
	if err == nil {
		err = w.table.Acquire(id)
	}
	if err != nil {
		w.throw(err)
	}
	return w.handle(id, v)
}

// adopt is __host.adopt(id): wraps the reference the codec took when it
// encoded a proxy. Ids the codec did not just hand out are refused, so data
// shaped like a proxy marker cannot claim someone else's reference.
func (w *Worker) adopt(call goja.FunctionCall) goja.Value {
	id, err := proxy.ParseID(call.Argument(0).String())
	if err != nil {
		w.throw(err)
	}
	if !w.claimAdoption(id) {
		w.throw(fmt.Errorf("%w: %d was not handed to the guest", proxy.ErrMalformedHandle, id))
	}
	v, err := w.table.Resolve(id)
	if err != nil {
		w.throw(err)
	}
	return w.handle(id, v)
}

// finalize is __host.finalize(...handles): the batch gives up its references.
func (w *Worker) finalize(call goja.FunctionCall) goja.Value {
	handles := make([]*proxy.Handle, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		if h := handleOf(a); h != nil {
			handles = append(handles, h)
		}
	}
	return w.vm.ToValue(w.finalizer.Dispose(w.table, handles...))
}

// finalizerClosure is __host.finalizer(handle): a function that releases the
// handle when called. Calling it again does nothing.
func (w *Worker) finalizerClosure(call goja.FunctionCall) goja.Value {
	h := handleOf(call.Argument(0))
	if h == nil {
		panic(w.vm.NewTypeError("finalizer: not a host proxy"))
	}
	return w.vm.ToValue(func() bool {
		return w.finalizer.Dispose(w.table, h) == 1
	})
}

func (w *Worker) proxyID(call goja.FunctionCall) goja.Value {
	if h := handleOf(call.Argument(0)); h != nil {
		return w.vm.ToValue(h.Ref().String())
	}
	return goja.Null()
}

// errorJSON is __host.errorJSON(e): the interchange form of a guest error.
func (w *Worker) errorJSON(call goja.FunctionCall) goja.Value {
	ge := guestError(call.Argument(0))
	fields := map[string]string{"name": ge.Name, "message": ge.Message}
	if obj, ok := call.Argument(0).(*goja.Object); ok {
		if sym := obj.Get("symbol"); sym != nil && !goja.IsUndefined(sym) {
			fields["symbol"] = sym.String()
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		panic(w.vm.NewGoError(err))
	}
	return w.vm.ToValue(string(out))
}

// guest is __host.guest(id): the guest value behind a reference.
func (w *Worker) guest(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).String()
	w.guestMu.Lock()
	r, ok := w.guests[id]
	w.guestMu.Unlock()
	if !ok {
		w.throw(fmt.Errorf("%w: guest reference %s", proxy.ErrStaleHandle, id))
	}
	return r.value
}

package bridge

import (
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// timer is a guest timer. The loop only marks it due; its callback runs on
// the next poll, inside an entry.
type timer struct {
	timeout   *eventloop.Timer
	interval  *eventloop.Interval
	fired     bool
	cancelled bool
}

// installTimers replaces the loop's timer globals with counted ones, so a
// poll can tell whether any timer is still outstanding.
func (w *Worker) installTimers(vm *goja.Runtime) error {
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":     func(call goja.FunctionCall) goja.Value { return w.setTimer(vm, call, false) },
		"setInterval":    func(call goja.FunctionCall) goja.Value { return w.setTimer(vm, call, true) },
		"setImmediate":   func(call goja.FunctionCall) goja.Value { return w.setImmediate(vm, call) },
		"clearTimeout":   w.clearTimer,
		"clearInterval":  w.clearTimer,
		"clearImmediate": w.clearTimer,
	} {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func timerCallback(vm *goja.Runtime, call goja.FunctionCall) (goja.Callable, []goja.Value) {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.NewTypeError("callback must be a function"))
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}
	return fn, args
}

func (w *Worker) setTimer(vm *goja.Runtime, call goja.FunctionCall, repeat bool) goja.Value {
	fn, args := timerCallback(vm, call)
	delay := time.Duration(call.Argument(1).ToFloat() * float64(time.Millisecond))
	if delay < 0 {
		delay = 0
	}

	w.nextTimer++
	id := w.nextTimer
	t := &timer{}
	w.timers[id] = t
	w.armed++
	w.bridge.armTick()

	run := func() error {
		if t.cancelled {
			return nil
		}
		if !repeat {
			delete(w.timers, id)
		}
		_, err := fn(goja.Undefined(), args...)
		return err
	}

	loop := w.loop.EventLoop()
	if repeat {
		t.interval = loop.SetInterval(func(*goja.Runtime) {
			w.ready = append(w.ready, run)
		}, delay)
	} else {
		t.timeout = loop.SetTimeout(func(*goja.Runtime) {
			t.fired = true
			w.armed--
			w.ready = append(w.ready, run)
		}, delay)
	}
	return vm.ToValue(id)
}

func (w *Worker) setImmediate(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
	fn, args := timerCallback(vm, call)
	w.nextTimer++
	id := w.nextTimer
	t := &timer{fired: true}
	w.timers[id] = t
	w.bridge.armTick()
	w.ready = append(w.ready, func() error {
		delete(w.timers, id)
		if t.cancelled {
			return nil
		}
		_, err := fn(goja.Undefined(), args...)
		return err
	})
	return vm.ToValue(id)
}

func (w *Worker) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	t, ok := w.timers[id]
	if !ok {
		return goja.Undefined()
	}
	delete(w.timers, id)
	t.cancelled = true
	loop := w.loop.EventLoop()
	switch {
	case t.interval != nil:
		loop.ClearInterval(t.interval)
		w.armed--
	case !t.fired:
		loop.ClearTimeout(t.timeout)
		w.armed--
	}
	return goja.Undefined()
}

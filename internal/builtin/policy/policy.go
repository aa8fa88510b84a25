// Package policy holds what the guest modules share: the permission set of
// the session and the executor that runs blocking work off the guest loop.
package policy

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrPermissionDenied is the cause of every refused guest operation.
var ErrPermissionDenied = errors.New("permission denied")

// Kind names a guarded capability.
type Kind string

const (
	Net   Kind = "net"
	Read  Kind = "read"
	Write Kind = "write"
	Run   Kind = "run"
)

// Permissions is the capability set of a session.
type Permissions struct {
	Net   bool
	Read  bool
	Write bool
	Run   bool
}

// AllowAll grants every capability.
func AllowAll() Permissions {
	return Permissions{Net: true, Read: true, Write: true, Run: true}
}

// Check returns an error wrapping ErrPermissionDenied if kind is not granted.
func (p Permissions) Check(kind Kind, target string) error {
	var ok bool
	switch kind {
	case Net:
		ok = p.Net
	case Read:
		ok = p.Read
	case Write:
		ok = p.Write
	case Run:
		ok = p.Run
	}
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s access to %q", ErrPermissionDenied, kind, target)
}

// Enforce throws a PermissionDenied exception in the guest if kind is not
// granted.
func (p Permissions) Enforce(runtime *goja.Runtime, kind Kind, target string) {
	if err := p.Check(kind, target); err != nil {
		panic(Denied(runtime, err))
	}
}

// Denied builds the guest exception object for a refused operation.
func Denied(runtime *goja.Runtime, err error) *goja.Object {
	obj := runtime.NewGoError(err)
	_ = obj.Set("name", "PermissionDenied")
	return obj
}

// Executor runs blocking work away from the guest loop. The function work
// returns is invoked back on the loop to settle the result.
type Executor interface {
	Go(work func() func(*goja.Runtime))
}

// Promise runs work on exec and settles the returned promise with its result.
// The value work returns is converted with runtime.ToValue on the loop.
func Promise(runtime *goja.Runtime, exec Executor, work func() (any, error)) goja.Value {
	promise, resolve, reject := runtime.NewPromise()
	exec.Go(func() func(*goja.Runtime) {
		value, err := work()
		return func(vm *goja.Runtime) {
			if err != nil {
				if errors.Is(err, ErrPermissionDenied) {
					reject(Denied(vm, err))
					return
				}
				reject(vm.NewGoError(err))
				return
			}
			resolve(vm.ToValue(value))
		}
	})
	return runtime.ToValue(promise)
}

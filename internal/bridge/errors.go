package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/host"
	"github.com/joeycumines/guestjs/internal/typescript"
)

var (
	// ErrReentrantScope is returned when a new scope is requested while one is
	// already active on the loop.
	ErrReentrantScope = errors.New("bridge: a scope is already active")
	// ErrNoScope is returned when the loop goroutine asks for the active
	// scope outside of any entry.
	ErrNoScope = errors.New("bridge: no active scope")
	// ErrScopeExpired is returned when a Caller is used after its entry
	// returned, or from a goroutine other than the loop.
	ErrScopeExpired = errors.New("bridge: scope used outside its entry")
	// ErrClosed is returned by entry points after Close.
	ErrClosed = errors.New("bridge: closed")
	// ErrRemoteImport is returned when remote imports are disabled.
	ErrRemoteImport = errors.New("bridge: remote imports are disabled")
)

// CompileError reports source that was rejected before any of it ran.
type CompileError struct {
	Name        string
	Diagnostics []typescript.Diagnostic
	Err         error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Name, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// GuestError is an exception thrown by guest code.
type GuestError struct {
	Name    string
	Message string
	Stack   string
}

func (e *GuestError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// UnhandledRejectionError reports promises that were rejected with nobody
// listening. During a top-level evaluation it is fatal to the worker.
type UnhandledRejectionError struct {
	Reasons []*GuestError
}

func (e *UnhandledRejectionError) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = r.Error()
	}
	return "unhandled promise rejection: " + strings.Join(parts, "; ")
}

// guestError extracts name, message and stack from a thrown guest value.
func guestError(v goja.Value) *GuestError {
	e := &GuestError{}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		e.Message = fmt.Sprint(v)
		return e
	}
	if obj, ok := v.(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
			e.Name = name.String()
		}
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			e.Message = msg.String()
		}
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			e.Stack = stack.String()
		}
		if e.Name != "" || e.Message != "" {
			return e
		}
	}
	e.Message = v.String()
	return e
}

// classifyGoja maps what goja returns from compiling or running a script.
func classifyGoja(name string, err error) error {
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &CompileError{Name: name, Err: err}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		ge := guestError(ex.Value())
		if ge.Stack == "" {
			ge.Stack = ex.String()
		}
		return ge
	}
	return err
}

// ErrorValue converts err into the host's error data form, a list whose car
// is the error symbol: (guest-error "TypeError" "x is not a function").
func ErrorValue(err error) host.Value {
	var (
		sig *host.Signal
		ce  *CompileError
		ge  *GuestError
		ur  *UnhandledRejectionError
	)
	switch {
	case errors.As(err, &sig):
		return host.List(append([]host.Value{sig.Symbol}, sig.Data...)...)
	case errors.As(err, &ce):
		return host.List(host.GuestCompileErrorSymbol, host.String(ce.Name), host.String(ce.Err.Error()))
	case errors.As(err, &ur):
		items := []host.Value{host.GuestRejectionSymbol}
		for _, r := range ur.Reasons {
			items = append(items, host.String(r.Error()))
		}
		return host.List(items...)
	case errors.As(err, &ge):
		return host.List(host.GuestErrorSymbol, host.String(ge.Name), host.String(ge.Message))
	default:
		return host.List(host.ErrorSymbol, host.String(err.Error()))
	}
}

package bridge

import (
	"time"

	"github.com/joeycumines/guestjs/internal/builtin/policy"
	"github.com/joeycumines/guestjs/internal/cache"
	"github.com/joeycumines/guestjs/internal/codec"
	"github.com/joeycumines/guestjs/internal/host"
	"go.uber.org/zap"
)

// DefaultTickInterval is how long the tick scheduler waits between polls.
const DefaultTickInterval = 100 * time.Millisecond

// ErrorHandler receives failures of entry points and ticks. A nil handler
// means the entry point returns the error instead.
type ErrorHandler func(err error)

// Options is the session configuration set by Initialize. It is read-only
// while a worker exists.
type Options struct {
	AllowNet   bool
	AllowRead  bool
	AllowWrite bool
	AllowRun   bool

	TickInterval time.Duration
	ErrorHandler ErrorHandler

	// InspectAddr starts the inspector endpoint when set. With InspectBreak
	// the first evaluation waits for a client to resume it.
	InspectAddr  string
	InspectBreak bool

	UseColor bool

	// TSConfigPath names a tsconfig.json for the typed pass.
	TSConfigPath string
	// NoCheck reports only hard errors from the typed pass.
	NoCheck bool
	// NoRemote refuses require() of http(s) URLs.
	NoRemote bool

	Codec codec.Config
	Cache cache.Config
}

// DefaultOptions allows everything and uses the default codec.
func DefaultOptions() Options {
	return Options{
		AllowNet:     true,
		AllowRead:    true,
		AllowWrite:   true,
		AllowRun:     true,
		TickInterval: DefaultTickInterval,
		Codec:        codec.DefaultConfig(),
		Cache:        cache.Config{Type: cache.TypeLocal},
	}
}

// Permissions returns the capability set guest modules enforce.
func (o Options) Permissions() policy.Permissions {
	return policy.Permissions{Net: o.AllowNet, Read: o.AllowRead, Write: o.AllowWrite, Run: o.AllowRun}
}

func (o Options) interval() time.Duration {
	if o.TickInterval <= 0 {
		return DefaultTickInterval
	}
	return o.TickInterval
}

// ParseOptions reads the keyword form used by host code, e.g.
//
//	:allow-net nil :tick-interval 0.5 :error-handler my-handler
//
// on top of DefaultOptions. A symbol or function given as :error-handler is
// called through caller with the error data of each failure.
func ParseOptions(obarray *host.Obarray, caller host.Caller, plist ...host.Value) (Options, error) {
	opts := DefaultOptions()
	if len(plist)%2 != 0 {
		return opts, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("plistp"), host.List(plist...)}}
	}
	for i := 0; i < len(plist); i += 2 {
		key, ok := plist[i].(host.Symbol)
		if !ok || !key.IsKeyword() {
			return opts, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("keywordp"), plist[i]}}
		}
		value := plist[i+1]
		switch key.Name() {
		case "allow-net", "allow-network":
			opts.AllowNet = host.Truthy(value)
		case "allow-read":
			opts.AllowRead = host.Truthy(value)
		case "allow-write":
			opts.AllowWrite = host.Truthy(value)
		case "allow-run", "allow-subprocess":
			opts.AllowRun = host.Truthy(value)
		case "tick-interval":
			d, err := seconds(value)
			if err != nil {
				return opts, err
			}
			opts.TickInterval = d
		case "error-handler":
			if host.Truthy(value) {
				opts.ErrorHandler = HostErrorHandler(obarray, caller, value)
			}
		case "inspect", "inspector-address":
			addr, err := stringOption(value)
			if err != nil {
				return opts, err
			}
			opts.InspectAddr = addr
		case "inspect-brk":
			addr, err := stringOption(value)
			if err != nil {
				return opts, err
			}
			opts.InspectAddr = addr
			opts.InspectBreak = addr != ""
		case "use-color":
			opts.UseColor = host.Truthy(value)
		case "ts-config", "type-config-path":
			path, err := stringOption(value)
			if err != nil {
				return opts, err
			}
			opts.TSConfigPath = path
		case "no-check", "skip-type-check":
			opts.NoCheck = host.Truthy(value)
		case "no-remote", "disallow-remote-imports":
			opts.NoRemote = host.Truthy(value)
		case "object-type":
			t, err := codec.ParseObjectType(value)
			if err != nil {
				return opts, err
			}
			opts.Codec.ObjectType = t
		case "array-type":
			t, err := codec.ParseArrayType(value)
			if err != nil {
				return opts, err
			}
			opts.Codec.ArrayType = t
		case "null-object":
			opts.Codec.Null = value
		case "false-object":
			opts.Codec.False = value
		default:
			return opts, host.Error("unknown option %s", key)
		}
	}
	return opts, nil
}

// HostErrorHandler adapts a host function (or a symbol naming one) to an
// ErrorHandler. Failures of the handler itself are dropped.
func HostErrorHandler(obarray *host.Obarray, caller host.Caller, fn host.Value) ErrorHandler {
	return func(err error) {
		_, _ = obarray.Funcall(caller, fn, ErrorValue(err))
	}
}

func seconds(v host.Value) (time.Duration, error) {
	switch v := v.(type) {
	case host.Int:
		return time.Duration(v) * time.Second, nil
	case host.Float:
		return time.Duration(float64(v) * float64(time.Second)), nil
	}
	return 0, &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("numberp"), v}}
}

func stringOption(v host.Value) (string, error) {
	switch v := v.(type) {
	case host.String:
		return string(v), nil
	case host.Symbol:
		if v == host.Nil {
			return "", nil
		}
	}
	return "", &host.Signal{Symbol: host.WrongTypeArgument, Data: []host.Value{host.Symbol("stringp"), v}}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithOptions sets the initial session options.
func WithOptions(opts Options) Option {
	return func(b *Bridge) { b.state.options = opts }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithScheduler sets the host timer facility ticks are armed with.
func WithScheduler(s host.Scheduler) Option {
	return func(b *Bridge) {
		if s != nil {
			b.scheduler = s
		}
	}
}

// WithObarray sets the symbol table guest code looks host functions up in.
func WithObarray(o *host.Obarray) Option {
	return func(b *Bridge) {
		if o != nil {
			b.obarray = o
		}
	}
}

// WithExecutorWidth bounds concurrent guest I/O.
func WithExecutorWidth(n int) Option {
	return func(b *Bridge) { b.executorWidth = n }
}

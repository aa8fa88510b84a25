package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/builtin/policy"
	"go.uber.org/zap"
)

const (
	remoteTimeout = 30 * time.Second
	// maxRemoteSource bounds the size of a fetched module.
	maxRemoteSource = 16 << 20
)

// requireRemote is __host.requireRemote(url): require() of an http(s) URL.
func (w *Worker) requireRemote(call goja.FunctionCall) goja.Value {
	return w.loadRemote(call.Argument(0).String())
}

// loadRemote fetches spec once per worker and evaluates it as a CommonJS
// module; .ts sources go through the typed pass. Relative requires inside
// the module resolve against its URL.
func (w *Worker) loadRemote(spec string) goja.Value {
	vm := w.vm
	if w.opts.NoRemote {
		panic(vm.NewGoError(fmt.Errorf("%w: %s", ErrRemoteImport, spec)))
	}
	w.opts.Permissions().Enforce(vm, policy.Net, spec)

	if exports, ok := w.remote[spec]; ok {
		return exports
	}

	u, err := url.Parse(spec)
	if err != nil {
		panic(vm.NewGoError(err))
	}
	src, err := fetchSource(w.exec.Context(), spec, maxRemoteSource)
	if err != nil {
		panic(vm.NewGoError(err))
	}
	if strings.HasSuffix(u.Path, ".ts") {
		if src, err = w.ts.Transform(spec, src); err != nil {
			panic(vm.NewGoError(&CompileError{Name: spec, Err: err}))
		}
	}

	prg, err := goja.Compile(spec, "(function (exports, require, module) {"+src+"\n})", false)
	if err != nil {
		panic(vm.NewGoError(classifyGoja(spec, err)))
	}
	wrapper, err := vm.RunProgram(prg)
	if err != nil {
		panic(err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		panic(vm.NewTypeError("remote module wrapper is not a function"))
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	// cached before running so cyclic requires see the partial exports
	w.remote[spec] = exports
	if _, err := fn(goja.Undefined(), exports, w.remoteRequire(u), module); err != nil {
		delete(w.remote, spec)
		panic(err)
	}
	out := module.Get("exports")
	w.remote[spec] = out
	w.logger.Debug("loaded remote module", zap.String("url", spec))
	return out
}

// remoteRequire is the require function of the module at base.
func (w *Worker) remoteRequire(base *url.URL) goja.Value {
	vm := w.vm
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		if strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") || strings.HasPrefix(id, "/") {
			ref, err := url.Parse(id)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return w.loadRemote(base.ResolveReference(ref).String())
		}
		global, ok := goja.AssertFunction(vm.Get("require"))
		if !ok {
			panic(vm.NewTypeError("require is not a function"))
		}
		v, err := global(goja.Undefined(), call.Arguments...)
		if err != nil {
			panic(err)
		}
		return v
	})
}

func fetchSource(ctx context.Context, spec string, limit int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %s", spec, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > limit {
		return "", fmt.Errorf("fetch %s: module larger than %d bytes", spec, limit)
	}
	return string(body), nil
}

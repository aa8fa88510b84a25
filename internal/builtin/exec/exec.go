// Package exec provides the "host:exec" Goja module for running subprocesses,
// gated by the run permission of the session.
package exec

import (
	"bytes"
	"context"
	osexec "os/exec"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/builtin/policy"
)

// Require returns a module loader for host:exec. Each invocation wraps ctx
// with context.WithCancel, so cancelling ctx kills running children.
func Require(ctx context.Context, perm policy.Permissions) func(runtime *goja.Runtime, module *goja.Object) {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		// exec(command: string, ...args: string[]): { stdout, stderr, code, error, message }
		_ = exports.Set("exec", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				return runtime.ToValue(failed("exec: missing command"))
			}
			cmdStr, ok := call.Argument(0).Export().(string)
			if !ok || cmdStr == "" {
				return runtime.ToValue(failed("exec: command must be a non-empty string"))
			}
			var args []string
			for i := 1; i < len(call.Arguments); i++ {
				args = append(args, call.Argument(i).String())
			}
			perm.Enforce(runtime, policy.Run, cmdStr)
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			return runtime.ToValue(runExec(ctx, cmdStr, args...))
		})

		// execv(argv: string[]): { stdout, stderr, code, error, message }
		_ = exports.Set("execv", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 || goja.IsUndefined(call.Argument(0)) || goja.IsNull(call.Argument(0)) {
				return runtime.ToValue(failed("execv: no argv"))
			}
			var parts []string
			if err := runtime.ExportTo(call.Argument(0), &parts); err != nil || len(parts) == 0 {
				return runtime.ToValue(failed("execv: expects array of strings"))
			}
			perm.Enforce(runtime, policy.Run, parts[0])
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			return runtime.ToValue(runExec(ctx, parts[0], parts[1:]...))
		})
	}
}

func failed(message string) map[string]interface{} {
	return map[string]interface{}{"stdout": "", "stderr": "", "code": -1, "error": true, "message": message}
}

func runExec(ctx context.Context, cmd string, args ...string) map[string]interface{} {
	if ctx == nil {
		ctx = context.Background()
	}
	c := osexec.CommandContext(ctx, cmd, args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	code := 0
	errStr := ""
	if err != nil {
		if exitErr, ok := err.(*osexec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
		errStr = err.Error()
	}
	return map[string]interface{}{
		"stdout":  stdout.String(),
		"stderr":  stderr.String(),
		"code":    code,
		"error":   err != nil,
		"message": errStr,
	}
}

// Package fs provides the "host:fs" Goja module: file access for guest
// scripts, gated by the read and write permissions of the session.
package fs

import (
	"os"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/builtin/policy"
)

// Require returns the module loader for host:fs.
func Require(perm policy.Permissions, exec policy.Executor) func(runtime *goja.Runtime, module *goja.Object) {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		// readFile(path: string): { content: string, error: bool, message: string }
		_ = exports.Set("readFile", func(call goja.FunctionCall) goja.Value {
			path := pathArg(call)
			if path == "" {
				return runtime.ToValue(map[string]interface{}{"error": true, "message": "empty path", "content": ""})
			}
			perm.Enforce(runtime, policy.Read, path)
			data, err := os.ReadFile(path)
			if err != nil {
				return runtime.ToValue(map[string]interface{}{"error": true, "message": err.Error(), "content": ""})
			}
			return runtime.ToValue(map[string]interface{}{"error": false, "message": "", "content": string(data)})
		})

		// readFileAsync(path: string): Promise<string>
		_ = exports.Set("readFileAsync", func(call goja.FunctionCall) goja.Value {
			path := pathArg(call)
			perm.Enforce(runtime, policy.Read, path)
			return policy.Promise(runtime, exec, func() (any, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, err
				}
				return string(data), nil
			})
		})

		// writeFile(path: string, content: string): { error: bool, message: string }
		_ = exports.Set("writeFile", func(call goja.FunctionCall) goja.Value {
			path := pathArg(call)
			if path == "" {
				return runtime.ToValue(map[string]interface{}{"error": true, "message": "empty path"})
			}
			perm.Enforce(runtime, policy.Write, path)
			if err := os.WriteFile(path, []byte(call.Argument(1).String()), 0o644); err != nil {
				return runtime.ToValue(map[string]interface{}{"error": true, "message": err.Error()})
			}
			return runtime.ToValue(map[string]interface{}{"error": false, "message": ""})
		})

		// fileExists(path: string): boolean
		_ = exports.Set("fileExists", func(call goja.FunctionCall) goja.Value {
			path := pathArg(call)
			if path == "" {
				return runtime.ToValue(false)
			}
			perm.Enforce(runtime, policy.Read, path)
			_, err := os.Stat(path)
			return runtime.ToValue(err == nil)
		})
	}
}

func pathArg(call goja.FunctionCall) string {
	if len(call.Arguments) == 0 || goja.IsUndefined(call.Argument(0)) || goja.IsNull(call.Argument(0)) {
		return ""
	}
	return call.Argument(0).String()
}

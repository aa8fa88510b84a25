// Package fetch provides a Goja module wrapping Go's net/http client for guest
// scripts. It is registered as "host:fetch" and provides a synchronous fetch()
// modeled after the browser Fetch API, a streaming variant and a
// promise-returning fetchAsync() whose request runs off the guest loop.
package fetch

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/builtin/policy"
)

const defaultTimeout = 30 * time.Second

// Require returns the module loader for host:fetch. Every request is checked
// against the net permission of perm before it is made.
func Require(perm policy.Permissions, exec policy.Executor) func(runtime *goja.Runtime, module *goja.Object) {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		// fetch(url: string, options?: object): Response
		//
		// Options:
		//   method  - HTTP method (default: "GET")
		//   headers - object of header key/value pairs
		//   body    - request body string
		//   timeout - request timeout in seconds (default: 30)
		//
		// Response:
		//   status     - HTTP status code (number)
		//   ok         - true if status is 200-299 (boolean)
		//   statusText - HTTP status line, e.g. "200 OK" (string)
		//   url        - final URL after redirects (string)
		//   headers    - response headers object (lowercase keys)
		//   text()     - response body as string
		//   json()     - response body parsed as JSON (native JS object)
		_ = exports.Set("fetch", func(call goja.FunctionCall) goja.Value {
			req, timeout := newRequest(runtime, perm, call)
			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				panic(runtime.NewGoError(err))
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				panic(runtime.NewGoError(err))
			}
			return newResponse(runtime, captured(resp, body))
		})

		// fetchAsync(url: string, options?: object): Promise<Response>
		//
		// Same options and response as fetch(), but the request runs on the
		// I/O executor and the guest keeps running until it settles.
		_ = exports.Set("fetchAsync", func(call goja.FunctionCall) goja.Value {
			req, timeout := newRequest(runtime, perm, call)
			promise, resolve, reject := runtime.NewPromise()
			exec.Go(func() func(*goja.Runtime) {
				r, err := do(req, timeout)
				return func(vm *goja.Runtime) {
					if err != nil {
						reject(vm.NewGoError(err))
						return
					}
					resolve(newResponse(vm, r))
				}
			})
			return runtime.ToValue(promise)
		})

		// fetchStream(url: string, options?: object): StreamResponse
		//
		// StreamResponse:
		//   status, ok, statusText, url, headers - as for fetch()
		//   readLine() - read next line (string), returns null at EOF
		//   readAll()  - read remaining body as string
		//   close()    - release HTTP connection resources
		_ = exports.Set("fetchStream", func(call goja.FunctionCall) goja.Value {
			req, timeout := newRequest(runtime, perm, call)
			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				panic(runtime.NewGoError(err))
			}

			reader := bufio.NewReader(resp.Body)
			result := newHead(runtime, captured(resp, nil))

			_ = result.Set("readLine", func() goja.Value {
				line, err := reader.ReadString('\n')
				if err != nil {
					if err == io.EOF {
						if line != "" {
							return runtime.ToValue(strings.TrimRight(line, "\n\r"))
						}
						return goja.Null()
					}
					panic(runtime.NewGoError(err))
				}
				return runtime.ToValue(strings.TrimRight(line, "\n\r"))
			})

			_ = result.Set("readAll", func() string {
				data, err := io.ReadAll(reader)
				if err != nil {
					panic(runtime.NewGoError(err))
				}
				return string(data)
			})

			_ = result.Set("close", func() {
				_ = resp.Body.Close()
			})

			return result
		})
	}
}

// response is everything read off the wire; it can be built on any goroutine.
type response struct {
	status     int
	statusText string
	url        string
	headers    map[string]string
	body       []byte
}

func captured(resp *http.Response, body []byte) *response {
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return &response{
		status:     resp.StatusCode,
		statusText: resp.Status,
		url:        resp.Request.URL.String(),
		headers:    headers,
		body:       body,
	}
}

func do(req *http.Request, timeout time.Duration) (*response, error) {
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return captured(resp, body), nil
}

func newRequest(runtime *goja.Runtime, perm policy.Permissions, call goja.FunctionCall) (*http.Request, time.Duration) {
	url := call.Argument(0).String()
	perm.Enforce(runtime, policy.Net, url)

	method := "GET"
	timeout := defaultTimeout
	var bodyReader io.Reader
	var reqHeaders map[string]interface{}

	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) && !goja.IsNull(call.Arguments[1]) {
		if opts, ok := call.Arguments[1].Export().(map[string]interface{}); ok {
			if m, ok := opts["method"].(string); ok {
				method = strings.ToUpper(m)
			}
			switch v := opts["timeout"].(type) {
			case int64:
				timeout = time.Duration(v) * time.Second
			case float64:
				timeout = time.Duration(v * float64(time.Second))
			}
			if b, ok := opts["body"].(string); ok {
				bodyReader = strings.NewReader(b)
			}
			if h, ok := opts["headers"].(map[string]interface{}); ok {
				reqHeaders = h
			}
		}
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		panic(runtime.NewGoError(err))
	}
	for k, v := range reqHeaders {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
	return req, timeout
}

func newHead(runtime *goja.Runtime, r *response) *goja.Object {
	result := runtime.NewObject()
	_ = result.Set("status", r.status)
	_ = result.Set("ok", r.status >= 200 && r.status < 300)
	_ = result.Set("statusText", r.statusText)
	_ = result.Set("url", r.url)
	headersObj := runtime.NewObject()
	for k, v := range r.headers {
		_ = headersObj.Set(k, v)
	}
	_ = result.Set("headers", headersObj)
	return result
}

func newResponse(runtime *goja.Runtime, r *response) *goja.Object {
	result := newHead(runtime, r)
	bodyStr := string(r.body)
	_ = result.Set("text", func() string { return bodyStr })
	_ = result.Set("json", func() goja.Value {
		var parsed interface{}
		if err := json.Unmarshal(r.body, &parsed); err != nil {
			panic(runtime.NewGoError(err))
		}
		return runtime.ToValue(parsed)
	})
	return result
}

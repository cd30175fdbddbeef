// Package fetch provides the "outrider:fetch" native module, a synchronous
// HTTP client for extension scripts modeled loosely on the browser Fetch API.
//
// The primary consumer is notification handlers that forward agent events to
// a webhook (Slack, ntfy, a local dashboard). Requests run synchronously on
// the event loop, so long-running calls should set a short timeout.
//
// Transport failures (DNS, refused connection, timeout) throw a JS exception;
// HTTP-level failures do not, they surface as a response with ok === false.
package fetch

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// ModuleName is the require() specifier for this module.
const ModuleName = "outrider:fetch"

const defaultTimeout = 30 * time.Second

// requestOptions is the parsed form of the optional second fetch() argument.
type requestOptions struct {
	method  string
	timeout time.Duration
	body    io.Reader
	headers map[string]string
}

func parseOptions(v goja.Value) requestOptions {
	opts := requestOptions{method: http.MethodGet, timeout: defaultTimeout}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return opts
	}
	raw, ok := v.Export().(map[string]interface{})
	if !ok {
		return opts
	}
	if m, ok := raw["method"].(string); ok && m != "" {
		opts.method = strings.ToUpper(m)
	}
	switch t := raw["timeout"].(type) {
	case int64:
		opts.timeout = time.Duration(t) * time.Second
	case float64:
		opts.timeout = time.Duration(t * float64(time.Second))
	}
	if b, ok := raw["body"].(string); ok {
		opts.body = strings.NewReader(b)
	}
	if h, ok := raw["headers"].(map[string]interface{}); ok {
		opts.headers = make(map[string]string, len(h))
		for k, hv := range h {
			if s, ok := hv.(string); ok {
				opts.headers[k] = s
			}
		}
	}
	return opts
}

// Require is the module loader for outrider:fetch.
func Require(runtime *goja.Runtime, module *goja.Object) {
	exportsVal := module.Get("exports")
	var exports *goja.Object
	if exportsVal == nil || goja.IsUndefined(exportsVal) || goja.IsNull(exportsVal) {
		exports = runtime.NewObject()
		_ = module.Set("exports", exports)
	} else {
		exports = exportsVal.ToObject(runtime)
	}

	// fetch(url: string, options?: object): Response
	//
	// Options:
	//   method  - HTTP method (default "GET")
	//   headers - object of header key/value pairs
	//   body    - request body string
	//   timeout - request timeout in seconds (default 30, fractions allowed)
	//
	// Response:
	//   status     - HTTP status code
	//   ok         - true if status is 200-299
	//   statusText - HTTP status line, e.g. "200 OK"
	//   url        - final URL after redirects
	//   headers    - response headers, lowercase keys, multi-values joined
	//   text()     - response body as string
	//   json()     - response body parsed as JSON
	_ = exports.Set("fetch", func(call goja.FunctionCall) goja.Value {
		url := call.Argument(0).String()
		opts := parseOptions(call.Argument(1))

		req, err := http.NewRequest(opts.method, url, opts.body)
		if err != nil {
			panic(runtime.NewGoError(err))
		}
		for k, v := range opts.headers {
			req.Header.Set(k, v)
		}

		client := &http.Client{Timeout: opts.timeout}
		resp, err := client.Do(req)
		if err != nil {
			panic(runtime.NewGoError(err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			panic(runtime.NewGoError(err))
		}

		result := runtime.NewObject()
		_ = result.Set("status", resp.StatusCode)
		_ = result.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
		_ = result.Set("statusText", resp.Status)
		_ = result.Set("url", resp.Request.URL.String())

		headers := runtime.NewObject()
		for k, vs := range resp.Header {
			_ = headers.Set(strings.ToLower(k), strings.Join(vs, ", "))
		}
		_ = result.Set("headers", headers)

		text := string(body)
		_ = result.Set("text", func() string { return text })
		_ = result.Set("json", func() goja.Value {
			var parsed interface{}
			if err := json.Unmarshal(body, &parsed); err != nil {
				panic(runtime.NewGoError(err))
			}
			return runtime.ToValue(parsed)
		})

		return result
	})
}

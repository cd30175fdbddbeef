// Package os provides the "outrider:os" native module, a small file access
// surface for extension scripts. Config handlers use it to read fragment
// files from disk before merging them into an aggregate response.
//
// Failures are reported in the result object, never thrown, so a missing
// fragment file degrades to an empty contribution instead of a handler error.
package os

import (
	"os"

	"github.com/dop251/goja"
)

// ModuleName is the require() specifier for this module.
const ModuleName = "outrider:os"

// Require is the module loader for outrider:os.
func Require(runtime *goja.Runtime, module *goja.Object) {
	exportsVal := module.Get("exports")
	var exports *goja.Object
	if exportsVal == nil || goja.IsUndefined(exportsVal) || goja.IsNull(exportsVal) {
		exports = runtime.NewObject()
		_ = module.Set("exports", exports)
	} else {
		exports = exportsVal.ToObject(runtime)
	}

	// readFile(path: string): { content: string, error: bool, message: string }
	_ = exports.Set("readFile", func(call goja.FunctionCall) goja.Value {
		var path string
		if len(call.Arguments) > 0 {
			path = call.Argument(0).String()
		}
		if path == "" {
			return runtime.ToValue(map[string]interface{}{
				"error": true, "message": "empty path", "content": "",
			})
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return runtime.ToValue(map[string]interface{}{
				"error": true, "message": err.Error(), "content": "",
			})
		}
		return runtime.ToValue(map[string]interface{}{
			"error": false, "message": "", "content": string(data),
		})
	})

	// fileExists(path: string): boolean
	_ = exports.Set("fileExists", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return runtime.ToValue(false)
		}
		path := call.Argument(0).String()
		if path == "" {
			return runtime.ToValue(false)
		}
		_, err := os.Stat(path)
		return runtime.ToValue(err == nil)
	})
}

// Package host implements the "outrider:host" native module available to
// in-process handler scripts.
package host

import (
	"os"

	"github.com/dop251/goja"

	"github.com/outrider-term/outrider/internal/diag"
)

// ModuleName is the specifier handler scripts pass to require.
const ModuleName = "outrider:host"

// ActiveHandlerGlobal names the runtime global that carries the name of the
// handler whose entry point is currently executing. The script handler sets
// it around each invocation; log falls back to a generic tag when unset.
const ActiveHandlerGlobal = "__outriderActiveHandler"

// Require returns a CommonJS native module under "outrider:host".
// It exposes the broker's diagnostic log and process identity to scripts.
//
// API (JS):
//
//	const host = require('outrider:host');
//
//	host.log('bound');            // append to the shared diagnostic log
//	const v = host.env('TERM');   // read an environment variable
//	const id = host.runId();      // this broker process's run id
func Require(runtime *goja.Runtime, module *goja.Object) {
	exportsVal := module.Get("exports")
	var exports *goja.Object
	if exportsVal == nil || goja.IsUndefined(exportsVal) || goja.IsNull(exportsVal) {
		exports = runtime.NewObject()
		_ = module.Set("exports", exports)
	} else {
		exports = exportsVal.ToObject(runtime)
	}

	// log(message string)
	// Appends a line to the diagnostic log, tagged with the name of the
	// handler being invoked (or "script" outside an invocation).
	_ = exports.Set("log", func(call goja.FunctionCall) goja.Value {
		msg := ""
		if len(call.Arguments) > 0 {
			msg = call.Argument(0).String()
		}
		tag := "script"
		if v := runtime.Get(ActiveHandlerGlobal); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			if s := v.String(); s != "" {
				tag = s
			}
		}
		diag.Logf(tag, "%s", msg)
		return goja.Undefined()
	})

	// env(name string) string
	// Returns the named environment variable, empty string when unset.
	_ = exports.Set("env", func(call goja.FunctionCall) goja.Value {
		name := ""
		if len(call.Arguments) > 0 {
			name = call.Argument(0).String()
		}
		return runtime.ToValue(os.Getenv(name))
	})

	// runId() string
	// Returns the identifier shared by every log line of this process.
	_ = exports.Set("runId", func(call goja.FunctionCall) goja.Value {
		return runtime.ToValue(diag.RunID())
	})
}

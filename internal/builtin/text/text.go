// Package text implements the "outrider:text" native module, exposing
// width-aware text utilities to handler scripts.
package text

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/outrider-term/outrider/internal/textutil"
)

// ModuleName is the specifier handler scripts pass to require.
const ModuleName = "outrider:text"

// Require returns a CommonJS native module under "outrider:text".
//
// API (JS):
//
//	const text = require('outrider:text');
//
//	const w = text.width('日本');              // monospace display width
//	const s = text.truncate('long...', 5);     // width-bounded truncation
//	const p = text.preview('a\n  b', 40);      // single-line preview
func Require(runtime *goja.Runtime, module *goja.Object) {
	exportsVal := module.Get("exports")
	var exports *goja.Object
	if exportsVal == nil || goja.IsUndefined(exportsVal) || goja.IsNull(exportsVal) {
		exports = runtime.NewObject()
		_ = module.Set("exports", exports)
	} else {
		exports = exportsVal.ToObject(runtime)
	}

	// width(s string) int
	_ = exports.Set("width", func(call goja.FunctionCall) goja.Value {
		s := ""
		if len(call.Arguments) > 0 {
			s = call.Argument(0).String()
		}
		return runtime.ToValue(textutil.Width(s))
	})

	// truncate(s string, maxWidth int, tail? string) string
	_ = exports.Set("truncate", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(runtime.NewGoError(fmt.Errorf("truncate requires at least 2 arguments (string, maxWidth)")))
		}
		s := call.Argument(0).String()
		maxWidth := int(call.Argument(1).ToInteger())
		tail := "..."
		if len(call.Arguments) > 2 {
			tail = call.Argument(2).String()
		}
		return runtime.ToValue(textutil.Truncate(s, maxWidth, tail))
	})

	// preview(s string, maxWidth int) string
	// Collapses whitespace to single spaces and truncates to maxWidth.
	_ = exports.Set("preview", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(runtime.NewGoError(fmt.Errorf("preview requires 2 arguments (string, maxWidth)")))
		}
		s := call.Argument(0).String()
		maxWidth := int(call.Argument(1).ToInteger())
		return runtime.ToValue(textutil.Preview(s, maxWidth))
	})
}

// Package exec implements the "outrider:exec" native module available to
// in-process handler scripts.
package exec

import (
	"bytes"
	"context"
	"errors"
	osexec "os/exec"

	"github.com/dop251/goja"
)

// ModuleName is the specifier handler scripts pass to require.
const ModuleName = "outrider:exec"

// Require returns a CommonJS native module under "outrider:exec".
// It lets notification handlers spawn a local command (a desktop notifier,
// a sound player) without leaving the embedded engine.
//
// API (JS):
//
//	const proc = require('outrider:exec');
//
//	const r = proc.exec('notify-send', 'agent turn complete');
//	const r2 = proc.execv(['sh', '-c', 'afplay /System/Library/Sounds/Ping.aiff']);
//	// r: {error, code, stdout, stderr, message}
//
// Commands run synchronously on the event loop; a slow command stalls every
// other in-process handler until it finishes. Failures are reported in the
// result object, never thrown.
func Require(runtime *goja.Runtime, module *goja.Object) {
	exportsVal := module.Get("exports")
	var exports *goja.Object
	if exportsVal == nil || goja.IsUndefined(exportsVal) || goja.IsNull(exportsVal) {
		exports = runtime.NewObject()
		_ = module.Set("exports", exports)
	} else {
		exports = exportsVal.ToObject(runtime)
	}

	// exec(command string, ...args)
	// Arguments after the command are stringified and passed through.
	_ = exports.Set("exec", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return runtime.ToValue(errResult("exec: missing command"))
		}
		name, ok := call.Argument(0).Export().(string)
		if !ok || name == "" {
			return runtime.ToValue(errResult("exec: command must be a non-empty string"))
		}
		args := make([]string, 0, len(call.Arguments)-1)
		for _, arg := range call.Arguments[1:] {
			args = append(args, arg.String())
		}
		return runtime.ToValue(runCommand(context.Background(), name, args...))
	})

	// execv(argv []string)
	// Vector form: argv[0] is the command, the rest its arguments.
	_ = exports.Set("execv", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return runtime.ToValue(errResult("execv: missing argv"))
		}
		var argv []string
		if err := runtime.ExportTo(call.Argument(0), &argv); err != nil || len(argv) == 0 || argv[0] == "" {
			return runtime.ToValue(errResult("execv: argv must be a non-empty array of strings"))
		}
		return runtime.ToValue(runCommand(context.Background(), argv[0], argv[1:]...))
	})
}

// errResult is a result object for invocations rejected before a process
// was started.
func errResult(message string) map[string]any {
	return map[string]any{
		"error":   true,
		"code":    -1,
		"stdout":  "",
		"stderr":  "",
		"message": message,
	}
}

// runCommand executes one command to completion and folds the outcome into
// a plain result object. A command that could not be started (not found,
// not executable) reports code -1.
func runCommand(ctx context.Context, name string, args ...string) map[string]any {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := osexec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	result := map[string]any{
		"error":   false,
		"code":    0,
		"stdout":  stdout.String(),
		"stderr":  stderr.String(),
		"message": "",
	}
	if err == nil {
		return result
	}
	result["error"] = true
	result["message"] = err.Error()
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		result["code"] = exitErr.ExitCode()
	} else {
		result["code"] = -1
	}
	return result
}

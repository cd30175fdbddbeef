package broker

import (
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/outrider-term/outrider/internal/protocol"
)

// filterEnv is the evaluation environment for notify-filter expressions.
// The event name comes from the notification payload's "type" field (or
// "event" when "type" is absent); the payload itself is exposed whole.
type filterEnv struct {
	Event   string         `expr:"event"`
	Payload map[string]any `expr:"payload"`
}

// notifyFilter gates notification fan-out on a user-supplied expression. A
// nil filter passes everything.
type notifyFilter struct {
	source  string
	program *vm.Program
}

// newNotifyFilter compiles the expression once. An empty expression or a
// compile failure disables filtering; the failure is reported as a startup
// warning, never an error.
func newNotifyFilter(source string) *notifyFilter {
	if source == "" {
		return nil
	}
	program, err := expr.Compile(source,
		expr.Env(filterEnv{}),
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		slog.Warn("[broker] notify-filter does not compile, forwarding all notifications",
			"filter", source, "error", err)
		return nil
	}
	return &notifyFilter{source: source, program: program}
}

// wants reports whether a notification should fan out. Evaluation errors
// fail open: a broken filter must not silence extensions.
func (f *notifyFilter) wants(req *protocol.Request) bool {
	if f == nil {
		return true
	}
	env := filterEnv{Event: eventName(req.Payload), Payload: req.Payload}
	result, err := expr.Run(f.program, env)
	if err != nil {
		slog.Warn("[broker] notify-filter evaluation failed", "filter", f.source, "error", err)
		return true
	}
	keep, ok := result.(bool)
	if !ok {
		return true
	}
	return keep
}

func eventName(payload map[string]any) string {
	if name, ok := payload["type"].(string); ok {
		return name
	}
	name, _ := payload["event"].(string)
	return name
}

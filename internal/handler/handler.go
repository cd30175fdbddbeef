// Package handler defines the handler contract and the registry that
// discovers, orders, and binds extension handlers.
//
// A handler is one independently authored unit of behavior: a JavaScript
// file bound into the embedded engine, the same file run as a child process,
// or a native Go implementation. The broker treats all three uniformly
// through the Handler interface.
package handler

import (
	"context"

	"github.com/outrider-term/outrider/internal/protocol"
)

// Kind describes how a bound handler executes.
type Kind int

const (
	// KindInProcess runs inside the embedded JS engine.
	KindInProcess Kind = iota
	// KindSubprocess runs as a child process per request.
	KindSubprocess
	// KindBuiltin is implemented natively in this process.
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindInProcess:
		return "in-process"
	case KindSubprocess:
		return "subprocess"
	case KindBuiltin:
		return "builtin"
	default:
		return "unknown"
	}
}

// Handler answers broker requests. Implementations must be safe for
// concurrent use: the server invokes handlers from per-request goroutines.
type Handler interface {
	// Name is the handler's short identity, the script file name for
	// discovered handlers.
	Name() string
	// Source is where the handler came from: an absolute script path, or
	// "builtin" for native handlers.
	Source() string
	Kind() Kind
	// Handle answers a single request. A non-nil error reports a handler
	// failure (thrown exception, unusable result) as opposed to an
	// intentional error-status response.
	Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// Func adapts a plain function to the Handler interface, for built-in
// handlers and tests.
type Func struct {
	name string
	fn   func(context.Context, *protocol.Request) (*protocol.Response, error)
}

// NewFunc wraps fn as a builtin handler named name.
func NewFunc(name string, fn func(context.Context, *protocol.Request) (*protocol.Response, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string   { return f.name }
func (f *Func) Source() string { return "builtin" }
func (f *Func) Kind() Kind     { return KindBuiltin }

func (f *Func) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f.fn(ctx, req)
}

var _ Handler = (*Func)(nil)

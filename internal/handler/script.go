package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/outrider-term/outrider/internal/builtin/host"
	"github.com/outrider-term/outrider/internal/protocol"
)

// scriptHandler runs a JavaScript file inside the shared event loop.
type scriptHandler struct {
	name  string
	path  string
	rt    *Runtime
	entry goja.Callable
}

var _ Handler = (*scriptHandler)(nil)

func (h *scriptHandler) Name() string   { return h.name }
func (h *scriptHandler) Source() string { return h.path }
func (h *scriptHandler) Kind() Kind     { return KindInProcess }

// bindScript loads path as a CommonJS module and resolves its entry point.
// Recognized entry points, in order of preference: exports.handle,
// exports.onRequest, module.exports itself when callable, and finally a
// global handle function left behind by the script.
func bindScript(rt *Runtime, path string) (*scriptHandler, error) {
	h := &scriptHandler{name: filepath.Base(path), path: path, rt: rt}
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		requireFn, ok := goja.AssertFunction(vm.Get("require"))
		if !ok {
			return errors.New("require is not available")
		}
		exports, err := requireFn(goja.Undefined(), vm.ToValue(path))
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if exports != nil && !goja.IsUndefined(exports) && !goja.IsNull(exports) {
			obj := exports.ToObject(vm)
			for _, key := range []string{"handle", "onRequest"} {
				if fn, ok := goja.AssertFunction(obj.Get(key)); ok {
					h.entry = fn
					return nil
				}
			}
			if fn, ok := goja.AssertFunction(exports); ok {
				h.entry = fn
				return nil
			}
		}
		if fn, ok := goja.AssertFunction(vm.Get("handle")); ok {
			h.entry = fn
			return nil
		}
		return errors.New("no handle/onRequest entry point")
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Handle invokes the entry point on the event loop. The entry receives a
// plain request object and may return a response object directly or a
// promise (any thenable) resolving to one.
func (h *scriptHandler) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	type result struct {
		value any
		err   error
	}
	resCh := make(chan result, 1)
	// First outcome wins; later sends from a misbehaving thenable must not
	// block the loop.
	send := func(r result) {
		select {
		case resCh <- r:
		default:
		}
	}

	scheduled := h.rt.RunOnLoop(func(vm *goja.Runtime) {
		_ = vm.Set(host.ActiveHandlerGlobal, h.name)
		defer func() { _ = vm.Set(host.ActiveHandlerGlobal, goja.Undefined()) }()

		v, err := h.entry(goja.Undefined(), vm.ToValue(requestArg(req)))
		if err != nil {
			send(result{err: err})
			return
		}
		if thenFn, ok := thenMethod(v); ok {
			onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
				send(result{value: exportValue(call.Argument(0))})
				return goja.Undefined()
			})
			onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
				send(result{err: fmt.Errorf("promise rejected: %s", call.Argument(0).String())})
				return goja.Undefined()
			})
			if _, err := thenFn(v, onFulfilled, onRejected); err != nil {
				send(result{err: err})
			}
			return
		}
		send(result{value: exportValue(v)})
	})
	if !scheduled {
		return nil, errors.New("event loop not running")
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		return responseFromValue(res.value)
	case <-h.rt.Done():
		return nil, errors.New("runtime stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requestArg converts a request into the plain object handed to entry
// points. The id keeps whatever JSON type the host used.
func requestArg(req *protocol.Request) map[string]any {
	arg := map[string]any{"action": req.Action}
	if len(req.ID) > 0 {
		var id any
		if err := json.Unmarshal(req.ID, &id); err == nil {
			arg["id"] = id
		}
	}
	if req.Payload != nil {
		arg["payload"] = req.Payload
	}
	if req.LogPath != "" {
		arg["log_path"] = req.LogPath
	}
	return arg
}

// thenMethod reports whether v is a thenable, returning its then method.
func thenMethod(v goja.Value) (goja.Callable, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	return goja.AssertFunction(obj.Get("then"))
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// responseFromValue converts an exported entry-point result into a
// response. The recognized shape is an object with optional status, text,
// payload and message fields; status defaults to ok. Anything else is a
// handler failure, never a silent skip.
func responseFromValue(value any) (*protocol.Response, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entry point returned %T, want object", value)
	}
	resp := &protocol.Response{Status: protocol.StatusOK}
	if raw, ok := m["status"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("entry point returned non-string status %v", raw)
		}
		switch s {
		case protocol.StatusOK, protocol.StatusSkip, protocol.StatusError:
			resp.Status = s
		default:
			return nil, fmt.Errorf("entry point returned unknown status %q", s)
		}
	}
	if s, ok := m["text"].(string); ok {
		resp.Text = &s
	}
	if p, ok := m["payload"].(map[string]any); ok {
		resp.Payload = p
	}
	if s, ok := m["message"].(string); ok {
		resp.Message = s
	}
	return resp, nil
}

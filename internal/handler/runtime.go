package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"

	"github.com/outrider-term/outrider/internal/builtin"
)

// Runtime owns the shared goja event loop that all in-process handlers
// execute on. goja.Runtime is not goroutine-safe; every JS operation must
// happen inside a RunOnLoop callback, and values obtained there must not
// escape the loop goroutine.
type Runtime struct {
	loop     *eventloop.EventLoop
	registry *require.Registry

	// timeout bounds synchronous operations such as script binding.
	// Request invocations are not subject to it.
	timeout time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// defaultSyncTimeout bounds RunOnLoopSync, which is used for binding and
// other startup-time work. A script whose top level blocks this long is
// treated as a bind failure.
const defaultSyncTimeout = 5 * time.Second

// NewRuntime creates a Runtime with the native modules registered and the
// event loop started. Call Close when done. The provided context controls
// lifecycle: when it is canceled, the runtime stops.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	registry := require.NewRegistry()
	builtin.Register(registry)

	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(true),
	)

	childCtx, cancel := context.WithCancel(context.Background())

	rt := &Runtime{
		loop:     loop,
		registry: registry,
		ctx:      childCtx,
		cancel:   cancel,
		timeout:  defaultSyncTimeout,
	}

	loop.Start()
	rt.mu.Lock()
	rt.started = true
	rt.mu.Unlock()

	// Prove the loop is accepting work before handing the runtime out.
	errCh := make(chan error, 1)
	if ok := loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- nil
	}); !ok {
		cancel()
		return nil, errors.New("event loop not running")
	}
	if err := <-errCh; err != nil {
		cancel()
		loop.Stop()
		return nil, fmt.Errorf("initialize runtime: %w", err)
	}

	if ctx.Done() != nil {
		context.AfterFunc(ctx, func() {
			_ = rt.Close()
		})
	}

	return rt, nil
}

// Close stops the event loop after pending jobs complete. Safe to call more
// than once.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	rt.stopped = true
	rt.mu.Unlock()

	// Unblock anything waiting on Done before stopping the loop.
	rt.cancel()
	rt.loop.Stop()
	return nil
}

// Done is closed when the runtime has stopped.
func (rt *Runtime) Done() <-chan struct{} {
	return rt.ctx.Done()
}

// RunOnLoop schedules fn on the event loop goroutine, returning false when
// the loop is not running.
func (rt *Runtime) RunOnLoop(fn func(*goja.Runtime)) bool {
	rt.mu.RLock()
	if !rt.started || rt.stopped {
		rt.mu.RUnlock()
		return false
	}
	rt.mu.RUnlock()

	return rt.loop.RunOnLoop(fn)
}

// RunOnLoopSync schedules fn on the event loop and waits for it to finish,
// bounded by the runtime's sync timeout.
func (rt *Runtime) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	rt.mu.RLock()
	if !rt.started || rt.stopped {
		rt.mu.RUnlock()
		return errors.New("event loop not running")
	}
	timeout := rt.timeout
	rt.mu.RUnlock()

	errCh := make(chan error, 1)
	if ok := rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- fn(vm)
	}); !ok {
		return errors.New("event loop not running")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-rt.Done():
		return errors.New("runtime stopped before completion")
	case <-timer.C:
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

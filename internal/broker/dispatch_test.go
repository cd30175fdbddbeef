package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrider-term/outrider/internal/handler"
	"github.com/outrider-term/outrider/internal/protocol"
	"github.com/outrider-term/outrider/internal/testutil"
)

func respondWith(name string, resp *protocol.Response) handler.Handler {
	return handler.NewFunc(name, func(context.Context, *protocol.Request) (*protocol.Response, error) {
		return resp, nil
	})
}

func failWith(name string, err error) handler.Handler {
	return handler.NewFunc(name, func(context.Context, *protocol.Request) (*protocol.Response, error) {
		return nil, err
	})
}

func newDispatcher(filter string, handlers ...handler.Handler) *dispatcher {
	reg := handler.NewRegistry()
	for _, h := range handlers {
		reg.Add(h)
	}
	return &dispatcher{reg: reg, filter: newNotifyFilter(filter)}
}

func TestDispatchFirstMatchShortCircuits(t *testing.T) {
	var cCalled atomic.Bool
	a := respondWith("a", protocol.Skip())
	b := respondWith("b", protocol.OKText("x"))
	c := handler.NewFunc("c", func(context.Context, *protocol.Request) (*protocol.Response, error) {
		cCalled.Store(true)
		return protocol.OKText("never"), nil
	})

	d := newDispatcher("", a, b, c)
	resp := d.dispatch(context.Background(), &protocol.Request{Action: "anything"})

	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, "x", resp.TextValue())
	assert.False(t, cCalled.Load(), "handler after the match must not run")
}

func TestDispatchHandlerFailureStopsTheWalk(t *testing.T) {
	var after atomic.Bool
	d := newDispatcher("",
		respondWith("quiet", protocol.Skip()),
		failWith("broken", errors.New("exploded")),
		handler.NewFunc("late", func(context.Context, *protocol.Request) (*protocol.Response, error) {
			after.Store(true)
			return protocol.OK(), nil
		}),
	)

	resp := d.dispatch(context.Background(), &protocol.Request{Action: "x"})
	require.Equal(t, protocol.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "broken")
	assert.False(t, after.Load(), "failure must stop the walk")
}

func TestDispatchErrorStatusIsAnAnswer(t *testing.T) {
	// A handler returning an error-status response (not a Go error) is a
	// real answer and short-circuits like any other non-skip.
	d := newDispatcher("",
		respondWith("judge", protocol.Errorf("refused")),
		respondWith("next", protocol.OKText("unreached")),
	)
	resp := d.dispatch(context.Background(), &protocol.Request{Action: "x"})
	require.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "refused", resp.Message)
}

func TestDispatchAllSkip(t *testing.T) {
	d := newDispatcher("", respondWith("a", protocol.Skip()), respondWith("b", protocol.Skip()))
	resp := d.dispatch(context.Background(), &protocol.Request{Action: "x"})
	assert.Equal(t, protocol.StatusSkip, resp.Status)

	empty := newDispatcher("")
	resp = empty.dispatch(context.Background(), &protocol.Request{Action: "x"})
	assert.Equal(t, protocol.StatusSkip, resp.Status)
}

func TestAggregateMergesLaterWins(t *testing.T) {
	a := respondWith("a", protocol.OKPayload(map[string]any{"x": 1, "y": 1}))
	b := respondWith("b", protocol.OKPayload(map[string]any{"y": 2}))

	d := newDispatcher("", a, b)
	resp := d.aggregate(context.Background(), &protocol.Request{Action: protocol.ActionConfig})

	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, resp.Payload)
}

func TestAggregateExcludesFailuresAndSkips(t *testing.T) {
	d := newDispatcher("",
		failWith("broken", errors.New("boom")),
		respondWith("shy", protocol.Skip()),
		respondWith("contributor", protocol.OKPayload(map[string]any{"theme": "dark"})),
	)
	resp := d.aggregate(context.Background(), &protocol.Request{Action: protocol.ActionConfig})

	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{"theme": "dark"}, resp.Payload)
}

func TestAggregateEmptyRegistryStillOK(t *testing.T) {
	d := newDispatcher("")
	resp := d.aggregate(context.Background(), &protocol.Request{Action: protocol.ActionConfig})
	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.Empty(t, resp.Payload)
}

func TestBroadcastSurvivesFailures(t *testing.T) {
	var bCalled atomic.Bool
	d := newDispatcher("",
		failWith("a", errors.New("throws")),
		handler.NewFunc("b", func(context.Context, *protocol.Request) (*protocol.Response, error) {
			bCalled.Store(true)
			return protocol.OK(), nil
		}),
	)

	resp := d.broadcast(context.Background(), &protocol.Request{Action: protocol.ActionNotify})
	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.True(t, bCalled.Load(), "failure of one handler must not starve the rest")
}

func TestBroadcastReachesAllConcurrently(t *testing.T) {
	const n = 8
	gate := make(chan struct{})
	var entered atomic.Int32

	reg := handler.NewRegistry()
	for range n {
		reg.Add(handler.NewFunc("member", func(context.Context, *protocol.Request) (*protocol.Response, error) {
			entered.Add(1)
			<-gate
			return protocol.OK(), nil
		}))
	}
	d := &dispatcher{reg: reg}

	done := make(chan *protocol.Response, 1)
	go func() {
		done <- d.broadcast(context.Background(), &protocol.Request{Action: protocol.ActionNotify})
	}()

	// All members enter before any returns: the fan-out is concurrent, and
	// broadcast waits for the slowest.
	testutil.WaitFor(t, func() bool { return entered.Load() == n })
	select {
	case <-done:
		t.Fatal("broadcast returned before handlers finished")
	default:
	}
	close(gate)
	resp := <-done
	assert.Equal(t, protocol.StatusOK, resp.Status)
}

func TestBroadcastFilterSuppressesFanOut(t *testing.T) {
	var called atomic.Bool
	probe := handler.NewFunc("probe", func(context.Context, *protocol.Request) (*protocol.Response, error) {
		called.Store(true)
		return protocol.OK(), nil
	})
	d := newDispatcher(`event == "turn-complete"`, probe)

	resp := d.broadcast(context.Background(), &protocol.Request{
		Action:  protocol.ActionNotify,
		Payload: map[string]any{"type": "noise"},
	})
	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.False(t, called.Load(), "filtered event must not fan out")

	d.broadcast(context.Background(), &protocol.Request{
		Action:  protocol.ActionNotify,
		Payload: map[string]any{"type": "turn-complete"},
	})
	assert.True(t, called.Load())
}

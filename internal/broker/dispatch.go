package broker

import (
	"context"
	"maps"
	"sync"

	"github.com/outrider-term/outrider/internal/diag"
	"github.com/outrider-term/outrider/internal/handler"
	"github.com/outrider-term/outrider/internal/protocol"
)

// dispatcher applies the three routing strategies to a bound registry.
type dispatcher struct {
	reg    *handler.Registry
	filter *notifyFilter
}

// aggregate asks every handler for configuration and merges the ok answers
// in registry order, later handlers winning per key. Handler failures are
// logged and excluded; aggregation itself never fails.
func (d *dispatcher) aggregate(ctx context.Context, req *protocol.Request) *protocol.Response {
	merged := make(map[string]any)
	for _, h := range d.reg.Handlers() {
		resp, err := h.Handle(ctx, req)
		if err != nil {
			diag.Logf("config", "%s excluded: %v", h.Name(), err)
			continue
		}
		if resp == nil || resp.Status != protocol.StatusOK {
			continue
		}
		maps.Copy(merged, resp.Payload)
	}
	return protocol.OKPayload(merged)
}

// broadcast fans a notification out to every handler concurrently and waits
// for all of them. Individual failures are logged, never surfaced; the host
// always gets an ok. A configured notify-filter can suppress the fan-out
// for events the user does not care about.
func (d *dispatcher) broadcast(ctx context.Context, req *protocol.Request) *protocol.Response {
	if !d.filter.wants(req) {
		return protocol.OK()
	}
	var wg sync.WaitGroup
	for _, h := range d.reg.Handlers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Handle(ctx, req); err != nil {
				diag.Logf("notify", "%s failed: %v", h.Name(), err)
			}
		}()
	}
	wg.Wait()
	return protocol.OK()
}

// dispatch walks the registry in order until a handler answers with
// anything other than skip. A handler failure stops the walk and becomes an
// error response naming the handler. All-skip (or an empty registry) is a
// skip.
func (d *dispatcher) dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	for _, h := range d.reg.Handlers() {
		resp, err := h.Handle(ctx, req)
		if err != nil {
			diag.Logf("dispatch", "%s failed on %s: %v", h.Name(), req.Action, err)
			return protocol.Errorf("handler %s failed: %v", h.Name(), err)
		}
		if resp == nil || resp.Status == protocol.StatusSkip {
			continue
		}
		return resp
	}
	return protocol.Skip()
}

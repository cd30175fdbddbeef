package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrider-term/outrider/internal/protocol"
)

func notifyReq(payload map[string]any) *protocol.Request {
	return &protocol.Request{Action: protocol.ActionNotify, Payload: payload}
}

func TestNewNotifyFilterEmptySource(t *testing.T) {
	assert.Nil(t, newNotifyFilter(""))
}

func TestNewNotifyFilterCompileErrorFailsOpen(t *testing.T) {
	f := newNotifyFilter(`event == `)
	assert.Nil(t, f, "broken filter disables filtering")
	assert.True(t, f.wants(notifyReq(map[string]any{"type": "anything"})))
}

func TestNotifyFilterMatchesEvent(t *testing.T) {
	f := newNotifyFilter(`event == "turn-complete"`)
	require.NotNil(t, f)

	assert.True(t, f.wants(notifyReq(map[string]any{"type": "turn-complete"})))
	assert.False(t, f.wants(notifyReq(map[string]any{"type": "typing"})))
	assert.False(t, f.wants(notifyReq(nil)))
}

func TestNotifyFilterEventNameFallsBackToEventKey(t *testing.T) {
	f := newNotifyFilter(`event == "resize"`)
	require.NotNil(t, f)

	assert.True(t, f.wants(notifyReq(map[string]any{"event": "resize"})))
	// An explicit "type" wins over "event".
	assert.False(t, f.wants(notifyReq(map[string]any{"type": "other", "event": "resize"})))
}

func TestNotifyFilterInspectsPayload(t *testing.T) {
	f := newNotifyFilter(`payload.severity == "high"`)
	require.NotNil(t, f)

	assert.True(t, f.wants(notifyReq(map[string]any{"severity": "high"})))
	assert.False(t, f.wants(notifyReq(map[string]any{"severity": "low"})))
}

func TestNotifyFilterRuntimeErrorFailsOpen(t *testing.T) {
	f := newNotifyFilter(`payload.count > 2`)
	require.NotNil(t, f)

	assert.True(t, f.wants(notifyReq(map[string]any{"count": 3})))
	assert.False(t, f.wants(notifyReq(map[string]any{"count": 1})))
	// The key is absent: evaluation cannot decide, so the event passes.
	assert.True(t, f.wants(notifyReq(map[string]any{"other": true})))
}

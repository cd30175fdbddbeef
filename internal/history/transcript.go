package history

import (
	"bytes"
	"encoding/json"
	"strings"
)

// transcriptEntry is one user message extracted from a rollout transcript.
type transcriptEntry struct {
	text string
	line int // index into the transcript's raw lines
}

// parseTranscript extracts user-authored messages from rollout transcript
// bytes. Event-shaped records (type "event_msg" carrying a user_message
// payload) are preferred; response-item records (role "user", directly or
// under payload) are consulted only when no event-shaped message exists.
// The two styles never mix within one parse.
func parseTranscript(data []byte) []transcriptEntry {
	var events, items []transcriptEntry
	for i, raw := range bytes.Split(data, []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}

		if t, _ := rec["type"].(string); t == "event_msg" {
			payload, _ := rec["payload"].(map[string]any)
			if pt, _ := payload["type"].(string); pt == "user_message" {
				if text, ok := eventText(payload); ok {
					events = append(events, transcriptEntry{text: text, line: i})
				}
			}
			continue
		}

		// Response-item shape. A top-level role or content claims the
		// record even when the pair is incomplete; payload is consulted
		// only when neither is present.
		if _, hasRole := rec["role"]; hasRole || rec["content"] != nil {
			if role, _ := rec["role"].(string); role == "user" {
				if text, ok := valueText(rec["content"]); ok {
					items = append(items, transcriptEntry{text: text, line: i})
				}
			}
			continue
		}
		if payload, ok := rec["payload"].(map[string]any); ok {
			if role, _ := payload["role"].(string); role == "user" {
				if text, ok := valueText(payload["content"]); ok {
					items = append(items, transcriptEntry{text: text, line: i})
				}
			}
		}
	}
	if len(events) > 0 {
		return events
	}
	return items
}

// eventText pulls the message text out of a user_message event payload.
func eventText(payload map[string]any) (string, bool) {
	if text, ok := valueText(payload["message"]); ok {
		return text, true
	}
	return valueText(payload["text"])
}

// valueText extracts message text from a content value: a plain string, a
// list of fragments (strings and {text: ...} objects, concatenated), or an
// object with a text field.
func valueText(v any) (string, bool) {
	switch c := v.(type) {
	case string:
		return c, true
	case []any:
		var parts []string
		for _, item := range c {
			switch f := item.(type) {
			case string:
				parts = append(parts, f)
			case map[string]any:
				if t, ok := f["text"].(string); ok {
					parts = append(parts, t)
				}
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ""), true
	case map[string]any:
		if t, ok := c["text"].(string); ok {
			return t, true
		}
	}
	return "", false
}

package history

import (
	"strings"
	"testing"
)

func transcriptOf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func textsOf(entries []transcriptEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.text
	}
	return out
}

func TestParseTranscriptEventShaped(t *testing.T) {
	data := transcriptOf(
		`{"timestamp":"2026-08-25T10:00:00Z","type":"session_meta"}`,
		`{"type":"event_msg","payload":{"type":"user_message","message":"first prompt"}}`,
		``,
		`not json at all`,
		`{"type":"event_msg","payload":{"type":"agent_message","message":"not a user line"}}`,
		`{"type":"event_msg","payload":{"type":"user_message","message":"second prompt"}}`,
	)
	got := parseTranscript(data)
	if len(got) != 2 {
		t.Fatalf("parsed %d entries, want 2: %+v", len(got), got)
	}
	if got[0].text != "first prompt" || got[0].line != 1 {
		t.Errorf("entry 0 = %+v, want {first prompt 1}", got[0])
	}
	if got[1].text != "second prompt" || got[1].line != 5 {
		t.Errorf("entry 1 = %+v, want {second prompt 5}", got[1])
	}
}

func TestParseTranscriptPrefersEventsOverItems(t *testing.T) {
	data := transcriptOf(
		`{"type":"event_msg","payload":{"type":"user_message","message":"hello"}}`,
		`{"role":"user","content":"ignored item"}`,
		`{"type":"response_item","payload":{"role":"user","content":"also ignored"}}`,
	)
	got := textsOf(parseTranscript(data))
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("parsed %v, want [hello]", got)
	}
}

func TestParseTranscriptResponseItems(t *testing.T) {
	data := transcriptOf(
		`{"role":"user","content":"plain string"}`,
		`{"role":"assistant","content":"not a user line"}`,
		`{"role":"user","content":["frag",{"type":"input_text","text":"ments"}]}`,
		`{"type":"response_item","payload":{"role":"user","content":{"text":"wrapped"}}}`,
	)
	got := textsOf(parseTranscript(data))
	want := []string{"plain string", "fragments", "wrapped"}
	if len(got) != len(want) {
		t.Fatalf("parsed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// A top-level role or content claims the record: the payload is not
// consulted even when the top-level pair is unusable.
func TestParseTranscriptTopLevelClaimsRecord(t *testing.T) {
	data := transcriptOf(
		`{"role":"assistant","payload":{"role":"user","content":"hidden"}}`,
		`{"content":"orphan content","payload":{"role":"user","content":"also hidden"}}`,
	)
	if got := parseTranscript(data); len(got) != 0 {
		t.Fatalf("parsed %+v, want nothing", got)
	}
}

func TestParseTranscriptEmptyAndGarbage(t *testing.T) {
	if got := parseTranscript(nil); len(got) != 0 {
		t.Errorf("nil input parsed to %+v", got)
	}
	if got := parseTranscript([]byte("\n\n{broken\n42\n")); len(got) != 0 {
		t.Errorf("garbage input parsed to %+v", got)
	}
}

func TestEventTextPrefersMessageField(t *testing.T) {
	payload := map[string]any{
		"type":    "user_message",
		"message": "from message",
		"text":    "from text",
	}
	if got, ok := eventText(payload); !ok || got != "from message" {
		t.Errorf("eventText = %q, %v, want %q", got, ok, "from message")
	}
	delete(payload, "message")
	if got, ok := eventText(payload); !ok || got != "from text" {
		t.Errorf("eventText fallback = %q, %v, want %q", got, ok, "from text")
	}
}

func TestValueText(t *testing.T) {
	cases := []struct {
		name   string
		in     any
		want   string
		wantOK bool
	}{
		{"string", "plain", "plain", true},
		{"fragment list", []any{"a", map[string]any{"text": "b"}, "c"}, "abc", true},
		{"list with unusable fragments only", []any{42, map[string]any{"type": "image"}}, "", false},
		{"object with text", map[string]any{"text": "inner"}, "inner", true},
		{"object without text", map[string]any{"type": "image"}, "", false},
		{"number", 42.0, "", false},
		{"nil", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := valueText(tc.in)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("valueText(%v) = %q, %v, want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

// Package protocol defines the line-delimited JSON request/response types
// exchanged between the host application and the extension broker.
//
// Every message is a single JSON object terminated by '\n'. Requests flow
// host -> broker; responses flow broker -> host and are correlated by the
// request id, not by arrival order.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusSkip  = "skip"
	StatusError = "error"
)

// Actions reserved by the broker itself. Anything else is offered to the
// handler chain via first-match dispatch.
const (
	ActionConfig   = "config"
	ActionNotify   = "notify"
	ActionShutdown = "shutdown"
)

// Request is one message from the host.
//
// ID is an opaque correlator chosen by the host; it is preserved verbatim
// (raw JSON) so numeric precision and type survive the round trip. LogPath,
// when present, retargets the process-wide diagnostic log for the remaining
// lifetime of the process.
type Request struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Action  string          `json:"action"`
	Payload map[string]any  `json:"payload,omitempty"`
	LogPath string          `json:"log_path,omitempty"`
}

// Response is one message back to the host.
//
// Text is a pointer so that an explicitly empty string (the history
// "exit browsing" sentinel) is distinguishable from an absent field.
type Response struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Status  string          `json:"status"`
	Text    *string         `json:"text,omitempty"`
	Payload map[string]any  `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK returns an ok response with no text.
func OK() *Response {
	return &Response{Status: StatusOK}
}

// OKText returns an ok response carrying text (which may be empty).
func OKText(text string) *Response {
	return &Response{Status: StatusOK, Text: &text}
}

// OKPayload returns an ok response carrying a payload.
func OKPayload(payload map[string]any) *Response {
	return &Response{Status: StatusOK, Payload: payload}
}

// Skip returns a "no opinion" response; the host applies default behavior.
func Skip() *Response {
	return &Response{Status: StatusSkip}
}

// Errorf returns an error response with a formatted message.
func Errorf(format string, args ...any) *Response {
	return &Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// TextValue returns the response text, or "" when the field is absent.
func (r *Response) TextValue() string {
	if r == nil || r.Text == nil {
		return ""
	}
	return *r.Text
}

// DecodeRequest parses one request line. The payload, when present, must be
// a JSON object; a missing or empty action is malformed.
func DecodeRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Action == "" {
		return nil, fmt.Errorf("invalid request: missing action")
	}
	return &req, nil
}

// SalvageID extracts the id from a request line that failed full decoding,
// so the error response can still be correlated. Returns nil when no id can
// be recovered (e.g. the line is not valid JSON at all).
func SalvageID(line []byte) json.RawMessage {
	var partial struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(line, &partial); err != nil {
		return nil
	}
	return partial.ID
}

// EncodeResponse renders a response as a single line, without the trailing
// newline.
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}

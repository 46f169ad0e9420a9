// Package dap implements the client side of the debug-adapter wire protocol:
// Content-Length framed JSON messages over a single TCP connection, with a
// background listener correlating responses to requests by sequence number.
package dap

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message kinds as they appear on the wire.
const (
	KindRequest  = "request"
	KindResponse = "response"
	KindEvent    = "event"
)

// Errors surfaced by the codec and client. Callers classify them: a timeout
// during the handshake is usually tolerable, a timeout during steady-state
// stepping is not.
var (
	// ErrConnectionClosed means the peer closed mid-frame. Fatal to the connection.
	ErrConnectionClosed = errors.New("dap: connection closed")
	// ErrIncompleteFrame means the header block was malformed or truncated.
	// The frame is dropped; the connection continues.
	ErrIncompleteFrame = errors.New("dap: incomplete frame")
	// ErrRequestTimeout means no response arrived within the caller's deadline.
	ErrRequestTimeout = errors.New("dap: request timeout")
	// ErrAdapterUnreachable means the transport could not be established
	// within the startup deadline. Fatal to the whole session.
	ErrAdapterUnreachable = errors.New("dap: adapter unreachable")
	// ErrNotConnected is returned when sending before Connect or after Close.
	ErrNotConnected = errors.New("dap: not connected")
)

// Message is one decoded protocol unit. Request, response and event share the
// same envelope; unused fields stay at their zero values.
type Message struct {
	Type       string         `json:"type"`
	Seq        int            `json:"seq"`
	Command    string         `json:"command,omitempty"`
	Event      string         `json:"event,omitempty"`
	RequestSeq int            `json:"request_seq,omitempty"`
	Success    bool           `json:"success,omitempty"`
	Msg        string         `json:"message,omitempty"`
	Body       map[string]any `json:"body,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

// decodeMessage parses a JSON payload into a Message. Body is never nil so
// callers can index it without a guard.
func decodeMessage(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("dap: decode message: %w", err)
	}
	if m.Body == nil {
		m.Body = map[string]any{}
	}
	return &m, nil
}

// BodyString returns body[key] as a string, or "" when absent or non-string.
func (m *Message) BodyString(key string) string {
	if m == nil || m.Body == nil {
		return ""
	}
	s, _ := m.Body[key].(string)
	return s
}

// BodyInt returns body[key] as an int, tolerating the float64 JSON numbers
// produce, or 0 when absent.
func (m *Message) BodyInt(key string) int {
	if m == nil || m.Body == nil {
		return 0
	}
	switch v := m.Body[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// BodySlice returns body[key] as a []any, or nil when absent.
func (m *Message) BodySlice(key string) []any {
	if m == nil || m.Body == nil {
		return nil
	}
	s, _ := m.Body[key].([]any)
	return s
}

// BodyMap returns body[key] as a map, or nil when absent.
func (m *Message) BodyMap(key string) map[string]any {
	if m == nil || m.Body == nil {
		return nil
	}
	mm, _ := m.Body[key].(map[string]any)
	return mm
}

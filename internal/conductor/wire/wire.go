// Package wire defines the gateway's framing for messages exchanged with
// the Conductor over a WebSocket: a small JSON envelope carrying an opaque
// byte payload. The real Conductor protocol is message-pack shaped; this
// envelope only needs to let wsconductor speak request/response over a
// socket so integration tests can run against a fake Conductor.
package wire

import "encoding/json"

// MessageType distinguishes request, response, and error frames.
type MessageType string

const (
	// TypeRequest is sent by the gateway.
	TypeRequest MessageType = "request"
	// TypeResponse carries a successful result.
	TypeResponse MessageType = "response"
	// TypeError carries a well-formed protocol-level failure from the Conductor.
	TypeError MessageType = "error"
)

// Envelope is the single frame shape exchanged on both the admin and app sockets.
type Envelope struct {
	ID      uint64          `json:"id"`
	Type    MessageType     `json:"type"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Encode serializes an envelope to bytes for a single WebSocket message.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a single WebSocket message into an envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

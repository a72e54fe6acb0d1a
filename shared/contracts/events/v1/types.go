// Package v1 defines the wire contract of the play session event stream.
//
// It is shared by the server and the smoke client and has no dependencies
// outside the standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol must be offered by clients during the WebSocket handshake.
const Subprotocol = "playgate.events.v1"

// Type constants (wire-stable).
const (
	// TypeHello binds the connection to a session token (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the binding (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSessionEvent carries one lifecycle transition (server -> client).
	TypeSessionEvent = "session_event"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeHello, TypeHelloAck, TypeSessionEvent, TypeError:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// HelloPayload carries the session token returned by start or heartbeat.
type HelloPayload struct {
	Token string `json:"token"`
}

type HelloAckPayload struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionEventPayload mirrors one session transition. Terminal is set on the
// last event of a session; the server closes the stream after sending it.
type SessionEventPayload struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	At        time.Time `json:"at"`
	Terminal  bool      `json:"terminal"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

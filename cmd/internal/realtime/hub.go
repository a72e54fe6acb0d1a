package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"playgate/cmd/internal/play/session"
	v1 "playgate/shared/contracts/events/v1"
)

// Hub routes session lifecycle events to the connections bound to that
// session. It implements session.Notifier.
//
// Publish never blocks: a full client queue drops the event, and a dropped
// terminal event closes the client outright.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		sessions: make(map[string]map[string]*Client),
	}
}

// Register binds a client to its SessionID.
func (h *Hub) Register(c *Client) {
	if h == nil || c == nil || c.SessionID == "" {
		return
	}
	h.mu.Lock()
	conns := h.sessions[c.SessionID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.sessions[c.SessionID] = conns
	}
	conns[c.ConnID] = c
	h.mu.Unlock()

	h.log.Info("events.client.bind", "conn_id", c.ConnID, "session_id", c.SessionID)
}

// Unregister removes a client. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	if h == nil || c == nil || c.SessionID == "" {
		return
	}
	h.mu.Lock()
	if conns := h.sessions[c.SessionID]; conns != nil {
		delete(conns, c.ConnID)
		if len(conns) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	h.mu.Unlock()
}

// Len returns the number of bound connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.sessions {
		n += len(conns)
	}
	return n
}

func (h *Hub) Publish(_ context.Context, ev session.Event) {
	if h == nil || ev.SessionID == "" {
		return
	}
	terminal := ev.Type.Terminal()

	var targets []*Client
	h.mu.Lock()
	for _, c := range h.sessions[ev.SessionID] {
		targets = append(targets, c)
	}
	if terminal {
		delete(h.sessions, ev.SessionID)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	env, err := sessionEventEnvelope(ev, terminal)
	if err != nil {
		h.log.Error("events.encode.fail", "session_id", ev.SessionID, "err", err)
		return
	}
	for _, c := range targets {
		if c.offer(outbound{env: env, last: terminal}) {
			continue
		}
		h.log.Warn("events.drop", "conn_id", c.ConnID, "session_id", ev.SessionID, "event", string(ev.Type))
		if terminal {
			c.Close()
		}
	}
}

func sessionEventEnvelope(ev session.Event, terminal bool) (v1.Envelope, error) {
	payload, err := json.Marshal(v1.SessionEventPayload{
		Event:     string(ev.Type),
		SessionID: ev.SessionID,
		State:     string(ev.State),
		Reason:    ev.Reason,
		ExpiresAt: ev.ExpiresAt,
		At:        ev.At,
		Terminal:  terminal,
	})
	if err != nil {
		return v1.Envelope{}, err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return newEnvelope(v1.TypeSessionEvent, payload, at)
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) (v1.Envelope, error) {
	id, err := NewEnvelopeID(ts)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}, nil
}

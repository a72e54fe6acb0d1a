package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"playgate/cmd/internal/play/session"
	v1 "playgate/shared/contracts/events/v1"
)

const (
	testSessionID = "01J9ZX3K4T5V6W7X8Y9Z0ABCDE"
	testPrincipal = "5a1e6f0c-1111-4c2b-9a3d-222222222222"
	testResource  = "6f1c1a52-5f5e-4a43-9a1e-0f0d6c5c2a11"
	goodToken     = "good-token"
)

type fakeTokens struct{}

func (fakeTokens) Verify(tok string, now time.Time) (session.Claims, error) {
	if tok != goodToken {
		return session.Claims{}, session.ErrInvalidToken
	}
	return session.Claims{
		Payload: session.Payload{
			SessionID:            testSessionID,
			PrincipalID:          testPrincipal,
			ResourceID:           testResource,
			HeartbeatIntervalSec: 45,
		},
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}, nil
}

type fakeSessions struct {
	mu  sync.Mutex
	err error
}

func (f *fakeSessions) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSessions) AssertActive(_ context.Context, now time.Time, sid, uid, gid string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return session.Session{}, f.err
	}
	return session.Session{
		ID:          sid,
		PrincipalID: uid,
		ResourceID:  gid,
		State:       session.StateActive,
		ExpiresAt:   now.Add(5 * time.Minute),
	}, nil
}

type countingStreams struct {
	mu   sync.Mutex
	open int
}

func (c *countingStreams) ObserveEventStreams(delta int) {
	c.mu.Lock()
	c.open += delta
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type wsHarness struct {
	hub      *Hub
	sessions *fakeSessions
	streams  *countingStreams
	server   *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	return newWSHarnessWithConfig(t, DefaultConfig())
}

func newWSHarnessWithConfig(t *testing.T, cfg Config) *wsHarness {
	t.Helper()

	log := testLogger()
	h := &wsHarness{
		hub:      NewHub(log),
		sessions: &fakeSessions{},
		streams:  &countingStreams{},
	}
	gw, err := NewWSGateway(cfg, Deps{
		Hub:      h.hub,
		Tokens:   fakeTokens{},
		Sessions: h.sessions,
		Metrics:  h.streams,
		Logger:   log,
	})
	if err != nil {
		t.Fatalf("NewWSGateway: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /play/events", gw)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *wsHarness) dial(t *testing.T, origin string, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(h.server.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/play/events"

	hdr := http.Header{}
	if origin != "" {
		hdr.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: subprotocols,
		HTTPHeader:   hdr,
	})
}

func (h *wsHarness) mustDial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, resp, err := h.dial(t, "http://localhost", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func (h *wsHarness) waitBound(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for h.hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d bound clients, want %d", h.hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func sendHello(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()

	p, _ := json.Marshal(v1.HelloPayload{Token: token})
	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeHello, ID: "c-1", TS: time.Now().UTC(), Payload: p})
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func expectClose(t *testing.T, conn *websocket.Conn, want websocket.StatusCode) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != want {
		t.Fatalf("close status=%v (err=%v), want %v", got, err, want)
	}
}

func publish(h *wsHarness, typ session.EventType, state session.State, reason string) {
	now := time.Now().UTC()
	h.hub.Publish(context.Background(), session.Event{
		Type:        typ,
		SessionID:   testSessionID,
		PrincipalID: testPrincipal,
		ResourceID:  testResource,
		State:       state,
		Reason:      reason,
		ExpiresAt:   now.Add(5 * time.Minute),
		At:          now,
	})
}

func TestWSGateway_HelloThenLifecycleEvents(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	conn := h.mustDial(t)

	sendHello(t, conn, goodToken)
	ack := readEnvelopeWS(t, conn)
	if ack.Type != v1.TypeHelloAck {
		t.Fatalf("first envelope type=%q, want %q", ack.Type, v1.TypeHelloAck)
	}
	var ackPayload v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &ackPayload); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ackPayload.SessionID != testSessionID {
		t.Fatalf("ack session_id=%q", ackPayload.SessionID)
	}
	h.waitBound(t, 1)

	publish(h, session.EventRenewed, session.StateActive, "")
	env := readEnvelopeWS(t, conn)
	var ev v1.SessionEventPayload
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if env.Type != v1.TypeSessionEvent || ev.Event != string(session.EventRenewed) || ev.Terminal {
		t.Fatalf("unexpected event: type=%q payload=%+v", env.Type, ev)
	}

	publish(h, session.EventRevoked, session.StateRevoked, "INSUFFICIENT")
	env = readEnvelopeWS(t, conn)
	ev = v1.SessionEventPayload{}
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if !ev.Terminal || ev.State != string(session.StateRevoked) || ev.Reason != "INSUFFICIENT" {
		t.Fatalf("unexpected terminal event: %+v", ev)
	}
	expectClose(t, conn, websocket.StatusPolicyViolation)
	h.waitBound(t, 0)
}

func TestWSGateway_HelloRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		token string
		err   error
		code  string
	}{
		{name: "bad token", token: "forged", code: "invalid_token"},
		{name: "inactive session", token: goodToken, err: session.ErrSessionInactive, code: "session_inactive"},
		{name: "billing denied", token: goodToken, err: session.BillingDeniedError{SessionID: testSessionID}, code: "forbidden"},
		{name: "billing outage", token: goodToken, err: session.ErrBillingUnavailable, code: "unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newWSHarness(t)
			h.sessions.setErr(tc.err)
			conn := h.mustDial(t)

			sendHello(t, conn, tc.token)
			env := readEnvelopeWS(t, conn)
			var p v1.ErrorPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.Fatalf("unmarshal error payload: %v", err)
			}
			if env.Type != v1.TypeError || p.Code != tc.code {
				t.Fatalf("got type=%q code=%q, want error %q", env.Type, p.Code, tc.code)
			}
			expectClose(t, conn, websocket.StatusPolicyViolation)
			if h.hub.Len() != 0 {
				t.Fatalf("rejected client was bound")
			}
		})
	}
}

func TestWSGateway_RateLimitSendsErrorBeforeClose(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RateEvents = 1
	cfg.RateWindow = time.Minute
	h := newWSHarnessWithConfig(t, cfg)
	conn := h.mustDial(t)

	sendHello(t, conn, goodToken)
	if env := readEnvelopeWS(t, conn); env.Type != v1.TypeHelloAck {
		t.Fatalf("expected hello_ack, got %q", env.Type)
	}

	sendHello(t, conn, goodToken)
	env := readEnvelopeWS(t, conn)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if env.Type != v1.TypeError || p.Code != "rate_limited" {
		t.Fatalf("got type=%q code=%q, want rate_limited error", env.Type, p.Code)
	}
	expectClose(t, conn, websocket.StatusPolicyViolation)
	h.waitBound(t, 0)
}

func TestWSGateway_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	_, resp, err := h.dial(t, "https://evil.example", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%v err=%v", resp, err)
	}

	_, resp, err = h.dial(t, "", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("missing origin: expected 403, got err=%v", err)
	}
}

func TestWSGateway_RequiresSubprotocol(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	conn, resp, err := h.dial(t, "http://localhost")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	expectClose(t, conn, websocket.StatusProtocolError)
}

func TestWSGateway_StreamGauge(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	conn := h.mustDial(t)
	sendHello(t, conn, goodToken)
	_ = readEnvelopeWS(t, conn)

	_ = conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(5 * time.Second)
	for {
		h.streams.mu.Lock()
		open := h.streams.open
		h.streams.mu.Unlock()
		if open == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("open streams=%d after close", open)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_RoutesBySession(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	a := NewClient("conn-a", 4)
	a.SessionID = testSessionID
	b := NewClient("conn-b", 4)
	b.SessionID = "01J9ZX3K4T5V6W7X8Y9Z0OTHER"
	hub.Register(a)
	hub.Register(b)

	hub.Publish(context.Background(), session.Event{Type: session.EventRenewed, SessionID: testSessionID, State: session.StateActive, At: time.Now()})
	if len(a.send) != 1 || len(b.send) != 0 {
		t.Fatalf("queues a=%d b=%d, want 1/0", len(a.send), len(b.send))
	}

	hub.Publish(context.Background(), session.Event{Type: session.EventEnded, SessionID: testSessionID, State: session.StateEnded, At: time.Now()})
	<-a.send
	last := <-a.send
	if !last.last {
		t.Fatalf("terminal event not marked last")
	}
	if hub.Len() != 1 {
		t.Fatalf("hub.Len()=%d after terminal event, want 1", hub.Len())
	}
}

func TestHub_DroppedTerminalEventClosesClient(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	c := NewClient("conn-a", 1)
	c.SessionID = testSessionID
	hub.Register(c)

	hub.Publish(context.Background(), session.Event{Type: session.EventRenewed, SessionID: testSessionID, At: time.Now()})
	hub.Publish(context.Background(), session.Event{Type: session.EventExpired, SessionID: testSessionID, At: time.Now()})

	select {
	case <-c.Done():
	default:
		t.Fatalf("client still open after its terminal event was dropped")
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{"http://localhost:3000", "https://play.example.com", "*", "http://LOCALHOST"})
	want := []string{"localhost", "play.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patterns=%v, want %v", got, want)
	}
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = err
	}
	cases := []struct {
		err  error
		want readErrKind
	}{
		{err: context.DeadlineExceeded, want: readErrCtxDone},
		{err: io.EOF, want: readErrConnClosed},
		{err: syntaxErr, want: readErrBadJSON},
		{err: errors.New("boom"), want: readErrUnknown},
	}
	for _, tc := range cases {
		if got := classifyReadErr(tc.err); got != tc.want {
			t.Fatalf("classifyReadErr(%v)=%d, want %d", tc.err, got, tc.want)
		}
	}
}

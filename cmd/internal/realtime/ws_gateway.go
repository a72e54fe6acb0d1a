package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"playgate/cmd/internal/play/session"
	"playgate/cmd/internal/ratelimit"
	v1 "playgate/shared/contracts/events/v1"
)

// TokenVerifier checks a session token. session.TokenIssuer satisfies it.
type TokenVerifier interface {
	Verify(token string, now time.Time) (session.Claims, error)
}

// SessionGate confirms the token's session is still ACTIVE.
type SessionGate interface {
	AssertActive(ctx context.Context, now time.Time, sessionID, principalID, resourceID string) (session.Session, error)
}

// StreamObserver tracks open event streams.
type StreamObserver interface {
	ObserveEventStreams(delta int)
}

type Deps struct {
	Hub      *Hub
	Tokens   TokenVerifier
	Sessions SessionGate
	Metrics  StreamObserver
	Logger   *slog.Logger
}

// WSGateway serves GET /play/events.
//
// A connection is anonymous until the client sends hello with its session
// token. After a verified hello the connection receives every lifecycle event
// of that session and is closed once the session reaches a terminal state.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	tokens   TokenVerifier
	sessions SessionGate
	metrics  StreamObserver
	cfg      Config

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway validates cfg and wires the gateway.
func NewWSGateway(cfg Config, d Deps) (*WSGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Hub == nil || d.Tokens == nil || d.Sessions == nil {
		return nil, fmt.Errorf("%w: missing gateway dependency", ErrConfig)
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &WSGateway{
		log:            log,
		hub:            d.Hub,
		tokens:         d.Tokens,
		sessions:       d.Sessions,
		metrics:        d.Metrics,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the event stream until the session
// ends, the peer leaves, or a protocol rule is broken.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now())
	if err != nil {
		g.log.Error("ws.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, g.cfg.SendQueueSize)

	if g.metrics != nil {
		g.metrics.ObserveEventStreams(1)
		defer g.metrics.ObserveEventStreams(-1)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Unregistering before Close keeps Publish from
	// targeting a client whose goroutines are exiting.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				shutdown(websocket.StatusPolicyViolation, "session closed")
				return
			case out := <-client.send:
				if err := writeEnvelope(ctx, conn, out.env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				if out.last {
					reason := out.reason
					if reason == "" {
						reason = "session ended"
					}
					shutdown(websocket.StatusPolicyViolation, reason)
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := ratelimit.NewWindow(g.cfg.RateEvents, g.cfg.RateWindow)
	bound := false

	// closeWith hands the error to the writer as the final frame and waits
	// until it has been written and the connection closed.
	closeWith := func(code, msg, reason string) {
		if g.sendFinalError(ctx, client, code, msg, reason) {
			select {
			case <-writerDone:
			case <-time.After(g.cfg.WriteTimeout):
			}
		}
		shutdown(websocket.StatusPolicyViolation, reason)
	}

readLoop:
	for {
		idle := g.cfg.ReadIdleTimeout
		if !bound {
			idle = g.cfg.HelloTimeout
		}
		readCtx, readCancel := context.WithTimeout(ctx, idle)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				if !bound && ctx.Err() == nil {
					shutdown(websocket.StatusPolicyViolation, "hello timeout")
				} else {
					shutdown(websocket.StatusNormalClosure, "context done")
				}
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			closeWith("rate_limited", "too many events", "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if bound {
				g.trySendError(ctx, client, "already_bound", "hello already accepted")
				continue readLoop
			}
			if code, err := g.onHello(ctx, client, env, now); err != nil {
				g.log.Info("ws.hello.reject", "conn_id", connID, "code", code, "err", err)
				closeWith(code, err.Error(), "hello failed")
				break readLoop
			}
			bound = true

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// onHello verifies the token and the session behind it, acknowledges, then
// binds the client to the hub. The ack is queued before binding so it always
// precedes the first event.
func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope, now time.Time) (string, error) {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "bad_payload", fmt.Errorf("invalid payload: %w", err)
	}
	tok := strings.TrimSpace(p.Token)
	if tok == "" {
		return "invalid_token", errors.New("missing token")
	}

	claims, err := g.tokens.Verify(tok, now)
	if err != nil {
		return "invalid_token", session.ErrInvalidToken
	}
	sess, err := g.sessions.AssertActive(ctx, now, claims.SessionID, claims.PrincipalID, claims.ResourceID)
	switch {
	case err == nil:
	case session.IsForbidden(err):
		return "forbidden", err
	case errors.Is(err, session.ErrBillingUnavailable):
		return "unavailable", session.ErrBillingUnavailable
	case session.IsUnauthorized(err):
		return "session_inactive", err
	default:
		return "internal", errors.New("internal error")
	}

	client.SessionID = sess.ID
	client.PrincipalID = sess.PrincipalID

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt})
	ack, err := newEnvelope(v1.TypeHelloAck, ackPayload, now)
	if err != nil {
		return "internal", err
	}
	if !g.enqueue(ctx, client, ack) {
		return "backpressure", errors.New("backpressure: hello_ack")
	}
	g.hub.Register(client)
	return "", nil
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env, err := newEnvelope(v1.TypeError, p, time.Now().UTC())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	if ctx.Err() != nil {
		return false
	}
	return client.offer(outbound{env: env})
}

// sendFinalError queues an error as the last frame of the stream.
func (g *WSGateway) sendFinalError(ctx context.Context, client *Client, code, msg, reason string) bool {
	if ctx.Err() != nil {
		return false
	}
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env, err := newEnvelope(v1.TypeError, p, time.Now().UTC())
	if err != nil {
		return false
	}
	return client.offer(outbound{env: env, last: true, reason: reason})
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins keeps websocket.Accept's own origin
// check in agreement with enforceOrigin.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Package main provides a CI-friendly end-to-end smoke test for playgate.
//
// It validates:
//   - start returns a session token and heartbeat interval
//   - the event stream binds with hello/hello_ack
//   - heartbeat renews the session and is mirrored on the stream
//   - an optional ranged asset read returns 206
//   - stop ends the session, the stream closes, and the old token is rejected
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "playgate/shared/contracts/events/v1"
)

const maxReadBytes = 1 << 16

type smokeFlags struct {
	base      string
	events    string
	origin    string
	principal string
	resource  string
	asset     string
	timeout   time.Duration
	verbose   bool
}

type eventStream struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var f smokeFlags
	flag.StringVar(&f.base, "base", "http://127.0.0.1:8080", "HTTP base URL")
	flag.StringVar(&f.events, "events", "", "event stream URL (default: derived from -base)")
	flag.StringVar(&f.origin, "origin", "http://localhost", "Origin header for the WebSocket handshake")
	flag.StringVar(&f.principal, "principal", "", "principal UUID sent as X-User-Id (required)")
	flag.StringVar(&f.resource, "resource", "", "resource UUID to play (required)")
	flag.StringVar(&f.asset, "asset", "", "optional asset UUID to fetch with a Range header")
	flag.DurationVar(&f.timeout, "timeout", 7*time.Second, "per-step timeout")
	flag.BoolVar(&f.verbose, "v", false, "verbose output")
	flag.Parse()

	if strings.TrimSpace(f.principal) == "" || strings.TrimSpace(f.resource) == "" {
		fatalf("-principal and -resource are required")
	}
	if f.events == "" {
		f.events = eventsURL(f.base)
	}
	if err := validateWSURL(f.events); err != nil {
		fatalf("invalid -events: %v", err)
	}

	root := context.Background()
	client := &http.Client{Timeout: f.timeout}

	var started struct {
		SessionToken         string    `json:"sessionToken"`
		HeartbeatIntervalSec int       `json:"heartbeatIntervalSec"`
		SessionID            string    `json:"sessionId"`
		ExpiresAt            time.Time `json:"expiresAt"`
	}
	mustCall(client, http.MethodPost, f.base+"/play/start", map[string]string{"resourceId": f.resource},
		http.Header{"X-User-Id": {f.principal}}, http.StatusOK, &started)
	if started.SessionToken == "" || started.HeartbeatIntervalSec <= 0 {
		fatalf("start: incomplete response: %+v", started)
	}
	if f.verbose {
		fmt.Printf("started: session=%s hb=%ds expires=%s\n", started.SessionID, started.HeartbeatIntervalSec, started.ExpiresAt.Format(time.RFC3339))
	}

	stream := mustConnect(root, f.events, f.origin, started.SessionToken, started.SessionID, f.timeout)
	defer closeWS(stream.conn)

	var renewed struct {
		SessionToken string    `json:"sessionToken"`
		ExpiresAt    time.Time `json:"expiresAt"`
	}
	mustCall(client, http.MethodPost, f.base+"/play/heartbeat", nil, bearer(started.SessionToken), http.StatusOK, &renewed)
	if !renewed.ExpiresAt.After(started.ExpiresAt) {
		fatalf("heartbeat: expiry did not advance: %s -> %s", started.ExpiresAt, renewed.ExpiresAt)
	}
	ev := stream.mustReadEvent(root, f.timeout)
	if ev.Event != "session.renewed" || ev.Terminal {
		fatalf("expected session.renewed, got %+v", ev)
	}

	if f.asset != "" {
		h := bearer(renewed.SessionToken)
		h.Set("Range", "bytes=0-0")
		resp := mustDo(client, http.MethodGet, f.base+"/assets/"+f.asset, nil, h)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusPartialContent {
			fatalf("asset: status=%d want=206", resp.StatusCode)
		}
		if f.verbose {
			fmt.Printf("asset: content-range=%q etag=%s\n", resp.Header.Get("Content-Range"), resp.Header.Get("ETag"))
		}
	}

	mustCall(client, http.MethodPost, f.base+"/play/stop", nil, bearer(renewed.SessionToken), http.StatusNoContent, nil)
	ev = stream.mustReadEvent(root, f.timeout)
	if ev.Event != "session.ended" || !ev.Terminal {
		fatalf("expected terminal session.ended, got %+v", ev)
	}
	stream.mustClose(root, f.timeout)

	mustCall(client, http.MethodPost, f.base+"/play/heartbeat", nil, bearer(renewed.SessionToken), http.StatusUnauthorized, nil)

	fmt.Printf("OK: session=%s principal=%s resource=%s\n", started.SessionID, f.principal, f.resource)
}

func eventsURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/play/events"
	return u.String()
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func bearer(tok string) http.Header {
	return http.Header{"Authorization": {"Bearer " + tok}}
}

func mustDo(client *http.Client, method, target string, body any, header http.Header) *http.Response {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, rd)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func mustCall(client *http.Client, method, target string, body any, header http.Header, wantStatus int, out any) {
	resp := mustDo(client, method, target, body, header)
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, target, resp.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, target, err)
		}
	}
}

func mustConnect(parent context.Context, wsURL, origin, token, sessionID string, stepTimeout time.Duration) *eventStream {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect events: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	s := &eventStream{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	s.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "smoke-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Token: token}),
	}
	mustWrite(parent, conn, hello, stepTimeout)

	ack := s.mustReadType(parent, v1.TypeHelloAck, stepTimeout)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if p.SessionID != sessionID {
		fatalf("hello_ack session mismatch: got=%q want=%q", p.SessionID, sessionID)
	}
	return s
}

func (s *eventStream) startReadLoop() {
	go func() {
		defer close(s.inbox)

		for {
			_, data, err := s.conn.Read(context.Background())
			if err != nil {
				s.errCh <- err
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.errCh <- fmt.Errorf("bad json: %w", err)
				return
			}
			if err := env.Validate(); err != nil {
				s.errCh <- fmt.Errorf("bad envelope: %w", err)
				return
			}
			s.inbox <- env
		}
	}()
}

func (s *eventStream) mustReadType(parent context.Context, want string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %q: %v", want, ctx.Err())
	case env, ok := <-s.inbox:
		if !ok {
			fatalf("stream closed while waiting for %q: %v", want, <-s.errCh)
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &ep)
			fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
		}
		if env.Type != want {
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, want)
		}
		return env
	}
	return v1.Envelope{}
}

func (s *eventStream) mustReadEvent(parent context.Context, stepTimeout time.Duration) v1.SessionEventPayload {
	env := s.mustReadType(parent, v1.TypeSessionEvent, stepTimeout)
	var p v1.SessionEventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal session_event payload: %v", err)
	}
	return p
}

// mustClose waits for the server to close the stream after a terminal event.
func (s *eventStream) mustClose(parent context.Context, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("stream still open after terminal event")
		case env, ok := <-s.inbox:
			if ok {
				fatalf("unexpected envelope after terminal event: %q", env.Type)
			}
			err := <-s.errCh
			if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
				fatalf("unexpected close: status=%v err=%v", status, err)
			}
			return
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

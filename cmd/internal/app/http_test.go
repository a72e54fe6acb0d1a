package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdvertisedURLs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr   string
		base   string
		events string
	}{
		{addr: "0.0.0.0:8080", base: "http://127.0.0.1:8080", events: "ws://127.0.0.1:8080/play/events"},
		{addr: "[::]:9090", base: "http://127.0.0.1:9090", events: "ws://127.0.0.1:9090/play/events"},
		{addr: ":7000", base: "http://127.0.0.1:7000", events: "ws://127.0.0.1:7000/play/events"},
		{addr: "10.1.2.3:8080", base: "http://10.1.2.3:8080", events: "ws://10.1.2.3:8080/play/events"},
		{addr: "[2001:db8::1]:9090", base: "http://[2001:db8::1]:9090", events: "ws://[2001:db8::1]:9090/play/events"},
	}
	for _, tc := range cases {
		if got := runtimeBaseURL(tc.addr); got != tc.base {
			t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.addr, got, tc.base)
		}
		if got := eventsURL(tc.addr); got != tc.events {
			t.Fatalf("eventsURL(%q)=%q want=%q", tc.addr, got, tc.events)
		}
	}

	if got := wsBaseURL("https://playgate.example.com"); got != "wss://playgate.example.com" {
		t.Fatalf("tls base should map to wss, got %q", got)
	}
}

func TestRouter_ProbesWithoutPlayRoutes(t *testing.T) {
	t.Parallel()

	cfg := Config{CORSAllowedOrigins: []string{"https://play.example.com"}, CORSMaxAgeSeconds: 600}
	h := newRouter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), routeDeps{})

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/healthz", status: http.StatusOK, body: "ok\n"},
		{path: "/readyz", status: http.StatusOK, body: "ready\n"},
		{path: "/play/start", status: http.StatusNotFound},
		{path: "/metrics", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set("Origin", "https://play.example.com")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != tc.status {
			t.Fatalf("%s: status=%d want=%d", tc.path, rr.Code, tc.status)
		}
		if tc.body != "" && rr.Body.String() != tc.body {
			t.Fatalf("%s: body=%q want=%q", tc.path, rr.Body.String(), tc.body)
		}
		if rr.Header().Get("X-Frame-Options") != "DENY" || rr.Header().Get("Access-Control-Allow-Origin") != "https://play.example.com" {
			t.Fatalf("%s: missing baseline headers: %v", tc.path, rr.Header())
		}
	}
}

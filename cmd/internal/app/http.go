package app

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"playgate/cmd/internal/observability"
	playapi "playgate/cmd/internal/play/api"
	"playgate/cmd/internal/realtime"
)

type routeDeps struct {
	play     *playapi.Handler
	ws       *realtime.WSGateway
	metrics  *observability.Metrics
	backends *backends
}

// newRouter mounts every route and wraps the router with the request-scoped
// middleware: request id, access log, security headers and CORS.
func newRouter(cfg Config, log Logger, d routeDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		dbEnabled := d.backends != nil && d.backends.dbEnabled()
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled {
			if err := d.backends.Ping(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "store", d.backends.kind, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.metrics.Handler())
	}

	if d.play != nil {
		d.play.Routes(r)
		r.Group(func(r chi.Router) {
			r.Use(withoutWriteDeadline)
			d.play.AssetRoutes(r)
		})
	}
	if d.ws != nil {
		r.With(withoutWriteDeadline).Get("/play/events", d.ws.HandleWS)
	}

	var h http.Handler = r
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, log)
	return middleware.RequestID(h)
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// eventsURL is the event stream endpoint advertised for a listen address.
func eventsURL(addr string) string {
	return wsBaseURL(runtimeBaseURL(addr)) + "/play/events"
}

// wsBaseURL maps an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(base, "//")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// Package playapi is the HTTP surface of play sessions and asset streaming.
package playapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"playgate/cmd/internal/catalog"
	"playgate/cmd/internal/play/asset"
	"playgate/cmd/internal/play/session"
	"playgate/cmd/internal/ratelimit"
)

// Sessions is the lifecycle side of session.Manager.
type Sessions interface {
	Start(ctx context.Context, now time.Time, principalID, resourceID string) (session.Grant, error)
	Heartbeat(ctx context.Context, now time.Time, sessionID, principalID, resourceID string) (session.Grant, error)
	Stop(ctx context.Context, now time.Time, sessionID, principalID string) error
}

// TokenVerifier checks bearer tokens. session.TokenIssuer satisfies it.
type TokenVerifier interface {
	Verify(token string, now time.Time) (session.Claims, error)
}

// AssetServer streams one asset for a verified session.
type AssetServer interface {
	Serve(w http.ResponseWriter, r *http.Request, now time.Time, p session.Payload, assetID string) error
}

// Observer receives HTTP-level metrics.
type Observer interface {
	ObserveRateLimited(route string)
	ObserveAsset(status int, bytes int64)
}

type Deps struct {
	Sessions Sessions
	Tokens   TokenVerifier
	Assets   AssetServer
	Audit    AuditSink
	Metrics  Observer
	Logger   *slog.Logger
}

// Handler wires the play routes to the session manager and asset gateway.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions Sessions
	tokens   TokenVerifier
	assets   AssetServer
	audit    AuditSink
	metrics  Observer

	heartbeatLimit *ratelimit.Keyed
	assetLimit     *ratelimit.Keyed

	now func() time.Time
}

func NewHandler(cfg Config, d Deps) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Sessions == nil || d.Tokens == nil || d.Assets == nil {
		return nil, fmt.Errorf("%w: missing handler dependency", ErrConfig)
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	audit := d.Audit
	if audit == nil {
		audit = LogAudit{Log: log}
	}
	return &Handler{
		log:            log,
		cfg:            cfg,
		sessions:       d.Sessions,
		tokens:         d.Tokens,
		assets:         d.Assets,
		audit:          audit,
		metrics:        d.Metrics,
		heartbeatLimit: ratelimit.NewKeyed(cfg.HeartbeatLimit, cfg.HeartbeatWindow),
		assetLimit:     ratelimit.NewKeyed(cfg.AssetLimit, cfg.AssetWindow),
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Routes mounts the session lifecycle endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/play/start", h.handleStart)
	r.Post("/play/heartbeat", h.handleHeartbeat)
	r.Post("/play/stop", h.handleStop)
}

// AssetRoutes mounts the streaming asset endpoint. It is separate so callers
// can give it its own write deadline.
func (h *Handler) AssetRoutes(r chi.Router) {
	r.Get("/assets/{assetId}", h.handleAsset)
}

// ---- handlers ----

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	principal, err := uuid.Parse(strings.TrimSpace(r.Header.Get(h.cfg.PrincipalHeader)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_principal", h.cfg.PrincipalHeader+" must be a UUID")
		return
	}

	var req startRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	resourceID, err := catalog.NormalizeID(req.resourceID())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_resource", "resourceId must be a UUID")
		return
	}

	ctx := r.Context()
	g, err := h.sessions.Start(ctx, h.now(), principal.String(), resourceID)
	if err != nil {
		h.writeSessionError(w, "start", err)
		return
	}

	h.audit.Record(ctx, AuditEntry{
		Action:      "play.start",
		PrincipalID: principal.String(),
		SessionID:   g.SessionID,
		IP:          clientIP(r, h.cfg.TrustProxy),
		UserAgent:   r.UserAgent(),
		Meta:        map[string]any{"resource_id": resourceID},
	})
	writeJSON(w, http.StatusOK, startResponse{
		SessionToken:         g.Token,
		HeartbeatIntervalSec: g.HeartbeatIntervalSec,
		SessionID:            g.SessionID,
		ExpiresAt:            g.SessionExpiresAt,
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allow(w, r, h.heartbeatLimit, "heartbeat", now) {
		return
	}
	claims, ok := h.requireSession(w, r, now)
	if !ok {
		return
	}

	g, err := h.sessions.Heartbeat(r.Context(), now, claims.SessionID, claims.PrincipalID, claims.ResourceID)
	if err != nil {
		h.writeSessionError(w, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{SessionToken: g.Token, ExpiresAt: g.SessionExpiresAt})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	claims, ok := h.requireSession(w, r, now)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.Stop(ctx, now, claims.SessionID, claims.PrincipalID); err != nil {
		h.writeSessionError(w, "stop", err)
		return
	}
	h.audit.Record(ctx, AuditEntry{
		Action:      "play.stop",
		PrincipalID: claims.PrincipalID,
		SessionID:   claims.SessionID,
		IP:          clientIP(r, h.cfg.TrustProxy),
		UserAgent:   r.UserAgent(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAsset(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allow(w, r, h.assetLimit, "assets", now) {
		return
	}
	claims, ok := h.requireSession(w, r, now)
	if !ok {
		h.observeAsset(http.StatusUnauthorized)
		return
	}

	assetID := strings.TrimSpace(chi.URLParam(r, "assetId"))
	if err := h.assets.Serve(w, r, now, claims.Payload, assetID); err != nil {
		h.observeAsset(h.writeSessionError(w, "asset", err))
	}
}

// ---- helpers ----

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request, now time.Time) (session.Claims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.Claims{}, false
	}
	claims, err := h.tokens.Verify(tok, now)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return session.Claims{}, false
	}
	return claims, true
}

// writeSessionError maps domain errors onto statuses and returns the status
// written.
func (h *Handler) writeSessionError(w http.ResponseWriter, op string, err error) int {
	var denied session.BillingDeniedError
	switch {
	case errors.Is(err, session.ErrBillingUnavailable):
		h.log.Warn("play."+op+".billing_unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "billing_unavailable", "billing provider unavailable, retry later")
		return http.StatusServiceUnavailable
	case session.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", "session is not active")
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrPrincipalBlocked):
		writeError(w, http.StatusForbidden, "principal_blocked", "principal is blocked")
		return http.StatusForbidden
	case errors.Is(err, session.ErrRenewalLimit):
		writeError(w, http.StatusForbidden, "renewal_limit", "session renewal limit reached")
		return http.StatusForbidden
	case errors.As(err, &denied):
		writeError(w, http.StatusForbidden, "billing_denied", "billing denied: "+denied.Verdict.String())
		return http.StatusForbidden
	case session.IsForbidden(err):
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
		return http.StatusForbidden
	case errors.Is(err, session.ErrPrincipalNotFound):
		writeError(w, http.StatusNotFound, "principal_not_found", "principal not found")
		return http.StatusNotFound
	case errors.Is(err, session.ErrResourceNotFound):
		writeError(w, http.StatusNotFound, "resource_not_found", "resource not found or inactive")
		return http.StatusNotFound
	case errors.Is(err, asset.ErrNotFound):
		writeError(w, http.StatusNotFound, "asset_not_found", "asset not found")
		return http.StatusNotFound
	default:
		h.log.Error("play."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return http.StatusInternalServerError
	}
}

func (h *Handler) observeAsset(status int) {
	if h.metrics != nil {
		h.metrics.ObserveAsset(status, 0)
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

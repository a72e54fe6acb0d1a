package playapi

import (
	"net/http"
	"strconv"
	"time"

	"playgate/cmd/internal/ratelimit"
)

// allow applies a per-client-IP limit. Requests without a resolvable IP
// share one bucket.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, l *ratelimit.Keyed, route string, now time.Time) bool {
	key := "unknown"
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		key = ip.String()
	}
	ok, retryAfter := l.Reserve(key, now)
	if ok {
		return true
	}
	if h.metrics != nil {
		h.metrics.ObserveRateLimited(route)
	}
	h.log.Info("play.rate_limited", "route", route, "client", key, "retry_after_ms", retryAfter.Milliseconds())
	writeRateLimited(w, retryAfter)
	return false
}

// writeRateLimited rounds Retry-After up to whole seconds, at least 1.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

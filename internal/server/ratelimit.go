package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/resilience"
)

// withLimit applies a sliding-window limiter to a handler. Authenticated
// requests key by user id, everything else by source IP, so one noisy
// client cannot starve the rest.
func (s *Server) withLimit(limiter *resilience.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := limiter.Admit(identityKey(r))
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter.Seconds(),
			})
			return
		}
		next(w, r)
	}
}

// identityKey derives the rate-limit identity: user id when the gateway
// authenticated the request, source IP otherwise.
func identityKey(r *http.Request) string {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

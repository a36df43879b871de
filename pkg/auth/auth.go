// Package auth guards the control API with API keys, origin checks and
// per-key rate limits.
package auth

import (
	"net/http"
	"strings"

	"feedforge/pkg/logger"
	"feedforge/pkg/utils"
)

// Role is the access level granted by an API key.
type Role int

const (
	RoleUnauth Role = iota
	RoleBackend
	RoleAdmin
)

// SecConfig is the security posture of the HTTP surface.
type SecConfig struct {
	AllowedOrigins []string
	BackendKeys    []string
	AdminKeys      []string
	RPS            float64
	Burst          int
}

func apiKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func resolveRole(key string, cfg SecConfig) Role {
	for _, k := range cfg.AdminKeys {
		if k != "" && k == key {
			return RoleAdmin
		}
	}
	for _, k := range cfg.BackendKeys {
		if k != "" && k == key {
			return RoleBackend
		}
	}
	return RoleUnauth
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// open paths reachable without a key: probes and the nonce-guarded
// continuation endpoint.
func openPath(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz" && r.Method == http.MethodGet:
		return true
	case r.URL.Path == "/readyz" && r.Method == http.MethodGet:
		return true
	case r.URL.Path == "/metrics" && r.Method == http.MethodGet:
		return true
	case r.URL.Path == "/internal/feeds/continue":
		return true
	}
	return false
}

// Middleware authenticates requests and applies the per-key rate limit.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if openPath(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := apiKey(r)
			role := resolveRole(key, cfg)
			if role == RoleUnauth {
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}

			if !limiters.Allow(key) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "path", r.URL.Path)
				return
			}

			if role == RoleAdmin {
				r.Header.Set("X-Role-Name", "admin")
			} else {
				r.Header.Set("X-Role-Name", "backend")
			}
			next.ServeHTTP(w, r)
		})
	}
}

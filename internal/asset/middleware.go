package asset

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// secure applies the asset security chain: session token, Origin
// allow-list, Referer prefix check, then the hardening headers.
func (s *Server) secure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Session-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !tokenEqual(token, s.token) {
			s.logger.Debug("asset request rejected", zap.String("reason", "token"))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" && !s.originAllowed(origin) {
			s.logger.Debug("asset request rejected",
				zap.String("reason", "origin"), zap.String("origin", origin))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if referer := r.Header.Get("Referer"); referer != "" && !s.refererAllowed(referer) {
			s.logger.Debug("asset request rejected",
				zap.String("reason", "referer"), zap.String("referer", referer))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "private, no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) refererAllowed(referer string) bool {
	for _, allowed := range s.allowOrigins {
		if strings.HasPrefix(referer, allowed) {
			return true
		}
	}
	return false
}

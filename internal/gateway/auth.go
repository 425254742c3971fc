package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ═══════════════════════════════════════════════════════════════════════════════

// requireAuth checks the bearer token against the configured bcrypt hash.
// An empty hash disables authentication entirely, which is the default
// for the loopback-only listener.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.cfg.AuthTokenHash == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthTokenHash), []byte(token)) != nil {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rejected bearer token")
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header; empty
// when the header is missing or not a bearer scheme.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// HashToken produces the bcrypt hash stored in gateway.auth_token_hash.
// The CLI calls this when provisioning a token; the plaintext is never
// written to disk.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

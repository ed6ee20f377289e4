package web

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"contentcal/internal/auth"
	appLog "contentcal/internal/log"
)

// corsMiddleware lets the browser UI and the client talk to the API from
// any origin. Preflight requests are answered directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match")
		h.Set("Access-Control-Expose-Headers", "ETag")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 사용자명이 없거나 비밀번호/해시가 모두 비어 있으면 비활성화.
	ba := s.cfg.BasicAuth
	return ba.Username != "" && (ba.Password != "" || ba.PasswordHash != "")
}

// basicAuthMiddleware wraps all handlers except /health and CORS preflight
// with HTTP Basic Auth. A PasswordHash takes precedence over Password.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !s.checkPassword(p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ContentCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkPassword(p string) bool {
	hash := s.cfg.BasicAuth.PasswordHash
	if hash == "" {
		return secureCompare(p, s.cfg.BasicAuth.Password)
	}

	// Passwords that already matched skip the argon2id check.
	sum := sha256.Sum256([]byte(p))
	key := hex.EncodeToString(sum[:])
	if _, hit := s.verified.Load(key); hit {
		return true
	}
	ok, err := auth.VerifyPassword(p, hash)
	if err != nil {
		appLog.Error("basic auth: password hash unusable", err)
		return false
	}
	if ok {
		s.verified.Store(key, struct{}{})
	}
	return ok
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

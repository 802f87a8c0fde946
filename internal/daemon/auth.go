package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware guards an API handler with a bearer token. An empty token
// disables authentication, the default for a local single-user daemon.
// Token comparison is constant-time so the check does not leak how much of
// a guess matched.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

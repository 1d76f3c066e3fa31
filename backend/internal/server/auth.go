// Bearer token authentication middleware, gating the engine's external
// command surface per spec.md §6 ("API bearer auth").
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mux-run/mux/backend/internal/apierror"
)

// bearerAuth wraps next, rejecting requests whose Authorization header does
// not carry token via the "Bearer " scheme. An empty token disables auth
// entirely (local/dev use), matching how the teacher's server binds to
// localhost by default without a token.
func bearerAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		hdr := r.Header.Get("Authorization")
		if !strings.HasPrefix(hdr, prefix) {
			writeError(w, apierror.Unauthorized("missing bearer token"))
			return
		}
		got := strings.TrimPrefix(hdr, prefix)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, apierror.Unauthorized("invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

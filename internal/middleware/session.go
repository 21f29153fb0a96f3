package middleware

import (
	"net/http"

	"github.com/dukerupert/latchkey/internal/auth"
)

// WithUser resolves the session cookie and, when valid, stores the user id
// on the request context. It never rejects: handlers that care about
// identity read it from the context, everything else stays anonymous.
func WithUser(sessions *auth.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid := sessions.Parse(r); uid != 0 {
				r = r.WithContext(auth.WithUserID(r.Context(), uid))
			}
			next.ServeHTTP(w, r)
		})
	}
}

package auth

import (
	"context"
	"net/http"
	"strings"
)

type sessionKey struct{}

// RequireSession validates the Bearer JWT issued by Login and places the
// resulting Session in request context. Used by dashboard endpoints; the
// programmatic API authenticates with API keys instead.
func RequireSession(svc Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if len(h) < 8 || !strings.EqualFold(h[:7], "bearer ") {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			sess, err := svc.ValidateToken(r.Context(), strings.TrimSpace(h[7:]))
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
		})
	}
}

// SessionFromCtx returns the validated session or nil.
func SessionFromCtx(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

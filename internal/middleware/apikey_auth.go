package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/repository"
)

type contextKey string

const (
	ctxTeamKey   contextKey = "team"
	ctxAPIKeyKey contextKey = "api_key"
)

// APIKeyRepo is the interface used by API key auth middleware.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*repository.APIKeyWithTeam, error)
}

// APIKeyAuth authenticates requests by hashing the Bearer token (SHA-256)
// and looking it up in api_keys. On success it sets the owning team and
// the key into request context.
func APIKeyAuth(apiKeyRepo APIKeyRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			hash := hashKey(raw)
			result, err := apiKeyRepo.FindByKeyHash(r.Context(), hash)
			if err != nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxTeamKey, &result.Team)
			ctx = context.WithValue(ctx, ctxAPIKeyKey, &result.Key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TeamFromCtx returns the authenticated team or nil.
func TeamFromCtx(ctx context.Context) *models.Team {
	t, _ := ctx.Value(ctxTeamKey).(*models.Team)
	return t
}

// WithTeam returns a context carrying the given team.
func WithTeam(ctx context.Context, t *models.Team) context.Context {
	return context.WithValue(ctx, ctxTeamKey, t)
}

// KeyFromCtx returns the API key used to authenticate, or nil.
func KeyFromCtx(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(ctxAPIKeyKey).(*models.APIKey)
	return k
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

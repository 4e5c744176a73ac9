package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/httputil"
	"github.com/haulhub/backend/internal/models"
)

type contextKey string

const ctxActorKey contextKey = "actor"

// Actor is the authenticated caller.
type Actor struct {
	ID   uuid.UUID
	Role models.Role
}

// TokenValidator resolves a bearer token to a user id and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// Authenticate requires a valid bearer JWT and stores the Actor in the request context.
func Authenticate(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				httputil.Unauthorized(w, "missing or malformed Authorization header")
				return
			}
			id, role, err := v.ValidateToken(r.Context(), raw)
			if err != nil || id == uuid.Nil {
				httputil.Unauthorized(w, "invalid token")
				return
			}
			ctx := WithActor(r.Context(), &Actor{ID: id, Role: models.Role(role)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromCtx returns the authenticated actor or nil.
func ActorFromCtx(ctx context.Context) *Actor {
	a, _ := ctx.Value(ctxActorKey).(*Actor)
	return a
}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, a)
}

// ArbiterKey guards the arbitration surface with a static API key, compared by SHA-256 digest.
// An empty configured key rejects every request.
func ArbiterKey(key string) func(http.Handler) http.Handler {
	want := hashKey(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if key == "" || raw == "" {
				httputil.Unauthorized(w, "arbiter key required")
				return
			}
			got := hashKey(raw)
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				httputil.Unauthorized(w, "invalid arbiter key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func hashKey(raw string) [32]byte {
	return sha256.Sum256([]byte(raw))
}

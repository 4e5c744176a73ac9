package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/models"
)

type stubValidator struct {
	id   uuid.UUID
	role string
	err  error
}

func (s stubValidator) ValidateToken(_ context.Context, _ string) (uuid.UUID, string, error) {
	return s.id, s.role, s.err
}

// actorEcho writes the actor's role so tests can assert on it.
var actorEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if a := ActorFromCtx(r.Context()); a != nil {
		w.Write([]byte(a.Role))
	}
})

func TestAuthenticateValidToken(t *testing.T) {
	h := Authenticate(stubValidator{id: uuid.New(), role: "hauler"})(actorEcho)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.RoleHauler), rec.Body.String())
}

func TestAuthenticateRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		v      stubValidator
	}{
		{"missing header", "", stubValidator{id: uuid.New()}},
		{"not bearer", "Basic abc", stubValidator{id: uuid.New()}},
		{"invalid token", "Bearer bad", stubValidator{err: errors.New("signature is invalid")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Authenticate(tc.v)(actorEcho).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestArbiterKey(t *testing.T) {
	h := ArbiterKey("arbiter-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	cases := []struct {
		header string
		want   int
	}{
		{"Bearer arbiter-secret", http.StatusOK},
		{"Bearer wrong", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/admin/bookings/x/resolve", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.header)
	}
}

func TestArbiterKeyUnsetRejectsAll(t *testing.T) {
	h := ArbiterKey("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

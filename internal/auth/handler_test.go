package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/validator"
)

func TestRegisterAndLoginHandlers(t *testing.T) {
	_, svc := newTestService(t, 1)
	v, err := validator.New()
	require.NoError(t, err)
	h := NewHandler(svc, v, nil)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"pat@example.com","password":"longenough","display_name":"Pat","role":"client"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"pat@example.com","password":"longenough","display_name":"Pat","role":"client"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"pat@example.com","password":"longenough"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"pat@example.com","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	_, svc := newTestService(t, 1)
	v, err := validator.New()
	require.NoError(t, err)
	h := NewHandler(svc, v, nil)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"x@example.com","password":"longenough","display_name":"X","role":"admin"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/apperr"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.InsufficientFunds("short"), http.StatusPaymentRequired},
		{apperr.Forbidden("nope"), http.StatusForbidden},
		{apperr.KYCRequired("verify first"), http.StatusForbidden},
		{apperr.NotFound("booking"), http.StatusNotFound},
		{apperr.Conflict("taken"), http.StatusConflict},
		{apperr.InvalidState("wrong state"), http.StatusConflict},
		{apperr.Unauthenticated("wrong pin"), http.StatusUnprocessableEntity},
		{apperr.Precondition("missing evidence"), http.StatusUnprocessableEntity},
		{apperr.Throttled("slow down"), http.StatusTooManyRequests},
		{fmt.Errorf("wrapped: %w", apperr.Conflict("x")), http.StatusConflict},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, nil, tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, errors.New("pq: connection reset"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "internal_error", body.Error)
	assert.Equal(t, "internal error", body.Message)
}

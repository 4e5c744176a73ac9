// Package httputil writes JSON responses and maps domain errors onto HTTP statuses.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haulhub/backend/internal/apperr"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.KindAuthorization, apperr.KindKYCRequired:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindAuthentication, apperr.KindPrecondition:
		return http.StatusUnprocessableEntity
	case apperr.KindThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err. Internal and invariant errors are logged and hidden from the caller.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if log == nil {
			log = slog.Default()
		}
		log.Error("request failed", "kind", string(kind), "error", err)
		msg = "internal error"
	}
	WriteJSON(w, status, ErrorResponse{Error: string(kind), Message: msg})
}

// Unauthorized is used when no principal could be established.
func Unauthorized(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: msg})
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return apperr.Validation("invalid JSON at offset %d", syn.Offset)
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

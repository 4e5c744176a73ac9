package bookings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/validator"
)

func newTestHandler(t *testing.T) (*Handler, *env) {
	t.Helper()
	e := newEnv(t)
	v, err := validator.New()
	require.NoError(t, err)
	return NewHandler(e.svc, v, nil), e
}

func call(fn http.HandlerFunc, method, target, body string, actor uuid.UUID, path map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), &middleware.Actor{ID: actor}))
	for k, v := range path {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestPickupCodeVisibleToHaulerOnly(t *testing.T) {
	h, e := newTestHandler(t)
	hd := e.hire(t)
	path := map[string]string{"id": hd.booking.ID.String()}

	var view map[string]any
	rec := call(h.Get, http.MethodGet, "/bookings/x", "", hd.hauler, path)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, hd.booking.PickupCode, view["pickup_code"])
	assert.Equal(t, "150.00", view["amount"])

	view = nil
	rec = call(h.Get, http.MethodGet, "/bookings/x", "", hd.client, path)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.NotContains(t, view, "pickup_code")

	rec = call(h.Get, http.MethodGet, "/bookings/x", "", uuid.New(), path)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConfirmPickupStatuses(t *testing.T) {
	h, e := newTestHandler(t)
	hd := e.hire(t)
	path := map[string]string{"id": hd.booking.ID.String()}

	rec := call(h.ConfirmPickup, http.MethodPost, "/", `{"pin":"12"}`, hd.client, path)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.ConfirmPickup, http.MethodPost, "/", `{"pin":"`+wrongCode(hd.booking.PickupCode)+`"}`, hd.client, path)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = call(h.ConfirmPickup, http.MethodPost, "/", `{"pin":"`+hd.booking.PickupCode+`"}`, hd.client, path)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "in_progress", view["status"])
}

func TestMarkDoneWithoutEvidenceIs422(t *testing.T) {
	h, e := newTestHandler(t)
	hd := e.inProgress(t)

	rec := call(h.MarkDone, http.MethodPost, "/", "", hd.hauler, map[string]string{"id": hd.booking.ID.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAmendmentFlowOverHTTP(t *testing.T) {
	h, e := newTestHandler(t)
	hd := e.hire(t)
	path := map[string]string{"id": hd.booking.ID.String()}

	rec := call(h.RequestAmendment, http.MethodPost, "/", `{"proposed_amount":"400.00","reason":"second truck"}`, hd.hauler, path)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Len(t, created.Amendments, 1)

	path["aid"] = created.Amendments[0].ID.String()
	rec = call(h.RespondAmendment, http.MethodPatch, "/", `{"action":"accept"}`, hd.client, path)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = call(h.RespondAmendment, http.MethodPatch, "/", `{"action":"reject"}`, hd.client, path)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.AmendmentRejected, e.booking(t, hd.booking.ID).Amendments[0].Status)
}

func TestResolveOverHTTP(t *testing.T) {
	h, e := newTestHandler(t)
	hd := e.pendingCompletion(t)
	_, err := e.svc.OpenDispute(t.Context(), hd.client, hd.booking.ID, "broken lamp")
	require.NoError(t, err)

	rec := call(h.Resolve, http.MethodPost, "/", `{"outcome":"nobody"}`, uuid.Nil, map[string]string{"id": hd.booking.ID.String()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.Resolve, http.MethodPost, "/", `{"outcome":"client","note":"lamp was broken"}`, uuid.Nil, map[string]string{"id": hd.booking.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.BookingResolvedClient, e.booking(t, hd.booking.ID).Status)
}

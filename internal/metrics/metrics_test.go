package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/", canonicalPath("/"))
	assert.Equal(t, "/bookings/:id/confirm-pickup", canonicalPath("/bookings/5f0c7d1e-8f7a-4c55-9d0e-3f1b2a4c6d8e/confirm-pickup"))
	assert.Equal(t, "/jobs", canonicalPath("/jobs/"))
}

func TestInstrumentHandlerCountsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/teapot", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/teapot", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/teapot", "418")))
}

func TestRecordTransfer(t *testing.T) {
	before := testutil.ToFloat64(ledgerCents.WithLabelValues("escrow_lock"))
	RecordTransfer("escrow_lock", 15000)
	assert.Equal(t, before+15000, testutil.ToFloat64(ledgerCents.WithLabelValues("escrow_lock")))
}

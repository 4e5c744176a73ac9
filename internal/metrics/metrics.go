// Package metrics owns the Prometheus registry and the marketplace collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "haulhub"

var (
	// Registry holds the application collectors; it is served at /metrics.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Lifecycle transitions by entity and target status.",
	}, []string{"entity", "to"})

	ledgerTransfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transfers_total",
		Help:      "Ledger transfers by transaction type.",
	}, []string{"type"})

	ledgerCents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transfer_cents_total",
		Help:      "Minor units moved by transaction type.",
	}, []string{"type"})

	ledgerInvariant = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "invariant_violations_total",
		Help:      "Transfers rejected because a non-spendable bucket would go negative.",
	})

	sweepItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "items_total",
		Help:      "Items handled by scheduler sweeps by outcome.",
	}, []string{"sweep", "outcome"})

	pickupAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bookings",
		Name:      "pickup_attempts_total",
		Help:      "Pickup code confirmations by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transitions,
		ledgerTransfers,
		ledgerCents,
		ledgerInvariant,
		sweepItems,
		pickupAttempts,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordTransition(entity, to string) {
	transitions.WithLabelValues(entity, to).Inc()
}

func RecordTransfer(txType string, cents int64) {
	ledgerTransfers.WithLabelValues(txType).Inc()
	ledgerCents.WithLabelValues(txType).Add(float64(cents))
}

func RecordInvariantViolation() { ledgerInvariant.Inc() }

// RecordSweepItem counts one item of a scheduler sweep; outcome is "done", "skipped" or "failed".
func RecordSweepItem(sweep, outcome string) {
	sweepItems.WithLabelValues(sweep, outcome).Inc()
}

func RecordPickupAttempt(ok bool) {
	pickupAttempts.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// InstrumentHandler wraps next with HTTP request metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath replaces identifier segments so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(seg string) bool {
	if len(seg) == 36 && strings.Count(seg, "-") == 4 {
		return true
	}
	_, err := strconv.ParseUint(seg, 10, 64)
	return err == nil
}

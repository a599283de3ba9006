package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openradius_billing"

// Metrics holds the collectors shared by the billing components. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	activationTransitions *prometheus.CounterVec
	externalCallDuration  *prometheus.HistogramVec
	externalRetries       prometheus.Counter
	activationsInFlight   prometheus.Gauge
	ledgerEntries         *prometheus.CounterVec
	ledgerReversals       prometheus.Counter
	reservationsSwept     prometheus.Counter
	syncRecords           *prometheus.CounterVec
	httpRequests          *prometheus.CounterVec
}

// MustNew registers the collectors on reg and panics on a registration
// conflict. Tests pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activationTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activation",
			Name:      "transitions_total",
			Help:      "Billing activation state transitions by target status.",
		}, []string{"status"}),
		externalCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "activation",
			Name:      "external_call_duration_seconds",
			Help:      "Latency of subscriber-management profile changes by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		externalRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activation",
			Name:      "retries_scheduled_total",
			Help:      "Retries scheduled after a retryable external failure.",
		}),
		activationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "activation",
			Name:      "external_calls_in_flight",
			Help:      "External calls currently awaiting a response.",
		}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger transactions written by type and amount type.",
		}, []string{"type", "amount_type"}),
		ledgerReversals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reversals_total",
			Help:      "Reversal transactions written.",
		}),
		reservationsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "reservations_swept_total",
			Help:      "Stale wallet reservations released by the sweeper.",
		}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Synced records by phase and result (new, updated, failed).",
		}, []string{"phase", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		m.activationTransitions,
		m.externalCallDuration,
		m.externalRetries,
		m.activationsInFlight,
		m.ledgerEntries,
		m.ledgerReversals,
		m.reservationsSwept,
		m.syncRecords,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) ActivationTransition(status string) {
	if m == nil {
		return
	}
	m.activationTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveExternalCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.externalCallDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.externalRetries.Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.activationsInFlight.Inc()
}

func (m *Metrics) CallFinished() {
	if m == nil {
		return
	}
	m.activationsInFlight.Dec()
}

func (m *Metrics) LedgerEntry(txType, amountType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(txType, amountType).Inc()
}

func (m *Metrics) LedgerReversal() {
	if m == nil {
		return
	}
	m.ledgerReversals.Inc()
}

func (m *Metrics) ReservationsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reservationsSwept.Add(float64(n))
}

func (m *Metrics) SyncRecord(phase, result string) {
	if m == nil {
		return
	}
	m.syncRecords.WithLabelValues(phase, result).Inc()
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (r *codeRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests by method and status code.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.code)).Inc()
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

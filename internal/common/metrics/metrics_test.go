package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.ActivationTransition("completed")
	m.ActivationTransition("completed")
	m.RetryScheduled()
	m.LedgerEntry("payment", "debit")
	m.ReservationsSwept(3)
	m.ObserveExternalCall("success", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.activationTransitions.WithLabelValues("completed")); got != 2 {
		t.Errorf("expected 2 completed transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.externalRetries); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.reservationsSwept); got != 3 {
		t.Errorf("expected 3 swept, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ActivationTransition("failed")
	m.CallStarted()
	m.CallFinished()
	m.LedgerReversal()

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Errorf("nil middleware must pass through, got %d", rr.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/activations", nil))

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	if !strings.Contains(body, `openradius_billing_http_requests_total{code="202",method="POST"} 1`) {
		t.Errorf("expected request counter in output, got:\n%s", body)
	}
}

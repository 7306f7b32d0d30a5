package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestLifecycleCounters(t *testing.T) {
	m := New()

	m.RequestStarted()
	if got := testutil.ToFloat64(m.requestsInFlight); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}
	m.RequestSettled(OutcomeTransportError, 20*time.Millisecond)
	if got := testutil.ToFloat64(m.requestsInFlight); got != 0 {
		t.Fatalf("expected 0 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.submissionsTotal.WithLabelValues(OutcomeTransportError)); got != 1 {
		t.Fatalf("expected 1 transport error, got %v", got)
	}

	m.ObserveSelection("drop", false)
	if got := testutil.ToFloat64(m.selectionsTotal.WithLabelValues("drop", "false")); got != 1 {
		t.Fatalf("expected 1 rejected drop, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RequestStarted()
	m.RequestSettled(OutcomeSuccess, time.Second)
	m.StaleResultDiscarded()
	m.ObserveSelection("picker", true)
	m.SessionOpened()
	m.SessionClosed()
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.StaleResultDiscarded()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "canecheck_stale_results_total 1") {
		t.Fatalf("expected stale result counter in output, got:\n%s", body)
	}
}

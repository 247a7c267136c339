package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ==============================================================================
// Unit Tests: Collectors
// ==============================================================================

func TestNew_IsolatedInstances(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Two instances must not share a registry; a second New() would panic on
	// the default registry.
	a := New()
	b := New()

	a.EventsReceived.WithLabelValues("purchase").Inc()

	if got := testutil.ToFloat64(a.EventsReceived.WithLabelValues("purchase")); got != 1 {
		t.Errorf("events_received_total = %v, want 1", got)
	}

	if got := testutil.ToFloat64(b.EventsReceived.WithLabelValues("purchase")); got != 0 {
		t.Errorf("second instance events_received_total = %v, want 0", got)
	}
}

func TestMetrics_LabelCardinality(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := New()

	m.EventsProcessed.WithLabelValues("purchase").Inc()
	m.EventsFailed.WithLabelValues("purchase", "validation").Inc()
	m.EventsFailed.WithLabelValues("purchase", "persist").Inc()
	m.EventsDuplicate.WithLabelValues("page_view").Inc()
	m.QueueDepth.Set(7)
	m.ActiveWorkers.Inc()

	if got := testutil.ToFloat64(m.EventsFailed.WithLabelValues("purchase", "validation")); got != 1 {
		t.Errorf("events_failed_total{validation} = %v, want 1", got)
	}

	if got := testutil.ToFloat64(m.QueueDepth); got != 7 {
		t.Errorf("queue_depth = %v, want 7", got)
	}
}

// ==============================================================================
// Unit Tests: Scrape Endpoint
// ==============================================================================

func TestRegistry_ServesPrometheusText(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := New()
	m.EventsReceived.WithLabelValues("custom").Inc()
	m.ProcessingDuration.WithLabelValues("custom").Observe(0.25)
	m.QueueWaitTime.Observe(2.5)

	handler := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, metric := range []string{
		`events_received_total{kind="custom"} 1`,
		"event_processing_duration_seconds_bucket",
		"event_queue_wait_time_seconds_bucket",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("scrape output missing %q", metric)
		}
	}
}

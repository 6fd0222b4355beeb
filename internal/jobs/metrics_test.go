package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, registry *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	require.NoError(t, m.Track("ledger:integrity").End(nil))
	failure := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:integrity").End(failure), failure)

	body := scrape(t, registry)
	require.Contains(t, body, `odyssey_jobs_total{job="ledger:integrity",status="success"} 1`)
	require.Contains(t, body, `odyssey_jobs_total{job="ledger:integrity",status="failure"} 1`)
	require.Contains(t, body, `odyssey_jobs_failures_total{job="ledger:integrity"} 1`)
	require.Contains(t, body, `odyssey_job_duration_seconds_count{job="ledger:integrity"} 2`)
}

func TestAddIntegrityViolations(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.AddIntegrityViolations("unbalanced_posting", 3, 2)
	m.AddIntegrityViolations("", 0, 1)
	m.AddIntegrityViolations("empty_posting", 3, 0)

	body := scrape(t, registry)
	require.Contains(t, body, `odyssey_ledger_integrity_violations_total{company="3",kind="unbalanced_posting"} 2`)
	require.Contains(t, body, `odyssey_ledger_integrity_violations_total{company="0",kind="unknown"} 1`)
	require.NotContains(t, body, `kind="empty_posting"`)
}

func TestNilMetricsTrack(t *testing.T) {
	var m *Metrics
	failure := errors.New("boom")
	require.ErrorIs(t, m.Track("recurring:post").End(failure), failure)
	m.AddIntegrityViolations("unbalanced_posting", 1, 1)
}

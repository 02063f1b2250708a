package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	// None of these may panic on a nil receiver.
	m.JobFinished("completed", 1.2)
	m.JobFailed("timeout")
	m.VerdictRecorded("0", 0, 0.01)
	m.StoreError()
	m.WorkerStarted()
	m.WorkerDone()
}

func TestMetricsExposed(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())
	m.JobFinished("completed", 0.5)
	m.JobFailed("missing_artifact")
	m.VerdictRecorded("1", 2, 0.001)
	m.WorkerStarted()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`aurora_jobs_total{status="completed"} 1`,
		`aurora_job_failures_total{kind="missing_artifact"} 1`,
		`aurora_verdicts_total{exit_code="1"} 1`,
		`aurora_differences_total 2`,
		`aurora_active_workers 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

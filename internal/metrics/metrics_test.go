package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler()(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("POST", "/api/v1/jobs", 202, 100*time.Millisecond)
	m.RecordRequest("POST", "/api/v1/jobs", 202, 150*time.Millisecond)
	m.RecordRequest("POST", "/api/v1/jobs", 400, 5*time.Millisecond)

	body := scrape(t, m)

	if !strings.Contains(body, `mediafetch_http_requests_total{endpoint="/api/v1/jobs",method="POST"} 3`) {
		t.Errorf("expected request count 3, got:\n%s", body)
	}
	if !strings.Contains(body, "mediafetch_http_request_duration_seconds_bucket") {
		t.Error("expected duration histogram")
	}
	if !strings.Contains(body, `status_class="4xx"} 1`) {
		t.Errorf("expected one 4xx error, got:\n%s", body)
	}
}

func TestMetrics_JobLifecycle(t *testing.T) {
	m := New()

	m.JobSubmitted()
	m.PollTick()
	m.PollTick()
	m.CompletionTick()
	m.JobSucceeded(12 * time.Second)

	m.JobSubmitted()
	m.StaleResult()
	m.JobFailed("TRANSPORT_ERROR")

	body := scrape(t, m)

	for _, want := range []string{
		"mediafetch_jobs_submitted_total 2",
		"mediafetch_jobs_succeeded_total 1",
		"mediafetch_jobs_failed_total 1",
		"mediafetch_poll_ticks_total 2",
		"mediafetch_completion_ticks_total 1",
		"mediafetch_stale_results_discarded_total 1",
		"mediafetch_job_active 0",
		`mediafetch_job_failures_total{code="TRANSPORT_ERROR"} 1`,
		`mediafetch_job_duration_seconds_bucket{le="15"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in:\n%s", want, body)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.JobSubmitted()
	m.PollTick()
	m.JobFailed("REMOTE_ERROR")
	m.RecordRequest("GET", "/", 200, time.Millisecond)
	m.IncWSConnections()
}

func TestMetrics_WSConnections(t *testing.T) {
	m := New()

	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()

	if body := scrape(t, m); !strings.Contains(body, "mediafetch_websocket_connections_active 1") {
		t.Errorf("expected mediafetch_websocket_connections_active 1, got:\n%s", body)
	}
}

func TestMetrics_EndpointNormalization(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/history/123e4567-e89b-12d3-a456-426614174000", 200, 10*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/history/42", 200, 10*time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `endpoint="/api/v1/history/{id}",method="GET"} 2`) {
		t.Errorf("expected normalized endpoint /api/v1/history/{id}, got:\n%s", body)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := New()

	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/current", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", w.Code)
	}
	if body := scrape(t, m); !strings.Contains(body, `endpoint="/api/v1/jobs/current",method="DELETE"`) {
		t.Errorf("expected endpoint in metrics, got:\n%s", body)
	}
}

func TestMetrics_CustomCounter(t *testing.T) {
	m := New()

	m.IncCounter("archive_uploads")
	m.IncCounter("archive_uploads")

	if body := scrape(t, m); !strings.Contains(body, `mediafetch_counter{name="archive_uploads"} 2`) {
		t.Errorf("expected archive_uploads counter = 2, got:\n%s", body)
	}
}

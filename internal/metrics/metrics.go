package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const prefix = "mediafetch_"

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64    // endpoint:method:status_class -> count

	// Job lifecycle
	jobsSubmitted  uint64
	jobsSucceeded  uint64
	jobsFailed     uint64
	pollTicks      uint64
	completionTick uint64
	staleResults   uint64
	failures       map[string]*uint64 // error code -> count
	jobDuration    *Histogram

	activeWSConnections int64
	activeJob           int64

	// Custom counters
	counters map[string]*uint64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a histogram with request-latency buckets (5ms..10s)
func NewHistogram() *Histogram {
	return newHistogram([]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
}

func newHistogram(buckets []float64) *Histogram {
	return &Histogram{
		buckets:    buckets,
		bucketVals: make([]uint64, len(buckets)),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

func (h *Histogram) write(sb *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, bucket := range h.buckets {
		fmt.Fprintf(sb, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, bucket, h.bucketVals[i])
	}
	fmt.Fprintf(sb, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.count)
	if labels != "" {
		fmt.Fprintf(sb, "%s_sum{%s} %f\n", name, labels, h.sum)
		fmt.Fprintf(sb, "%s_count{%s} %d\n", name, labels, h.count)
	} else {
		fmt.Fprintf(sb, "%s_sum %f\n", name, h.sum)
		fmt.Fprintf(sb, "%s_count %d\n", name, h.count)
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		requestErrors:   make(map[string]*uint64),
		failures:        make(map[string]*uint64),
		counters:        make(map[string]*uint64),
		// Jobs run for seconds to many minutes
		jobDuration: newHistogram([]float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}),
		startTime:   time.Now(),
	}
}

func (m *Metrics) counter(set map[string]*uint64, key string) *uint64 {
	m.mu.RLock()
	c := set[key]
	m.mu.RUnlock()
	if c != nil {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c = set[key]; c == nil {
		c = new(uint64)
		set[key] = c
	}
	return c
}

// RecordRequest records a relay HTTP request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	atomic.AddUint64(m.counter(m.requestCount, key), 1)

	m.mu.Lock()
	h := m.requestDuration[key]
	if h == nil {
		h = NewHistogram()
		m.requestDuration[key] = h
	}
	m.mu.Unlock()
	h.Observe(duration.Seconds())

	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100)
		atomic.AddUint64(m.counter(m.requestErrors, errorKey), 1)
	}
}

// normalizeEndpoint collapses path segments that look like identifiers
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.activeWSConnections, 1)
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// JobSubmitted counts an accepted submit call and marks a job active
func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.jobsSubmitted, 1)
	atomic.StoreInt64(&m.activeJob, 1)
}

// JobSucceeded records a successful terminal outcome
func (m *Metrics) JobSucceeded(elapsed time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.jobsSucceeded, 1)
	atomic.StoreInt64(&m.activeJob, 0)
	if elapsed > 0 {
		m.jobDuration.Observe(elapsed.Seconds())
	}
}

// JobFailed records a failed terminal outcome under its error code
func (m *Metrics) JobFailed(code string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.jobsFailed, 1)
	atomic.StoreInt64(&m.activeJob, 0)
	atomic.AddUint64(m.counter(m.failures, code), 1)
}

// JobReset clears the active-job gauge
func (m *Metrics) JobReset() {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.activeJob, 0)
}

// PollTick counts one progress request
func (m *Metrics) PollTick() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.pollTicks, 1)
}

// CompletionTick counts one completion-check request
func (m *Metrics) CompletionTick() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.completionTick, 1)
}

// StaleResult counts a response discarded because its job was superseded
func (m *Metrics) StaleResult() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.staleResults, 1)
}

// IncCounter increments a named counter
func (m *Metrics) IncCounter(name string) {
	if m == nil {
		return
	}
	atomic.AddUint64(m.counter(m.counters, name), 1)
}

func writeScalar(sb *strings.Builder, name, kind, help string, value any) {
	fmt.Fprintf(sb, "# HELP %s%s %s\n", prefix, name, help)
	fmt.Fprintf(sb, "# TYPE %s%s %s\n", prefix, name, kind)
	fmt.Fprintf(sb, "%s%s %v\n\n", prefix, name, value)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		writeScalar(&sb, "uptime_seconds", "gauge", "Time since the process started",
			fmt.Sprintf("%f", time.Since(m.startTime).Seconds()))
		writeScalar(&sb, "websocket_connections_active", "gauge", "Active WebSocket connections",
			atomic.LoadInt64(&m.activeWSConnections))
		writeScalar(&sb, "job_active", "gauge", "Whether a job is currently tracked",
			atomic.LoadInt64(&m.activeJob))
		writeScalar(&sb, "jobs_submitted_total", "counter", "Jobs accepted for submission",
			atomic.LoadUint64(&m.jobsSubmitted))
		writeScalar(&sb, "jobs_succeeded_total", "counter", "Jobs that produced a download link",
			atomic.LoadUint64(&m.jobsSucceeded))
		writeScalar(&sb, "jobs_failed_total", "counter", "Jobs that ended in failure",
			atomic.LoadUint64(&m.jobsFailed))
		writeScalar(&sb, "poll_ticks_total", "counter", "Progress requests issued",
			atomic.LoadUint64(&m.pollTicks))
		writeScalar(&sb, "completion_ticks_total", "counter", "Completion-check requests issued",
			atomic.LoadUint64(&m.completionTick))
		writeScalar(&sb, "stale_results_discarded_total", "counter", "Responses dropped after their job was superseded",
			atomic.LoadUint64(&m.staleResults))

		sb.WriteString("# HELP " + prefix + "job_duration_seconds Time from submit to success\n")
		sb.WriteString("# TYPE " + prefix + "job_duration_seconds histogram\n")
		m.jobDuration.write(&sb, prefix+"job_duration_seconds", "")
		sb.WriteString("\n")

		m.mu.RLock()
		defer m.mu.RUnlock()

		if len(m.failures) > 0 {
			sb.WriteString("# HELP " + prefix + "job_failures_total Job failures by error code\n")
			sb.WriteString("# TYPE " + prefix + "job_failures_total counter\n")
			for _, code := range sortedKeys(m.failures) {
				fmt.Fprintf(&sb, "%sjob_failures_total{code=\"%s\"} %d\n", prefix, code, atomic.LoadUint64(m.failures[code]))
			}
			sb.WriteString("\n")
		}

		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP " + prefix + "http_requests_total Total HTTP requests\n")
			sb.WriteString("# TYPE " + prefix + "http_requests_total counter\n")
			for _, key := range sortedKeys(m.requestCount) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					fmt.Fprintf(&sb, "%shttp_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n", prefix, parts[0], parts[1], atomic.LoadUint64(m.requestCount[key]))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			sb.WriteString("# HELP " + prefix + "http_request_duration_seconds HTTP request latency\n")
			sb.WriteString("# TYPE " + prefix + "http_request_duration_seconds histogram\n")
			for _, key := range sortedKeys(m.requestDuration) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					labels := fmt.Sprintf("endpoint=\"%s\",method=\"%s\"", parts[0], parts[1])
					m.requestDuration[key].write(&sb, prefix+"http_request_duration_seconds", labels)
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			sb.WriteString("# HELP " + prefix + "http_errors_total Total HTTP errors by status class\n")
			sb.WriteString("# TYPE " + prefix + "http_errors_total counter\n")
			for _, key := range sortedKeys(m.requestErrors) {
				// endpoint:method:class
				parts := strings.Split(key, ":")
				if len(parts) >= 3 {
					fmt.Fprintf(&sb, "%shttp_errors_total{endpoint=\"%s\",method=\"%s\",status_class=\"%sxx\"} %d\n", prefix, parts[0], parts[1], parts[2], atomic.LoadUint64(m.requestErrors[key]))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.counters) > 0 {
			sb.WriteString("# HELP " + prefix + "counter Custom counter metrics\n")
			sb.WriteString("# TYPE " + prefix + "counter counter\n")
			for _, name := range sortedKeys(m.counters) {
				fmt.Fprintf(&sb, "%scounter{name=\"%s\"} %d\n", prefix, name, atomic.LoadUint64(m.counters[name]))
			}
		}

		w.Write([]byte(sb.String()))
	}
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

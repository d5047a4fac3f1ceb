// Package health reports liveness and readiness of the relay and the
// services it depends on.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Component names in a deep check
const (
	ComponentJobAPI   = "job_api"
	ComponentDatabase = "database"
	ComponentRedis    = "redis"
	ComponentStorage  = "storage"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker performs health checks on the configured components. Anything
// left nil in CheckerConfig is simply not reported.
type Checker struct {
	db           *sql.DB
	redis        redis.Cmdable
	storageCheck func(ctx context.Context) error
	jobAPICheck  func(ctx context.Context) error
	version      string
	checkTimeout time.Duration
	now          func() time.Time
}

// CheckerConfig holds configuration for the health checker
type CheckerConfig struct {
	DB           *sql.DB
	Redis        redis.Cmdable
	StorageCheck func(ctx context.Context) error
	JobAPICheck  func(ctx context.Context) error
	Version      string
	Timeout      time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		db:           cfg.DB,
		redis:        cfg.Redis,
		storageCheck: cfg.StorageCheck,
		jobAPICheck:  cfg.JobAPICheck,
		version:      cfg.Version,
		checkTimeout: timeout,
		now:          time.Now,
	}
}

// probe runs fn with the check timeout. A failure maps to failStatus.
func (c *Checker) probe(ctx context.Context, failStatus Status, failMsg string, fn func(ctx context.Context) error) ComponentHealth {
	start := c.now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		return ComponentHealth{
			Status:   failStatus,
			Message:  failMsg,
			Duration: time.Since(start).String(),
		}
	}
	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckDB checks the history database
func (c *Checker) CheckDB(ctx context.Context) ComponentHealth {
	return c.probe(ctx, StatusUnhealthy, "database ping failed", func(ctx context.Context) error {
		if err := c.db.PingContext(ctx); err != nil {
			return err
		}
		var result int
		return c.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	})
}

// CheckRedis checks the history cache
func (c *Checker) CheckRedis(ctx context.Context) ComponentHealth {
	return c.probe(ctx, StatusUnhealthy, "redis ping failed", func(ctx context.Context) error {
		return c.redis.Ping(ctx).Err()
	})
}

// CheckStorage checks the archive bucket. Archiving is optional, so a
// failure only degrades the relay.
func (c *Checker) CheckStorage(ctx context.Context) ComponentHealth {
	return c.probe(ctx, StatusDegraded, "storage check failed", c.storageCheck)
}

// CheckJobAPI checks that the remote job server answers
func (c *Checker) CheckJobAPI(ctx context.Context) ComponentHealth {
	return c.probe(ctx, StatusUnhealthy, "job server unreachable", c.jobAPICheck)
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

func (c *Checker) checks() map[string]func(context.Context) ComponentHealth {
	checks := make(map[string]func(context.Context) ComponentHealth)
	if c.jobAPICheck != nil {
		checks[ComponentJobAPI] = c.CheckJobAPI
	}
	if c.db != nil {
		checks[ComponentDatabase] = c.CheckDB
	}
	if c.redis != nil {
		checks[ComponentRedis] = c.CheckRedis
	}
	if c.storageCheck != nil {
		checks[ComponentStorage] = c.CheckStorage
	}
	return checks
}

// DeepCheck performs a comprehensive health check (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  c.now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, check := range c.checks() {
		name, check := name, check
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := check(ctx)
			mu.Lock()
			response.Components[name] = result
			mu.Unlock()
		}()
	}

	wg.Wait()

	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

func writeHealth(w http.ResponseWriter, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		// degraded still accepts traffic
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.Check(r.Context()))
}

// ReadinessHandler handles readiness probe requests
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.DeepCheck(r.Context()))
}

// HealthHandler serves /health, running the deep check with ?deep=true
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

// Package api is the relay's HTTP surface: job control, recent history, the
// event stream and operational endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/health"
	"github.com/openmusicplayer/mediafetch/internal/history"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/websocket"
)

// RouterConfig wires a Router. Jobs is required; the rest are optional and
// their routes are omitted when nil.
type RouterConfig struct {
	Jobs        Jobs
	History     history.Store
	Stream      *websocket.Handler
	Health      *health.Handler
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
	CORSOrigins []string
}

type Router struct {
	mux     *mux.Router
	handler http.Handler
	jobs    *JobHandlers
}

func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux:  mux.NewRouter(),
		jobs: NewJobHandlers(cfg.Jobs, cfg.History),
	}
	r.setupRoutes(cfg)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", apperrors.RequestIDHeader},
		ExposedHeaders: []string{apperrors.RequestIDHeader},
	})

	var h http.Handler = r.mux
	h = metrics.MetricsMiddleware(cfg.Metrics)(h)
	h = logger.LoggingMiddleware(cfg.Logger)(h)
	h = logger.RecoveryMiddleware(cfg.Logger)(h)
	h = apperrors.RequestIDMiddleware(h)
	r.handler = c.Handler(h)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes(cfg RouterConfig) {
	api := r.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", apperrors.HandleFunc(r.jobs.Submit)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/current", apperrors.HandleFunc(r.jobs.Current)).Methods(http.MethodGet)
	api.HandleFunc("/jobs/current", apperrors.HandleFunc(r.jobs.Reset)).Methods(http.MethodDelete)
	api.HandleFunc("/history", apperrors.HandleFunc(r.jobs.History)).Methods(http.MethodGet)

	if cfg.Stream != nil {
		r.mux.HandleFunc("/ws", cfg.Stream.ServeWS).Methods(http.MethodGet)
	}
	if cfg.Health != nil {
		r.mux.HandleFunc("/health", cfg.Health.HealthHandler).Methods(http.MethodGet)
	}
	if cfg.Metrics != nil {
		r.mux.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Subrouters do not inherit these from the root
	for _, m := range []*mux.Router{r.mux, api} {
		m.NotFoundHandler = notFound
		m.MethodNotAllowedHandler = methodNotAllowed
	}
}

var (
	notFound = apperrors.HandleFunc(func(w http.ResponseWriter, req *http.Request) error {
		return apperrors.NotFound("route")
	})
	methodNotAllowed = apperrors.HandleFunc(func(w http.ResponseWriter, req *http.Request) error {
		return apperrors.New(codeMethodNotAllowed, "method not allowed", apperrors.CategoryClient, http.StatusMethodNotAllowed)
	})
)

const codeMethodNotAllowed = "METHOD_NOT_ALLOWED"

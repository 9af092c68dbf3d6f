package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/animation"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/pipeline"
)

// Loads wait on the conversion service, which can take minutes per file.
const writeTimeout = 6 * time.Minute

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Selector drives the selection hierarchy.
type Selector interface {
	State() domain.State
	Resolved() (domain.Path, bool)
	Bootstrap(ctx context.Context) (domain.State, error)
	Select(ctx context.Context, axis domain.Axis, value string) (domain.State, error)
	Restore(ctx context.Context, p domain.Path) (domain.State, error)
	Breadcrumb(ctx context.Context, axis domain.Axis) (domain.State, error)
	Root(ctx context.Context) (domain.State, error)
	Locate(ctx context.Context, featureID, vpuid string) (domain.State, error)
}

// Datasets loads, queries and evicts materialized datasets.
type Datasets interface {
	ReadinessChecker
	Load(ctx context.Context, req pipeline.LoadRequest) (pipeline.Result, error)
	Timeseries(ctx context.Context, slot pipeline.Slot, key string, featureID int64, variable string) ([]domain.Point, error)
	Evict(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context) error
}

// Animator renders animation frames.
type Animator interface {
	Index(ctx context.Context, key string) (*domain.AnimationIndex, error)
	Frame(ctx context.Context, key, variable string, timeIndex int) (animation.Frame, error)
	Reset()
}

// FeatureLookup reads reference attributes of a feature.
type FeatureLookup interface {
	FeatureProperties(ctx context.Context, id string) (map[string]any, error)
}

// CacheLister enumerates cached blobs.
type CacheLister interface {
	List() ([]cache.Entry, error)
}

// API bundles the services behind the JSON routes.
type API struct {
	Selector Selector
	Datasets Datasets
	Frames   Animator
	Features FeatureLookup
	Cache    CacheLister
}

// Server exposes the explorer API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	api        API
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 routes.
func NewServer(addr string, api API, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		api:    api,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(api.Datasets))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/selection", s.handleState)
	mux.HandleFunc("POST /api/v1/selection/bootstrap", s.handleBootstrap)
	mux.HandleFunc("POST /api/v1/selection/restore", s.handleRestore)
	mux.HandleFunc("POST /api/v1/selection/root", s.handleRoot)
	mux.HandleFunc("PUT /api/v1/selection/{axis}", s.handleSelect)
	mux.HandleFunc("POST /api/v1/selection/{axis}/breadcrumb", s.handleBreadcrumb)

	mux.HandleFunc("POST /api/v1/datasets/load", s.handleLoad)
	mux.HandleFunc("GET /api/v1/datasets/{key}/timeseries", s.handleTimeseries)
	mux.HandleFunc("GET /api/v1/datasets/{key}/animation", s.handleAnimationIndex)
	mux.HandleFunc("GET /api/v1/datasets/{key}/frames/{t}", s.handleFrame)

	mux.HandleFunc("GET /api/v1/features/{id}", s.handleFeature)
	mux.HandleFunc("POST /api/v1/features/{id}/locate", s.handleLocate)

	mux.HandleFunc("GET /api/v1/cache", s.handleCacheList)
	mux.HandleFunc("DELETE /api/v1/cache/{key}", s.handleEvict)
	mux.HandleFunc("DELETE /api/v1/cache", s.handleReset)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
}

// decodeJSON reads a request body of at most 1 MiB into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/catalog/pkg/httputil"
	"github.com/platinummonkey/catalog/pkg/middleware"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
)

const defaultMaxBodyBytes = 1 << 20

// Dependencies are the collaborators shared by every handler
type Dependencies struct {
	Store      storage.ProductStore
	Health     *observability.HealthAggregator
	Spans      *observability.SpanManager
	Propagator *observability.Propagator
	Metrics    *observability.Registry
	Logger     *observability.Logger
}

// Options tune the HTTP surface
type Options struct {
	// SlowDelay is how long GET /slow waits before answering
	SlowDelay time.Duration
	// CORSOrigins lists allowed origins; "*" allows all
	CORSOrigins []string
	// MaxBodyBytes bounds request bodies
	MaxBodyBytes int64
	// PickFault chooses the fault injected by GET /error. Defaults to a
	// uniform random choice.
	PickFault func() FaultKind
}

// Server represents our API server
type Server struct {
	router    *mux.Router
	handler   http.Handler
	store     storage.ProductStore
	health    *observability.HealthAggregator
	spans     *observability.SpanManager
	metrics   *observability.Registry
	logger    *observability.Logger
	slowDelay time.Duration
	pickFault func() FaultKind
}

// NewServer creates a new API server
func NewServer(deps Dependencies, opts Options) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		store:     deps.Store,
		health:    deps.Health,
		spans:     deps.Spans,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		slowDelay: opts.SlowDelay,
		pickFault: opts.PickFault,
	}
	if s.pickFault == nil {
		s.pickFault = RandomFault
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	s.setupRoutes()

	inst := middleware.NewInstrumentation(deps.Propagator, deps.Spans, deps.Logger, deps.Metrics,
		middleware.WithRouteNamer(httputil.RouteTemplate(s.router)))

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.CORSMiddleware(opts.CORSOrigins),
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
		inst.Handler,
	)(s.router)

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.health.Handler()).Methods("GET")

	// Product routes
	s.router.HandleFunc("/products", s.listProducts).Methods("GET")
	s.router.HandleFunc("/products", s.createProduct).Methods("POST")
	s.router.HandleFunc("/products/{id:[0-9]+}", s.getProduct).Methods("GET")

	// Fault and latency injection
	s.router.HandleFunc("/slow", s.slow).Methods("GET")
	s.router.HandleFunc("/error", s.injectError).Methods("GET")

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.routeNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the route table without middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

type routeError struct {
	Error string `json:"error"`
	Path  string `json:"path"`
}

func (s *Server) routeNotFound(w http.ResponseWriter, r *http.Request) {
	observability.FromContext(r.Context()).
		WithFields(map[string]interface{}{"error": "route not found", "path": r.URL.Path}).
		Warnf("Route not found: %s", r.URL.Path)
	httputil.WriteJSON(w, http.StatusNotFound, routeError{Error: "Route not found", Path: r.URL.Path})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	observability.FromContext(r.Context()).
		WithFields(map[string]interface{}{"error": "method not allowed", "path": r.URL.Path, "method": r.Method}).
		Warnf("Method %s not allowed on %s", r.Method, r.URL.Path)
	httputil.WriteJSON(w, http.StatusMethodNotAllowed, routeError{Error: "Method not allowed", Path: r.URL.Path})
}

// countQuery records one logical store access
func (s *Server) countQuery(log *observability.Logger, operation string) {
	if err := s.metrics.IncrementCounter(observability.MetricDatabaseQueries,
		observability.Labels{"operation": operation, "table": "products"}); err != nil {
		log.WithError(err).Debug("Failed to record query counter")
	}
}

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/framesched/internal/config"
	"github.com/me/framesched/internal/store"
	"github.com/me/framesched/pkg/model"
)

// Controller is the scheduler surface the API reads and steers.
// *scheduler.Runner satisfies it.
type Controller interface {
	Stats() model.RunnerStats
	WorkerStats() []model.WorkerStats
	SetFrameDelay(d time.Duration)
	SignalStop()
}

// SampleSource serves the in-memory sample ring.
type SampleSource interface {
	Recent(n int) []model.CycleSample
	Latest() (model.CycleSample, bool)
}

// Server is the framesched telemetry API server.
type Server struct {
	router      chi.Router
	logger      *slog.Logger
	config      config.ServerConfig
	startTime   time.Time
	ctl         Controller
	samples     SampleSource // optional; nil when telemetry is disabled
	store       store.Store  // optional; nil when nothing is persisted
	runID       string
	sseInterval time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithSamples sets the in-memory sample source for /samples and /sse/samples.
func WithSamples(src SampleSource) Option {
	return func(s *Server) {
		s.samples = src
	}
}

// WithStore sets the telemetry store and the id of the current run.
func WithStore(st store.Store, runID string) Option {
	return func(s *Server) {
		s.store = st
		s.runID = runID
	}
}

// WithSSEInterval sets how often /sse/samples pushes the latest sample.
func WithSSEInterval(d time.Duration) Option {
	return func(s *Server) {
		s.sseInterval = d
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, ctl Controller, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.With("component", "server"),
		config:      cfg,
		startTime:   time.Now(),
		ctl:         ctl,
		sseInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Get("/stats", s.handleStats)
		r.Get("/workers", s.handleWorkers)
		r.Put("/rate", s.handleSetRate)
		r.Post("/stop", s.handleStop)

		r.Get("/samples", s.handleSamples)
		r.Get("/sse/samples", s.handleSSESamples)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/samples", s.handleRunSamples)
		})
	})
}

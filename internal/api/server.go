package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/example/tradeprep/internal/config"
	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/internal/session"
	"github.com/example/tradeprep/pkg/models"
)

// Catalog lists what can be practiced
type Catalog interface {
	ListCategories(ctx context.Context) ([]string, error)
}

// StatsSource reports a user's progress in a category
type StatsSource interface {
	CategoryStats(ctx context.Context, userID, category string, now time.Time) (*models.CategoryStats, error)
}

// ResultStore stores finished sessions and lists them back
type ResultStore interface {
	Create(ctx context.Context, result *models.SessionResult) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionResult, error)
}

// SessionFactory builds a controller for a user; "" means anonymous
type SessionFactory func(userID string) *session.Controller

// Deps are the collaborators the server needs
type Deps struct {
	Catalog    Catalog
	Stats      StatsSource
	Results    ResultStore
	NewSession SessionFactory
	Logger     *logger.Logger
}

// Server represents the HTTP API server
type Server struct {
	config   config.HTTPConfig
	router   *chi.Mux
	catalog  Catalog
	stats    StatsSource
	results  ResultStore
	sessions *Registry
	log      *logger.Logger
	now      func() time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.HTTPConfig, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		config:   cfg,
		catalog:  deps.Catalog,
		stats:    deps.Stats,
		results:  deps.Results,
		sessions: NewRegistry(deps.NewSession),
		log:      log.With("component", "api"),
		now:      time.Now,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// Sessions exposes the live session registry
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", UserIDHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identify)

		r.Get("/categories", s.handleListCategories)
		r.Get("/categories/{category}/stats", s.handleCategoryStats)
		r.Get("/results", s.handleListResults)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/category", s.handleChangeCategory)
				r.Post("/answers", s.handleAnswer)
				r.Post("/advance", s.handleAdvance)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Run serves until ctx is cancelled, then shuts down and closes every live session
func (s *Server) Run(ctx context.Context, idleTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.sessions.Janitor(ctx, time.Minute, idleTimeout)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		s.sessions.CloseAll()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.sessions.CloseAll()
	s.log.Info("HTTP server stopped")
	return err
}

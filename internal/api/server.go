// Package api serves the catalog over HTTP for front-ends that do not speak
// MCP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"transitsql/internal/catalog"
	"transitsql/internal/prompts"
)

// Deps holds the server's collaborators. Catalog is required.
type Deps struct {
	Catalog    *catalog.Catalog
	Prompts    *prompts.Set
	Logger     *zap.Logger
	SampleRows int
}

// Server is the read-only query API.
type Server struct {
	catalog *catalog.Catalog
	prompts *prompts.Set
	log     *zap.Logger
	samples int
	router  *chi.Mux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a Server with routes and middleware installed.
func NewServer(deps Deps) *Server {
	s := &Server{
		catalog: deps.Catalog,
		prompts: deps.Prompts,
		log:     deps.Logger,
		samples: deps.SampleRows,
		router:  chi.NewRouter(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.prompts == nil {
		s.prompts = prompts.FromMap(prompts.Defaults, true)
	}
	if s.samples <= 0 {
		s.samples = 1
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{table}", s.handleDescribeTable)
		r.Get("/tables/{table}/sample", s.handleSample)

		r.Post("/query", s.handleQuery)

		// Agent support
		r.Get("/context", s.handleContext)
		r.Get("/prompts", s.handlePrompts)
		r.Get("/system-prompt", s.handleSystemPrompt)
		r.Post("/extract-tables", s.handleExtractTables)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr until Shutdown is called. It returns nil at once if
// Shutdown already ran.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	hs := s.server
	s.mu.Unlock()

	s.log.Info("Starting server", zap.String("addr", addr))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	hs := s.server
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

// requestLogger logs one line per request with its status and duration.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Package api exposes discovery and deep research over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

const maxRequestBodySize = 1 << 20

// Discoverer runs discovery for a session.
type Discoverer interface {
	Discover(ctx context.Context, req discovery.Request, callerID string) (*discovery.Response, error)
}

// Researcher runs and reports on deep research requests.
type Researcher interface {
	Run(ctx context.Context, requestID, callerID string) (*model.ResearchReport, error)
	Status(ctx context.Context, requestID, callerID string) (*model.ResearchRequest, *model.ResearchReport, error)
}

// Server holds the handler dependencies.
type Server struct {
	store      store.Store
	discoverer Discoverer
	researcher Researcher
	auth       *Authenticator
	origins    []string
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// NewServer creates a Server.
func NewServer(st store.Store, d Discoverer, r Researcher, auth *Authenticator, opts ...Option) *Server {
	if auth == nil {
		auth = NewAuthenticator("")
	}
	s := &Server{
		store:      st,
		discoverer: d,
		researcher: r,
		auth:       auth,
		origins:    []string{"*"},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}/prospects", s.handleProspects)
		r.Post("/discovery", s.handleDiscovery)
		r.Post("/research/requests", s.handleCreateRequest)
		r.Post("/research", s.handleResearch)
		r.Get("/research/{id}", s.handleResearchStatus)
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

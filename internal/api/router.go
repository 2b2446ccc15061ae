// Package api provides the REST API for tether-service.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/internal/logger"
	"github.com/ternarybob/tether/pkg/session"
)

// requestTimeout bounds a whole request. Syncs can wait up to the daemon
// read timeout per line, so this is generous.
const requestTimeout = 10 * time.Minute

// Server represents the API server.
type Server struct {
	cfg    *config.Config
	router chi.Router
	store  *session.Store
	logger arbor.ILogger
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, store *session.Store) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger.GetLogger(),
	}

	s.setupRouter()
	return s
}

// setupRouter configures all routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Optional API key authentication
	if s.cfg.API.APIKey != "" {
		r.Use(s.apiKeyAuth)
	}

	// Health and version endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Get("/events", s.handleEvents)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleOpenSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCloseSession)
			r.Post("/send", s.handleSend)
			r.Post("/sync", s.handleSync)
			r.Post("/exec", s.handleExec)
			r.Post("/script", s.handleScript)
			r.Get("/transcript", s.handleTranscript)
			r.Get("/events", s.handleEventHistory)
			r.Get("/logs", s.handleLogs)
		})
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Mount attaches a sub-handler (e.g. the MCP endpoint) behind the same
// middleware stack.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

// apiKeyAuth is middleware that validates API key.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health and version
		if r.URL.Path == "/health" || r.URL.Path == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey != s.cfg.API.APIKey {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request through arbor.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("status", strconv.Itoa(ww.Status())).
				Str("duration", time.Since(start).String()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(markRouted)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
}

// setupRoutes configures the upgrade endpoints and the JSON status API.
func (s *Server) setupRoutes() {
	r := s.router

	// WebSocket upgrade. The handler returns once the session is started.
	r.Get("/", s.handleUpgrade)
	r.Get("/ws", s.handleUpgrade)

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins(),
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))

		r.Get("/healthz", s.health)
		r.Get("/sessions", s.listSessions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})
}

func (s *Server) corsOrigins() []string {
	if len(s.config.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.config.AllowedOrigins
}

// requestLogger logs JSON API requests with the shared logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Uptime   string `json:"uptime"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if !s.exec.Valid() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "execution context not built")
		return
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started).Round(time.Second)
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: s.pool.Active(),
		Provider: s.exec.AI().ID(),
		Model:    s.exec.AI().Model(),
		Uptime:   uptime.String(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.List())
}

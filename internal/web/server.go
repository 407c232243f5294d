// Package web provides the HTTP API for starting dataset jobs, following
// their progress and adding annotations.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/JonMunkholm/labelflow/internal/config"
	"github.com/JonMunkholm/labelflow/internal/core"
	"github.com/JonMunkholm/labelflow/internal/web/middleware"
)

// Server is the HTTP server in front of a core.Service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event streams and downloads outlive the request timeout.
		r.Get("/jobs/{jobID}/events", s.handleJobEvents)
		r.Get("/jobs/{jobID}/download", s.handleDownloadExport)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/catalog", s.handleListCatalog)
			r.Get("/catalog/{projectType}", s.handleGetCatalog)

			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/status", s.handleJobQueueStatus)
			r.Get("/jobs/{jobID}", s.handleJobProgress)
			r.Get("/jobs/{jobID}/result", s.handleJobResult)
			r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)

				r.Post("/projects/{projectID}/examples/{exampleUUID}/labels", s.handleAnnotate)

				r.Group(func(r chi.Router) {
					if s.cfg.Rate.Enabled {
						r.Use(newRateLimiter(s.cfg.Rate.JobsPerMinute, time.Minute).middleware)
					}
					r.Post("/projects/{projectID}/imports", s.handleImport)
					r.Post("/projects/{projectID}/exports", s.handleExport)
				})
			})
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps event streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter allows rate requests per window for each client IP. Counters
// live in a cache that expires them when their window ends.
type rateLimiter struct {
	mu       sync.Mutex
	visitors *cache.Cache
	rate     int
	window   time.Duration
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors: cache.New(window, 2*window),
		rate:     rate,
		window:   window,
	}
}

// allow consumes one request from ip's budget.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors.Get(ip)
	if !ok {
		remaining := rl.rate - 1
		rl.visitors.Set(ip, &remaining, rl.window)
		return true
	}
	remaining := v.(*int)
	if *remaining <= 0 {
		return false
	}
	*remaining--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
// RemoteAddr has already been rewritten by TrustedRealIP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(middleware.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondErrorJSON(w, rateLimitedMessage, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   s.service.LimiterStatus(),
	})
}

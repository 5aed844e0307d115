// Package api serves the video ingest HTTP API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amillerrr/video-ingest/internal/auth"
	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/health"
)

// Uploads of up to 1 GiB need far longer I/O timeouts than a JSON API.
const (
	ReadTimeout       = config.UploadReadTimeout
	ReadHeaderTimeout = 10 * time.Second
	WriteTimeout      = 20 * time.Minute
	IdleTimeout       = 120 * time.Second
	MaxHeaderBytes    = 1 << 20 // 1 MB
)

// Server is the HTTP server for the API.
type Server struct {
	httpServer  *http.Server
	log         *slog.Logger
	rateLimiter *auth.RateLimiter
}

// ServerConfig holds dependencies for the server.
type ServerConfig struct {
	Config        *config.Config
	Logger        *slog.Logger
	Uploader      Uploader
	Videos        VideoStore
	JWTService    *auth.JWTService
	RateLimiter   *auth.RateLimiter
	HealthChecker *health.Checker
}

// NewRouter builds the route table.
func NewRouter(cfg *ServerConfig) http.Handler {
	handlers := NewHandlers(&HandlersConfig{
		Logger:      cfg.Logger,
		Uploader:    cfg.Uploader,
		Videos:      cfg.Videos,
		RateLimiter: cfg.RateLimiter,
	})
	authMiddleware := cfg.JWTService.Middleware(cfg.RateLimiter)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(CORSMiddleware(cfg.Config.CORS.AllowedOrigins))

	r.Get("/health", cfg.HealthChecker.Handler())
	r.Get("/health/deep", cfg.HealthChecker.DeepHandler())
	r.Method(http.MethodGet, "/metrics", internalOnlyMiddleware(promhttp.Handler()))

	r.Route("/api", func(r chi.Router) {
		r.Put("/video_upload/{videoID}", handlers.UploadVideoHandler)
		r.Post("/videos", authMiddleware(handlers.CreateVideoHandler))
		r.Get("/videos/{videoID}", authMiddleware(handlers.GetVideoHandler))
	})

	return r
}

// NewServer creates a new API server.
func NewServer(cfg *ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Config.Port,
			Handler:           NewRouter(cfg),
			ReadTimeout:       ReadTimeout,
			ReadHeaderTimeout: ReadHeaderTimeout,
			WriteTimeout:      WriteTimeout,
			IdleTimeout:       IdleTimeout,
			MaxHeaderBytes:    MaxHeaderBytes,
		},
		log:         cfg.Logger,
		rateLimiter: cfg.RateLimiter,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("Starting API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server...")
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Package server wires the control API router and its middleware.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihttp "github.com/shmux/shmux/internal/api/http"
	"github.com/shmux/shmux/internal/api/middleware"
	"github.com/shmux/shmux/internal/config"
	"github.com/shmux/shmux/internal/logging"
	"github.com/shmux/shmux/internal/monitoring"
	"github.com/shmux/shmux/internal/mux"
	"github.com/shmux/shmux/internal/state"
)

// Config contains server configuration.
type Config struct {
	Addr      string
	RateLimit config.RateLimitConfig
	Gatherer  prometheus.Gatherer
}

// Server wraps the HTTP server and dependencies.
type Server struct {
	router *gin.Engine
	http   *http.Server
}

// New creates a control API server over the multiplexer and shared state.
func New(cfg Config, mgr *mux.Manager, store *state.Store, metrics *monitoring.Metrics, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(log, metrics))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(mgr, store)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Session management
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.POST("/sessions/:id/foreground", handlers.ForegroundSession)
	router.DELETE("/sessions/:id", handlers.DestroySession)

	// Terminal plumbing
	router.POST("/input", handlers.RouteInput)
	router.POST("/sessions/:id/input", handlers.SessionInput)
	router.GET("/sessions/:id/output", handlers.SessionOutput)
	router.GET("/sessions/:id/history", handlers.SessionHistory)
	router.POST("/sessions/:id/resize", handlers.ResizeSession)

	// Shared state
	router.GET("/state/stats", handlers.StateStats)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Server{
		router: router,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts serving. Blocks until the listener fails or Close runs.
func (s *Server) Run() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the listener down gracefully.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

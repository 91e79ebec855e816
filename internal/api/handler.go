// Package api is the thin HTTP surface over status, configuration and execution.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trading-authority/internal/audit"
	"trading-authority/internal/execution"
	"trading-authority/internal/ledger"
	"trading-authority/internal/monitor"
	"trading-authority/internal/settings"
	"trading-authority/internal/status"
	"trading-authority/pkg/logging"
)

// Deps are the services the HTTP handlers call into.
type Deps struct {
	Status     *status.Manager
	Store      *settings.Store
	Factory    *execution.Factory
	Dispatcher *execution.Dispatcher
	Trail      *audit.Trail
	Ledger     *ledger.Ledger
	Prices     *ledger.PriceBook
	Metrics    *monitor.Metrics
	Logger     zerolog.Logger
}

// Options tunes the middleware stack.
type Options struct {
	JWTSecret      string
	RateLimit      float64 // requests per second per IP
	RateBurst      int
	RequestTimeout time.Duration
}

// Server wires HTTP endpoints around the authority services.
type Server struct {
	Router *gin.Engine

	deps      Deps
	jwtSecret string
	limiters  *ipLimiters
	logger    zerolog.Logger
	http      *http.Server
	stop      chan struct{}
}

// NewServer builds the router and its middleware stack.
func NewServer(deps Deps, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}

	s := &Server{
		Router:    gin.New(),
		deps:      deps,
		jwtSecret: opts.JWTSecret,
		limiters:  newIPLimiters(opts.RateLimit, opts.RateBurst),
		logger:    logging.Component(deps.Logger, "api"),
		stop:      make(chan struct{}),
	}

	// Middleware stack (order matters!)
	s.Router.Use(gin.Recovery())                         // Panic recovery (first)
	s.Router.Use(RequestIDMiddleware())                  // Request ID tracking
	s.Router.Use(RequestLogger(s.logger))                // Request logging (after ID is set)
	s.Router.Use(RateLimitMiddleware(s.limiters))        // Rate limiting
	s.Router.Use(TimeoutMiddleware(opts.RequestTimeout)) // Request deadline
	s.Router.Use(CORSMiddleware())                       // CORS (last before routes)

	go s.limiters.sweep(5*time.Minute, s.stop)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.deps.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	api.GET("/health", s.health)

	protected := api.Group("")
	protected.Use(AuthMiddleware(s.jwtSecret))
	{
		protected.GET("/system/status", s.getSystemStatus)
		protected.POST("/system/mode", s.switchMode)

		protected.POST("/onboarding", s.completeOnboarding)
		protected.POST("/onboarding/validate", s.validateOnboarding)

		protected.GET("/config", s.getConfig)
		protected.PUT("/config/:key", s.putConfig)

		protected.POST("/trades", s.executeTrade)
		protected.POST("/trades/batch", s.executeBatch)
		protected.GET("/trades", s.listTrades)

		protected.GET("/ledger", s.getLedger)
		protected.POST("/ledger/credit", s.creditLedger)
		protected.PUT("/ledger/prices", s.setPrice)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops background work.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Package api serves the read-only inspection endpoints and the authenticated
// control endpoints over the position book.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tokenfolio/internal/auth"
	"tokenfolio/internal/circuit"
	"tokenfolio/internal/edge"
	"tokenfolio/internal/learning"
	"tokenfolio/internal/position"
	"tokenfolio/internal/signals"
)

// RateLimiter provides simple in-memory rate limiting per client IP.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Config holds server configuration.
type Config struct {
	Port             int
	Host             string
	AllowedOrigins   string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	HistoryThreshold int
	ProductionMode   bool
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      Config
	logger      zerolog.Logger
	rateLimiter *RateLimiter

	book        *position.Book
	coeffStore  learning.Store
	edges       *edge.Aggregator
	breaker     *circuit.Breaker
	feed        *signals.Feed
	authService *auth.Service
}

// NewServer creates the API server. authService, edges, breaker, and feed may
// be nil; the matching endpoints then report unavailable.
func NewServer(cfg Config, book *position.Book, coeffStore learning.Store, edges *edge.Aggregator,
	breaker *circuit.Breaker, feed *signals.Feed, authService *auth.Service, logger zerolog.Logger) *Server {

	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:      router,
		config:      cfg,
		logger:      logger.With().Str("component", "APIServer").Logger(),
		rateLimiter: NewRateLimiter(120, time.Minute),
		book:        book,
		coeffStore:  coeffStore,
		edges:       edges,
		breaker:     breaker,
		feed:        feed,
		authService: authService,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	corsConfig := cors.DefaultConfig()
	if s.config.AllowedOrigins == "" || s.config.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(s.config.AllowedOrigins, ",")
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	s.router.Use(cors.New(corsConfig))

	s.router.Use(func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := s.router.Group("/api")
	{
		apiGroup.POST("/auth/login", s.handleLogin)

		apiGroup.GET("/positions", s.handleListPositions)
		apiGroup.GET("/positions/:token/:chain/:timeframe", s.handleGetPosition)
		apiGroup.GET("/coefficients", s.handleListCoefficients)
		apiGroup.GET("/edges", s.handleListEdges)
		apiGroup.GET("/breaker", s.handleBreakerStats)
		apiGroup.GET("/feed", s.handleFeedStats)

		control := apiGroup.Group("")
		if s.authService != nil {
			control.Use(auth.Middleware(s.authService))
		}
		control.POST("/positions", s.handleCreateFamily)
		control.POST("/positions/:token/:chain/:timeframe/pause", s.handlePause)
		control.POST("/positions/:token/:chain/:timeframe/resume", s.handleResume)
		control.POST("/positions/:token/:chain/:timeframe/archive", s.handleArchive)
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

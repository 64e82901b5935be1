package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/apikeys"
	"hma-trading-bot/internal/auth"
	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/events"
	"hma-trading-bot/internal/marketdata"
	"hma-trading-bot/internal/monitor"
	"hma-trading-bot/internal/store"
)

// RateLimiter is a simple per-path in-memory request limiter
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks and records one request for the given key
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

// Server is the operator-facing HTTP surface: monitoring control,
// per-symbol actions, state inspection, and runtime stats. All trading
// decisions stay in the scheduler; every state mutation here goes
// through the scheduler's per-user lock.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	serverCfg config.ServerConfig
	authCfg   config.AuthConfig

	scheduler *monitor.Scheduler
	engine    *engine.Engine
	store     store.StateStore
	quotes    *marketdata.QuoteService
	apiKeys   *apikeys.Service
	mirror    *store.RedisMirror
	eventBus  *events.EventBus
	jwt       *auth.JWTManager

	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// NewServer wires the admin API
func NewServer(
	serverCfg config.ServerConfig,
	authCfg config.AuthConfig,
	sched *monitor.Scheduler,
	eng *engine.Engine,
	st store.StateStore,
	quotes *marketdata.QuoteService,
	apiKeys *apikeys.Service,
	mirror *store.RedisMirror,
	eventBus *events.EventBus,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		serverCfg:   serverCfg,
		authCfg:     authCfg,
		scheduler:   sched,
		engine:      eng,
		store:       st,
		quotes:      quotes,
		apiKeys:     apiKeys,
		mirror:      mirror,
		eventBus:    eventBus,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logger,
	}

	if authCfg.Enabled && authCfg.JWTSecret != "" {
		s.jwt = auth.NewJWTManager(authCfg.JWTSecret,
			time.Duration(authCfg.TokenMinutes)*time.Minute)
	}

	s.setupRoutes()
	return s
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"path":  path,
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.jwt != nil {
		s.router.POST("/api/auth/login", s.handleLogin)
	}

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	if s.jwt != nil {
		api.Use(auth.Middleware(s.jwt))
	}

	api.GET("/status", s.handleStatus)

	api.POST("/scheduler/start", s.handleSchedulerStart)
	api.POST("/scheduler/stop", s.handleSchedulerStop)

	users := api.Group("/users/:user_id")
	users.GET("/state", s.handleGetState)
	users.GET("/snapshot", s.handleGetSnapshot)
	users.GET("/exits", s.handleListExits)
	users.POST("/monitoring/start", s.handleStartMonitoring)
	users.POST("/monitoring/stop", s.handleStopMonitoring)
	users.POST("/recovery", s.handleRecovery)
	users.PUT("/credentials", s.handleStoreCredentials)

	users.POST("/symbols", s.handleAddSymbol)
	users.POST("/symbols/:symbol_id/retrigger", s.handleRetrigger)
	users.POST("/symbols/:symbol_id/reset", s.handleReset)
	users.POST("/symbols/:symbol_id/cancel", s.handleCancelSymbol)
	users.POST("/symbols/:symbol_id/override", s.handleOverride)
	users.POST("/symbols/:symbol_id/repair", s.handleRepair)
}

// Start serves HTTP until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.serverCfg.Host, s.serverCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("admin api listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

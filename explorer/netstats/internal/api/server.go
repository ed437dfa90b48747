// Package api serves network statistics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gpunet/gpunet/explorer/netstats/config"
	"github.com/gpunet/gpunet/explorer/netstats/internal/cache"
	"github.com/gpunet/gpunet/explorer/netstats/internal/store"
	"github.com/gpunet/gpunet/explorer/netstats/pkg/logger"
	"github.com/gpunet/gpunet/x/compute/netstats"
	"github.com/gpunet/gpunet/x/compute/types"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstats_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netstats_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// LiveStats exposes the tracker's current view.
type LiveStats interface {
	Stats() types.NetworkStats
	Position() netstats.Position
}

// SnapshotReader reads persisted snapshots.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context) (store.Snapshot, bool, error)
	History(ctx context.Context, limit int) ([]store.Snapshot, error)
	Ping(ctx context.Context) error
}

// SnapshotCache fronts the latest snapshot.
type SnapshotCache interface {
	GetLatest(ctx context.Context) (store.Snapshot, error)
	PutLatest(ctx context.Context, snap store.Snapshot) error
	Ping(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	config  config.APIConfig
	live    LiveStats
	store   SnapshotReader
	cache   SnapshotCache
	log     *logger.Logger
	router  *gin.Engine
	server  *http.Server
	limiter *RateLimiter
}

// NewServer creates a new API server
func NewServer(
	cfg config.APIConfig,
	live LiveStats,
	st SnapshotReader,
	c SnapshotCache,
	log *logger.Logger,
) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:  cfg,
		live:    live,
		store:   st,
		cache:   c,
		log:     log,
		router:  router,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// CORS
	s.router.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, allowedOrigin := range s.config.CORSOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.router.Use(RateLimitMiddleware(s.limiter))

	// Logging and request metrics
	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		s.log.Debug("API request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
		)

		apiRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(status)).Inc()
		apiRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration.Seconds())
	})

	// Timeout
	s.router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.Timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/ready", s.handleHealthReady)

	v1 := s.router.Group("/api/v1")
	{
		stats := v1.Group("/stats")
		stats.GET("", s.handleLiveStats)
		stats.GET("/snapshot", s.handleSnapshot)
		stats.GET("/history", s.handleHistory)
	}
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.log.Info("Starting API server", "address", addr)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleHealthReady(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	ready := true

	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = gin.H{"status": "unhealthy", "message": err.Error()}
		ready = false
	} else {
		checks["database"] = gin.H{"status": "ok"}
	}

	if err := s.cache.Ping(ctx); err != nil {
		checks["cache"] = gin.H{"status": "unhealthy", "message": err.Error()}
		ready = false
	} else {
		checks["cache"] = gin.H{"status": "ok"}
	}

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}
	c.JSON(statusCode, gin.H{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleLiveStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"position": s.live.Position(),
		"stats":    s.live.Stats(),
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := s.cache.GetLatest(ctx)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"snapshot": snap, "source": "cache"})
		return
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("Snapshot cache read failed", "error", err)
	}

	snap, found, err := s.store.LatestSnapshot(ctx)
	if err != nil {
		s.log.Error("Failed to load snapshot", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load snapshot",
		})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No snapshot has been recorded yet",
		})
		return
	}

	if err := s.cache.PutLatest(ctx, snap); err != nil {
		s.log.Warn("Failed to repopulate snapshot cache", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "source": "database"})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit),
			})
			return
		}
		limit = n
	}

	history, err := s.store.History(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("Failed to load snapshot history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load snapshot history",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots": history,
		"count":     len(history),
	})
}

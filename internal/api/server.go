// Package api wires the HTTP server spec.md's external interfaces
// section describes: job CRUD, manual trigger, execution lookup and
// cancellation, and cluster membership — adapted from the teacher's
// pkg/api/server.go (same Gin middleware stack and route-group shape).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jobctl/internal/api/handlers"
	"jobctl/internal/api/middleware"
	"jobctl/internal/logging"
	"jobctl/internal/storage"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	jobStore  storage.JobStore
	execStore storage.ExecutionStore
	publisher handlers.ExecutionPublisher
}

type Config struct {
	Port           string
	JobStore       storage.JobStore
	ExecStore      storage.ExecutionStore
	Publisher      handlers.ExecutionPublisher
	Nodes          handlers.NodeLister
	NodeStaleness  time.Duration
	AuthConfig     middleware.AuthConfig
	RequireAuth    bool
}

func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	if cfg.RequireAuth {
		router.Use(middleware.AuthMiddleware(cfg.AuthConfig))
	}

	s := &Server{router: router, jobStore: cfg.JobStore, execStore: cfg.ExecStore, publisher: cfg.Publisher}

	validator := middleware.NewValidator(middleware.DefaultValidatorConfig())
	jobsH := handlers.NewJobs(cfg.JobStore, cfg.ExecStore, cfg.Publisher, validator)
	execsH := handlers.NewExecutions(cfg.ExecStore)
	clusterH := handlers.NewCluster(cfg.Nodes, cfg.NodeStaleness)

	s.registerRoutes(jobsH, execsH, clusterH)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	logging.Info("API server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(jobsH *handlers.Jobs, execsH *handlers.Executions, clusterH *handlers.Cluster) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobsH.Create)
			jobs.GET("", jobsH.List)
			jobs.GET("/:id", jobsH.Get)
			jobs.PATCH("/:id", jobsH.Update)
			jobs.DELETE("/:id", jobsH.Delete)
			jobs.POST("/:id/trigger", jobsH.Trigger)
			jobs.GET("/:id/executions", jobsH.ListExecutions)
		}

		executions := v1.Group("/executions")
		{
			executions.GET("/:id", execsH.Get)
			executions.POST("/:id/cancel", execsH.Cancel)
		}

		cluster := v1.Group("/cluster")
		{
			cluster.GET("/nodes", clusterH.ListNodes)
			cluster.GET("/leader", clusterH.GetLeader)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logging.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	deps := map[string]bool{
		"postgres": s.jobStore != nil,
		"queue":    s.publisher != nil,
	}

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}

// Package server exposes a SessionManager over HTTP: a JSON API for session,
// task, agent and state operations, a websocket stream of session events,
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/turboswarm/internal/orchestrator"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server serves the HTTP API.
type Server struct {
	manager *orchestrator.SessionManager
	engine  *gin.Engine
}

// New creates a server for manager.
func New(manager *orchestrator.SessionManager) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{manager: manager, engine: engine}
	s.routes()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// routes registers every endpoint:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/version
//	GET    /api/sessions
//	POST   /api/sessions
//	GET    /api/sessions/:id
//	DELETE /api/sessions/:id
//	POST   /api/sessions/:id/pause
//	POST   /api/sessions/:id/resume
//	POST   /api/sessions/:id/checkpoint
//	POST   /api/sessions/:id/restore
//	GET    /api/sessions/:id/tasks
//	POST   /api/sessions/:id/tasks
//	GET    /api/sessions/:id/tasks/:taskID
//	GET    /api/sessions/:id/agents
//	POST   /api/sessions/:id/agents
//	DELETE /api/sessions/:id/agents/:agentID
//	GET    /api/sessions/:id/state
//	GET    /api/sessions/:id/state/*key
//	PUT    /api/sessions/:id/state/*key
//	GET    /api/sessions/:id/events  (websocket)
func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/version", s.handleVersion)

		api.GET("/sessions", s.handleListSessions)
		api.POST("/sessions", s.handleCreateSession)

		session := api.Group("/sessions/:id")
		{
			session.GET("", s.handleGetSession)
			session.DELETE("", s.handleDestroySession)
			session.POST("/pause", s.handlePause)
			session.POST("/resume", s.handleResume)
			session.POST("/checkpoint", s.handleCheckpoint)
			session.POST("/restore", s.handleRestore)

			session.GET("/tasks", s.handleListTasks)
			session.POST("/tasks", s.handleAddTasks)
			session.GET("/tasks/:taskID", s.handleGetTask)

			session.GET("/agents", s.handleListAgents)
			session.POST("/agents", s.handleSpawnAgent)
			session.DELETE("/agents/:agentID", s.handleTerminateAgent)

			session.GET("/state", s.handleStateSnapshot)
			session.GET("/state/*key", s.handleGetState)
			session.PUT("/state/*key", s.handleSetState)

			session.GET("/events", s.handleEvents)
		}
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Printf("[server] shutting down")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		log.Printf("[server] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

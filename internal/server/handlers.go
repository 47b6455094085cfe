package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ShayCichocki/turboswarm/internal/graph"
	"github.com/ShayCichocki/turboswarm/internal/orchestrator"
	"github.com/ShayCichocki/turboswarm/internal/state"
	"github.com/ShayCichocki/turboswarm/internal/version"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CreateSessionRequest creates a session and optionally seeds its tasks.
type CreateSessionRequest struct {
	UserID string             `json:"user_id" binding:"required"`
	Spec   models.ProjectSpec `json:"spec"`
	Tasks  []*models.Task     `json:"tasks,omitempty"`
}

// CreateSessionResponse is returned by POST /api/sessions.
type CreateSessionResponse struct {
	SessionID string               `json:"session_id"`
	Status    *models.StatusReport `json:"status"`
	Tasks     []*models.Task       `json:"tasks,omitempty"`
}

// AddTasksRequest enqueues a batch of tasks.
type AddTasksRequest struct {
	Tasks []*models.Task `json:"tasks" binding:"required,min=1"`
}

// SpawnAgentRequest adds an agent to a session.
type SpawnAgentRequest struct {
	Role  models.AgentRole       `json:"role" binding:"required"`
	Model models.ModelPreference `json:"model,omitempty"`
}

// SetStateRequest writes a shared state key.
type SetStateRequest struct {
	Value  string `json:"value"`
	Writer string `json:"writer,omitempty"`
}

// VersionResponse is returned by GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// abort writes err with the status it maps to.
func abort(c *gin.Context, err error) {
	status, code := classify(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound), errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND"
	case errors.Is(err, orchestrator.ErrAgentNotFound):
		return http.StatusNotFound, "AGENT_NOT_FOUND"
	case errors.Is(err, orchestrator.ErrInvalidSpec):
		return http.StatusBadRequest, "INVALID_SPEC"
	case errors.Is(err, orchestrator.ErrCyclicDependency):
		return http.StatusBadRequest, "CYCLIC_DEPENDENCY"
	case errors.Is(err, orchestrator.ErrUnknownDependency):
		return http.StatusBadRequest, "UNKNOWN_DEPENDENCY"
	case errors.Is(err, graph.ErrInvalidTask):
		return http.StatusBadRequest, "INVALID_TASK"
	case errors.Is(err, orchestrator.ErrDuplicateTask):
		return http.StatusConflict, "DUPLICATE_TASK"
	case errors.Is(err, orchestrator.ErrSessionTerminal):
		return http.StatusConflict, "SESSION_TERMINAL"
	case errors.Is(err, orchestrator.ErrBudgetExhausted):
		return http.StatusConflict, "BUDGET_EXHAUSTED"
	case errors.Is(err, orchestrator.ErrAgentSpawnFailed):
		return http.StatusServiceUnavailable, "AGENT_SPAWN_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{Version: version.Get()})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.ListSessions())
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.manager.CreateSession(c.Request.Context(), req.UserID, req.Spec)
	if err != nil {
		abort(c, err)
		return
	}

	resp := CreateSessionResponse{SessionID: id}
	if len(req.Tasks) > 0 {
		tasks, err := s.manager.AddTasks(id, req.Tasks...)
		if err != nil {
			// The session exists but is unusable with a rejected task set.
			_, _ = s.manager.DestroySession(c.Request.Context(), id)
			abort(c, err)
			return
		}
		resp.Tasks = tasks
	}
	resp.Status, _ = s.manager.GetStatus(id)
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetSession(c *gin.Context) {
	report, err := s.manager.GetStatus(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleDestroySession(c *gin.Context) {
	final, err := s.manager.DestroySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, final)
}

func (s *Server) handlePause(c *gin.Context) {
	if err := s.manager.PauseSession(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	s.handleGetSession(c)
}

func (s *Server) handleResume(c *gin.Context) {
	if err := s.manager.ResumeSession(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	s.handleGetSession(c)
}

func (s *Server) handleCheckpoint(c *gin.Context) {
	if err := s.manager.Checkpoint(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRestore(c *gin.Context) {
	if err := s.manager.RestoreSession(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	s.handleGetSession(c)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.manager.ListTasks(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleAddTasks(c *gin.Context) {
	var req AddTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tasks, err := s.manager.AddTasks(c.Param("id"), req.Tasks...)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, tasks)
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.manager.GetTask(c.Param("id"), c.Param("taskID"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.manager.ListAgents(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleSpawnAgent(c *gin.Context) {
	var req SpawnAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h, err := s.manager.SpawnAgent(c.Param("id"), req.Role, req.Model)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, h)
}

func (s *Server) handleTerminateAgent(c *gin.Context) {
	if err := s.manager.TerminateAgent(c.Param("id"), c.Param("agentID")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStateSnapshot(c *gin.Context) {
	entries, err := s.manager.StateSnapshot(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// stateKey returns the wildcard key without its leading slash.
func stateKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func (s *Server) handleGetState(c *gin.Context) {
	key := stateKey(c)
	if key == "" {
		s.handleStateSnapshot(c)
		return
	}
	e, ok, err := s.manager.GetState(c.Param("id"), key)
	if err != nil {
		abort(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "state key not found: " + key, Code: "KEY_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleSetState(c *gin.Context) {
	key := stateKey(c)
	if key == "" {
		badRequest(c, errors.New("state key is required"))
		return
	}
	var req SetStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := s.manager.SetState(c.Param("id"), req.Writer, key, req.Value)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taskhub/internal/apperrors"
	domaintask "taskhub/internal/domain/task"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"status": "ok"}})
}

// ownerID resolves the requesting owner. Authentication is out of scope
// for this core (SPEC_FULL.md §9); the header stands in for a verified
// principal a production deployment would derive from an auth middleware.
func ownerID(c *gin.Context) string {
	if id := c.GetHeader("X-Owner-ID"); id != "" {
		return id
	}
	return "anonymous"
}

type createTaskRequest struct {
	Type    domaintask.Type `json:"task_type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: err.Error()})
		return
	}

	task, err := s.svc.CreateTask(c.Request.Context(), ownerID(c), req.Type, req.Payload)
	if err != nil && task == nil {
		writeError(c, err)
		return
	}
	if err != nil {
		// enqueue failed but the task row exists and was marked FAILED;
		// surface 202 with the failed task rather than a 5xx.
		c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: task, Message: "task enqueue failed; see status"})
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: task})
}

func (s *Server) handleGetStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	owner := ownerID(c)

	if cached, ok := s.statusCache.get(owner, taskID); ok {
		c.JSON(http.StatusOK, APIResponse{Success: true, Data: cached})
		return
	}

	status, err := s.svc.GetStatus(c.Request.Context(), owner, taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.statusCache.put(owner, taskID, *status)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: status})
}

func (s *Server) handleGetResult(c *gin.Context) {
	taskID := c.Param("task_id")
	result, err := s.svc.GetResult(c.Request.Context(), ownerID(c), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: result})
}

func (s *Server) handleListTasks(c *gin.Context) {
	filter := domaintask.ListFilter{
		Type:   domaintask.Type(c.Query("task_type")),
		State:  domaintask.Status(c.Query("state")),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}

	views, err := s.svc.ListTasks(c.Request.Context(), ownerID(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: views})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindAccessDenied:
		status = http.StatusForbidden
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindInvalidEvent, apperrors.KindInvalidTaskType:
		status = http.StatusBadRequest
	case apperrors.KindTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, APIResponse{Success: false, Error: err.Error()})
}

package api

import (
	"errors"
	"net/http"

	"github.com/jordanhubbard/spindle/internal/queue"
	"github.com/jordanhubbard/spindle/pkg/models"
)

// SubmitTaskRequest is the body of POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Content     string            `json:"content"`
	Attachments []string          `json:"attachments,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	FlowHint    string            `json:"flow_hint,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// SubmitTaskResponse acknowledges an accepted task.
type SubmitTaskResponse struct {
	ID     string            `json:"id"`
	Status models.TaskStatus `json:"status"`
}

// handleTasks handles POST /api/v1/tasks (submit).
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SubmitTaskRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	task := &models.Task{
		Content:     req.Content,
		Attachments: req.Attachments,
		SessionID:   req.SessionID,
		FlowHint:    req.FlowHint,
		Priority:    req.Priority,
		Context:     req.Context,
	}

	id, err := s.orch.Submit(task)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrQueuePaused):
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, queue.ErrBacklogFull):
			s.respondError(w, http.StatusTooManyRequests, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusAccepted, SubmitTaskResponse{
		ID:     id,
		Status: models.TaskStatusQueued,
	})
}

// handleTask handles GET /api/v1/tasks/{id}, GET /api/v1/tasks/{id}/logs,
// GET /api/v1/tasks/{id}/stream, and POST /api/v1/tasks/{id}/abort.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r.URL.Path, "/api/v1/tasks/")
	if len(parts) == 0 {
		s.respondError(w, http.StatusNotFound, "task ID required")
		return
	}
	taskID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		task, ok := s.orch.Task(taskID)
		if !ok {
			s.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		s.respondJSON(w, http.StatusOK, task)
		return
	}

	switch parts[1] {
	case "logs":
		if r.Method != http.MethodGet {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		task, ok := s.orch.Task(taskID)
		if !ok {
			s.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"id":   task.ID,
			"logs": task.Logs,
		})

	case "abort":
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err := s.orch.Abort(taskID); err != nil {
			if errors.Is(err, queue.ErrUnknownTask) {
				s.respondError(w, http.StatusNotFound, "task not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]string{
			"id":     taskID,
			"status": "abort requested",
		})

	case "stream":
		s.handleTaskStream(w, r, taskID)

	default:
		s.respondError(w, http.StatusNotFound, "unknown task operation")
	}
}

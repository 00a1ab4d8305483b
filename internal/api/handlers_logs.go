package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jordanhubbard/spindle/internal/logging"
)

// handleLogs handles GET /api/v1/logs. Query parameters: limit, level,
// source, task_id, flow, worker, since, until (RFC3339), persisted=true to
// query the database instead of the in-memory buffer.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.logs == nil {
		s.respondError(w, http.StatusServiceUnavailable, "log manager not configured")
		return
	}

	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	f := logging.Filter{
		Level:  q.Get("level"),
		Source: q.Get("source"),
		TaskID: q.Get("task_id"),
		Flow:   q.Get("flow"),
		Worker: q.Get("worker"),
	}

	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		f.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		f.Until = ts
	}

	if q.Get("persisted") == "true" {
		entries, err := s.logs.Query(limit, f)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs": s.logs.GetRecent(limit, f),
	})
}

package api

import "net/http"

// handleQueueStatus handles GET /api/v1/queue/status.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.orch.Status())
}

// handleQueuePause handles POST /api/v1/queue/pause.
func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.orch.Pause()
	s.respondJSON(w, http.StatusOK, s.orch.Status())
}

// handleQueueResume handles POST /api/v1/queue/resume.
func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.orch.Resume()
	s.respondJSON(w, http.StatusOK, s.orch.Status())
}

// handleQueuePurge handles POST /api/v1/queue/purge.
func (s *Server) handleQueuePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	purged := s.orch.Purge()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"purged": purged,
		"queue":  s.orch.Status(),
	})
}

// handleEmergencyStop handles POST /api/v1/queue/emergency-stop.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stopped := s.orch.EmergencyStop()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"stopped": stopped,
		"queue":   s.orch.Status(),
	})
}

// handleWorkers handles GET /api/v1/workers.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"roles": s.workers.Roles(),
	})
}

// handleSkills handles GET /api/v1/skills.
func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"skills": s.skills.Names(),
	})
}

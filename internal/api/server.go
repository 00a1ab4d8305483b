package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/spindle/internal/auth"
	"github.com/jordanhubbard/spindle/internal/logging"
	"github.com/jordanhubbard/spindle/internal/orchestrator"
	"github.com/jordanhubbard/spindle/internal/skills"
	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/config"
)

// Server represents the HTTP API server
type Server struct {
	orch    *orchestrator.Orchestrator
	auth    *auth.Manager
	logs    *logging.Manager
	workers *worker.Registry
	skills  *skills.Registry
	config  *config.Config
}

// NewServer creates a new API server
func NewServer(orch *orchestrator.Orchestrator, am *auth.Manager, lm *logging.Manager, workers *worker.Registry, sk *skills.Registry, cfg *config.Config) *Server {
	return &Server{
		orch:    orch,
		auth:    am,
		logs:    lm,
		workers: workers,
		skills:  sk,
		config:  cfg,
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Tasks
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", s.handleTask)

	// Queue control surface
	mux.HandleFunc("/api/v1/queue/status", s.handleQueueStatus)
	mux.HandleFunc("/api/v1/queue/pause", s.handleQueuePause)
	mux.HandleFunc("/api/v1/queue/resume", s.handleQueueResume)
	mux.HandleFunc("/api/v1/queue/purge", s.handleQueuePurge)
	mux.HandleFunc("/api/v1/queue/emergency-stop", s.handleEmergencyStop)

	// Workers and skills
	mux.HandleFunc("/api/v1/workers", s.handleWorkers)
	mux.HandleFunc("/api/v1/skills", s.handleSkills)

	// System logs
	mux.HandleFunc("/api/v1/logs", s.handleLogs)

	// Auth
	authHandlers := auth.NewHandlers(s.auth)
	mux.HandleFunc("/auth/login", authHandlers.HandleLogin)
	mux.HandleFunc("/auth/refresh", authHandlers.HandleRefreshToken)
	mux.HandleFunc("/auth/change-password", authHandlers.HandleChangePassword)
	mux.HandleFunc("/auth/api-keys", authHandlers.HandleCreateAPIKey)
	mux.HandleFunc("/auth/me", authHandlers.HandleGetCurrentUser)
	mux.HandleFunc("/auth/users", s.handleAuthUsers(authHandlers))

	// Apply middleware
	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.authMiddleware(handler)
	handler = otelhttp.NewHandler(handler, "spindle-api")

	return handler
}

func (s *Server) handleAuthUsers(h *auth.Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.HandleListUsers(w, r)
		case http.MethodPost:
			h.HandleCreateUser(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware authenticates requests. Login, health, and metrics stay
// open; everything else requires a token or API key when auth is enabled.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	protected := auth.Middleware(s.auth, s.config.Security.EnableAuth)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" ||
			r.URL.Path == "/metrics" ||
			r.URL.Path == "/auth/login" {
			next.ServeHTTP(w, r)
			return
		}

		protected.ServeHTTP(w, r)
	})
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON decodes a JSON request body
func (s *Server) parseJSON(r *http.Request, dest interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// pathTail returns the path segments after a prefix, e.g.
// pathTail("/api/v1/tasks/abc/stream", "/api/v1/tasks/") -> ["abc", "stream"].
func pathTail(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

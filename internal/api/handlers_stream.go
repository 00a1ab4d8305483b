package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/spindle/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API already handles auth; origins are open like the REST CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTaskStream handles GET /api/v1/tasks/{id}/stream. It upgrades to a
// WebSocket and relays the task's stream events as JSON frames. The final
// frame has terminal=true and carries the assembled result; the connection
// closes after it.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	events, err := s.orch.Subscribe(taskID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrStreamUnknownTask) {
			s.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("[API] stream write for task %s failed: %v", taskID, err)
			return
		}
		if ev.Terminal {
			break
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}

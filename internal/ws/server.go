package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"taskpulse/internal/auth"
)

type Server struct {
	auth     *auth.Service
	hub      presenceHub
	upgrader *websocket.Upgrader
}

func NewServer(authService *auth.Service, hub presenceHub) *Server {
	return &Server{
		auth: authService,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections upgrades GET /api/tasks/{id}/channel to a websocket.
// The bearer credential rides as a connection parameter because browser
// websocket dials cannot carry headers.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	taskID := r.PathValue("id")
	if taskID == "" {
		http.Error(w, "Missing task id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "error", err)
		return
	}

	c := NewConnection(s.hub, conn, taskID, user)
	if err := c.Handle(r.Context()); err != nil {
		slog.Warn("connection closed with error", "taskId", taskID, "userId", user.ID, "error", err)
	}
}

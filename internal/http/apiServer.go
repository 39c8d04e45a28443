package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"taskpulse/internal/api"
	"taskpulse/internal/auth"
	"taskpulse/internal/hub"
	"taskpulse/internal/storage"
	"taskpulse/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.Service, h *hub.Hub, store *storage.BboltStorage, addr string) *APIServer {
	wsServer := ws.NewServer(authService, h)
	apiHandlers := api.New(authService, h, store)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", apiHandlers.HealthzHandler)

	// REST read path for the durable comments the channel creates.
	mux.HandleFunc("GET /api/tasks/{id}/comments", apiHandlers.RequireAuth(apiHandlers.CommentsHandler))

	// WebSocket endpoint, one connection per task-viewing session.
	mux.HandleFunc("GET /api/tasks/{id}/channel", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	slog.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

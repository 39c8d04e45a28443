package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"taskpulse/internal/auth"
	"taskpulse/internal/content"
	"taskpulse/internal/hub"
	"taskpulse/internal/models"
	"taskpulse/internal/storage"
)

type API struct {
	auth  *auth.Service
	hub   *hub.Hub
	store *storage.BboltStorage
}

func New(authService *auth.Service, h *hub.Hub, store *storage.BboltStorage) *API {
	return &API{auth: authService, hub: h, store: store}
}

// RequireAuth resolves the bearer credential before invoking the handler.
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, user models.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.auth.Verify(bearerToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, user)
	}
}

// CommentsHandler serves the persisted comment history of a task, the
// durable counterpart of the channel's task_comment events.
func (a *API) CommentsHandler(w http.ResponseWriter, r *http.Request, _ models.User) {
	taskID := r.PathValue("id")
	if taskID == "" {
		http.Error(w, "Missing task id", http.StatusBadRequest)
		return
	}

	from := queryInt64(r, "from", 1)
	to := queryInt64(r, "to", math.MaxInt64)

	comments, err := a.store.ListComments(taskID, from, to)
	if err != nil {
		slog.Error("failed to list comments", "taskId", taskID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	for i := range comments {
		comments[i].ContentHTML = content.RenderMarkdown(comments[i].Content)
	}

	writeJSON(w, struct {
		Comments []models.Comment `json:"comments"`
	}{Comments: comments})
}

// HealthzHandler reports liveness plus hub occupancy.
func (a *API) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	rooms, members := a.hub.Stats()
	writeJSON(w, struct {
		Status  string `json:"status"`
		Rooms   int    `json:"rooms"`
		Members int    `json:"members"`
	}{Status: "ok", Rooms: rooms, Members: members})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/huddle/internal/storage"
	"github.com/huddle/internal/ws"
)

type PresenceHandler struct {
	hub   *ws.Hub
	store storage.EphemeralStore
}

func NewPresenceHandler(hub *ws.Hub, store storage.EphemeralStore) *PresenceHandler {
	return &PresenceHandler{hub: hub, store: store}
}

// GetOnline возвращает всех пользователей онлайн на этом узле.
func (h *PresenceHandler) GetOnline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"online": h.hub.OnlineUserIDs()})
}

type presenceStatus struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// GetStatus возвращает присутствие одного пользователя из зеркала в Redis.
func (h *PresenceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	online, err := h.store.IsOnline(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get presence")
		return
	}
	status := presenceStatus{UserID: userID, Online: online}
	if lastSeen, ok, err := h.store.LastSeen(r.Context(), userID); err == nil && ok {
		status.LastSeen = &lastSeen
	}
	writeJSON(w, http.StatusOK, status)
}

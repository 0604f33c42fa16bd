package handler

import (
	"encoding/json"
	"net/http"

	"github.com/huddle/internal/ws"
)

// NotifyHandler принимает внутренние уведомления от соседних сервисов
// (заявки в друзья и т.п.) и проталкивает их в живое соединение адресата.
type NotifyHandler struct {
	hub *ws.Hub
}

func NewNotifyHandler(hub *ws.Hub) *NotifyHandler {
	return &NotifyHandler{hub: hub}
}

type notifyRequest struct {
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Notify доставляет событие пользователю, если он онлайн. delivered=false —
// не ошибка: адресат офлайн, отправитель сам решает, что делать дальше.
func (h *NotifyHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	evType := ws.EventType(req.Type)
	if evType == "" {
		evType = ws.EventFriendRequest
	}

	delivered := h.hub.NotifyUser(req.UserID, ws.OutgoingEvent{Type: evType, Payload: req.Payload})
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

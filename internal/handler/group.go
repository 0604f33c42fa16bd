package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/huddle/internal/middleware"
	"github.com/huddle/internal/model"
	"github.com/huddle/internal/repository"
	"github.com/huddle/internal/ws"
)

type GroupHandler struct {
	groupRepo *repository.GroupRepository
	msgRepo   *repository.MessageRepository
	reactRepo *repository.ReactionRepository
	hub       *ws.Hub
}

func NewGroupHandler(
	groupRepo *repository.GroupRepository,
	msgRepo *repository.MessageRepository,
	reactRepo *repository.ReactionRepository,
	hub *ws.Hub,
) *GroupHandler {
	return &GroupHandler{groupRepo: groupRepo, msgRepo: msgRepo, reactRepo: reactRepo, hub: hub}
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatar_url"`
	MemberIDs []string `json:"member_ids"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	g := &model.Group{
		ID:        uuid.New().String(),
		Name:      req.Name,
		AdminID:   userID,
		AvatarURL: req.AvatarURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.groupRepo.Create(r.Context(), g, req.MemberIDs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := middleware.GetUserID(r.Context())

	if !h.requireMember(w, r, groupID, userID) {
		return
	}
	g, err := h.groupRepo.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetMessages отдаёт страницу истории группы, внутри страницы старые первыми.
func (h *GroupHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := middleware.GetUserID(r.Context())

	if !h.requireMember(w, r, groupID, userID) {
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit > 100 {
		limit = 100
	}
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	messages, hasMore, err := h.msgRepo.GetGroupMessages(r.Context(), groupID, limit, (page-1)*limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if len(messages) > 0 {
		ids := make([]string, len(messages))
		for i := range messages {
			ids[i] = messages[i].ID
		}
		byMessage, err := h.reactRepo.ListByMessages(r.Context(), ids)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get reactions")
			return
		}
		for i := range messages {
			messages[i].Reactions = byMessage[messages[i].ID]
		}
	}

	reverseMessages(messages)
	writeJSON(w, http.StatusOK, messagesPage{Messages: messages, HasMore: hasMore})
}

type sendGroupMessageRequest struct {
	Content  string `json:"content"`
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// SendMessage — REST-отправка в группу через тот же конвейер, что и WebSocket.
func (h *GroupHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := middleware.GetUserID(r.Context())

	var req sendGroupMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" && req.FileURL == "" {
		writeError(w, http.StatusBadRequest, "content or file required")
		return
	}

	m, err := h.hub.SendToGroup(r.Context(), userID, groupID, ws.IncomingEvent{
		Content:  req.Content,
		FileURL:  req.FileURL,
		FileName: req.FileName,
		FileSize: req.FileSize,
		MimeType: req.MimeType,
	})
	if err != nil {
		if errors.Is(err, repository.ErrForbidden) {
			writeError(w, http.StatusForbidden, "not a member")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

// AddMember добавляет участника. Только администратор группы.
func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := middleware.GetUserID(r.Context())

	g, ok := h.requireAdmin(w, r, groupID, userID)
	if !ok {
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	if err := h.groupRepo.AddMember(r.Context(), g.ID, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RemoveMember исключает участника. Администратор исключает любого,
// обычный участник — только себя. Администратора исключить нельзя.
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	memberID := chi.URLParam(r, "userId")
	userID := middleware.GetUserID(r.Context())

	g, err := h.groupRepo.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	if userID != g.AdminID && userID != memberID {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	if err := h.groupRepo.RemoveMember(r.Context(), groupID, memberID); err != nil {
		if errors.Is(err, repository.ErrForbidden) {
			writeError(w, http.StatusForbidden, "cannot remove admin")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *GroupHandler) requireMember(w http.ResponseWriter, r *http.Request, groupID, userID string) bool {
	isMember, err := h.groupRepo.IsMember(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return false
	}
	return true
}

func (h *GroupHandler) requireAdmin(w http.ResponseWriter, r *http.Request, groupID, userID string) (*model.Group, bool) {
	g, err := h.groupRepo.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "failed to get group")
		return nil, false
	}
	if g.AdminID != userID {
		writeError(w, http.StatusForbidden, "admin only")
		return nil, false
	}
	return g, true
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/huddle/internal/middleware"
	"github.com/huddle/internal/model"
	"github.com/huddle/internal/repository"
)

type MessageHandler struct {
	msgRepo   *repository.MessageRepository
	reactRepo *repository.ReactionRepository
}

func NewMessageHandler(msgRepo *repository.MessageRepository, reactRepo *repository.ReactionRepository) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, reactRepo: reactRepo}
}

type messagesPage struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// GetConversation отдаёт страницу переписки с собеседником. Пагинация от
// новых к старым (page=1 — самые свежие), внутри страницы старые первыми.
// Это же — pull-догон для событий, пропущенных офлайн: реакции и
// прочитанность приходят вместе с сообщениями.
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "userId")
	userID := middleware.GetUserID(r.Context())

	limit := queryInt(r, "limit", 50)
	if limit > 100 {
		limit = 100
	}
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	messages, hasMore, err := h.msgRepo.GetBetween(r.Context(), userID, partnerID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if err := h.attachReactions(r, messages); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get reactions")
		return
	}

	reverseMessages(messages)
	writeJSON(w, http.StatusOK, messagesPage{Messages: messages, HasMore: hasMore})
}

// GetConversations отдаёт список переписок: собеседник, последнее
// сообщение, число непрочитанных.
func (h *MessageHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.msgRepo.GetConversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// MarkRead помечает прочитанными все входящие от собеседника.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "userId")
	userID := middleware.GetUserID(r.Context())

	if err := h.msgRepo.MarkConversationRead(r.Context(), userID, partnerID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *MessageHandler) attachReactions(r *http.Request, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
	}
	byMessage, err := h.reactRepo.ListByMessages(r.Context(), ids)
	if err != nil {
		return err
	}
	for i := range messages {
		messages[i].Reactions = byMessage[messages[i].ID]
	}
	return nil
}

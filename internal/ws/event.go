package ws

import (
	"encoding/json"

	"github.com/huddle/internal/model"
)

type EventType string

// Server → client.
const (
	EventMessageReceived EventType = "message-received"
	EventMessageSent     EventType = "message-sent"
	EventReactionUpdated EventType = "message-reaction-updated"
	EventGroupMessage    EventType = "group-message-received"
	EventUserOnline      EventType = "user-online"
	EventUserOffline     EventType = "user-offline"
	EventOnlineUsers     EventType = "online-users"
	EventCallMade        EventType = "call-made"
	EventCallAccepted    EventType = "call-accepted"
	EventCallEnded       EventType = "call-ended"
	EventFriendRequest   EventType = "friend-request"
	EventError           EventType = "error"
)

// Client → server. Typing и stop-typing идут в обе стороны с одним именем.
const (
	EventNewMessage      EventType = "new-message"
	EventNewGroupMessage EventType = "new-group-message"
	EventMessageReaction EventType = "message-reaction"
	EventTyping          EventType = "typing"
	EventStopTyping      EventType = "stop-typing"
	EventCallUser        EventType = "call-user"
	EventAnswerCall      EventType = "answer-call"
	EventEndCall         EventType = "end-call"
)

// IncomingEvent is what the client sends to the server.
type IncomingEvent struct {
	Type EventType `json:"type"`

	// Адресат: получатель сообщения / typing / звонка.
	To      string `json:"to,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	Content string `json:"content,omitempty"`

	// For attachments
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// For reactions
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// Сигнализация звонка: SDP-блоб как есть, сервер внутрь не смотрит.
	Offer  json.RawMessage `json:"offer,omitempty"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- Typed payloads for hot-path (avoid map[string]any allocations) ---

// GroupMessagePayload is pushed to group members on fan-out.
type GroupMessagePayload struct {
	GroupID string         `json:"group_id"`
	Message *model.Message `json:"message"`
}

// TypingPayload is forwarded for typing / stop-typing.
type TypingPayload struct {
	UserID string `json:"user_id"`
}

// UserStatusPayload is broadcast for user-online / user-offline.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
}

// CallMadePayload carries the caller's offer to the callee.
type CallMadePayload struct {
	From  string          `json:"from"`
	Offer json.RawMessage `json:"offer"`
}

// CallAcceptedPayload carries the callee's answer back to the caller.
type CallAcceptedPayload struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
}

// CallEndedPayload tells the other party the call attempt is over.
type CallEndedPayload struct {
	From string `json:"from"`
}

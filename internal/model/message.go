package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// MessageTypeFromMime классифицирует вложение по MIME-категории.
// Пустой MIME — обычное текстовое сообщение.
func MessageTypeFromMime(mime string) MessageType {
	switch {
	case mime == "":
		return MessageTypeText
	case strings.HasPrefix(mime, "image/"):
		return MessageTypeImage
	case strings.HasPrefix(mime, "video/"):
		return MessageTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return MessageTypeAudio
	default:
		return MessageTypeFile
	}
}

// Message — персистентное сообщение. Либо ReceiverID (личное), либо GroupID
// (групповое); ровно одно из двух непустое.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id,omitempty"`
	GroupID    string      `json:"group_id,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	FileSize   int64       `json:"file_size,omitempty"`
	MimeType   string      `json:"mime_type,omitempty"`
	Read       bool        `json:"read"`
	ReadAt     *time.Time  `json:"read_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Sender     *UserPublic `json:"sender,omitempty"`
	Reactions  []Reaction  `json:"reactions,omitempty"`
}

// Reaction — реакция на сообщение. Уникальный индекс (message_id, user_id)
// гарантирует не больше одной активной реакции на пользователя.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation — производное представление переписки с одним собеседником.
// Не хранится; пересчитывается на каждый запрос.
type Conversation struct {
	Partner     UserPublic `json:"partner"`
	LastMessage *Message   `json:"last_message,omitempty"`
	UnreadCount int        `json:"unread_count"`
}

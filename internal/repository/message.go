package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huddle/internal/logger"
	"github.com/huddle/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// msgCols — список колонок сообщения с обогащением отправителем (порядок соответствует scanMessage).
const msgCols = `m.id, m.sender_id, COALESCE(m.receiver_id,''), COALESCE(m.group_id,''), m.content, m.type,
	        COALESCE(m.file_url,''), COALESCE(m.file_name,''), COALESCE(m.file_size,0), COALESCE(m.mime_type,''),
	        m.is_read, m.read_at, m.created_at,
	        u.id, u.username, u.avatar_url, u.is_online, u.last_seen_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// scanMessage сканирует строку в model.Message (порядок соответствует msgCols).
func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.Type,
		&m.FileURL, &m.FileName, &m.FileSize, &m.MimeType,
		&m.Read, &m.ReadAt, &m.CreatedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt)
	if err != nil {
		return err
	}
	m.Sender = sender
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, group_id, content, type, file_url, file_name, file_size, mime_type, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.SenderID, nullable(m.ReceiverID), nullable(m.GroupID), m.Content, m.Type,
		m.FileURL, m.FileName, m.FileSize, m.MimeType, m.Read, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetBetween возвращает страницу переписки двух пользователей, новые первыми.
// hasMore=true, если за страницей есть ещё сообщения (запрашивается limit+1 строк).
func (r *MessageRepository) GetBetween(ctx context.Context, userID, partnerID string, limit, offset int) ([]model.Message, bool, error) {
	defer logger.DeferLogDuration("msg.GetBetween", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.group_id IS NULL
		   AND ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))
		 ORDER BY m.created_at DESC
		 LIMIT $3 OFFSET $4`, userID, partnerID, limit+1, offset,
	)
	if err != nil {
		return nil, false, fmt.Errorf("msgRepo.GetBetween query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, false, fmt.Errorf("msgRepo.GetBetween scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("msgRepo.GetBetween rows: %w", err)
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	return messages, hasMore, nil
}

// GetGroupMessages возвращает страницу истории группы, новые первыми.
func (r *MessageRepository) GetGroupMessages(ctx context.Context, groupID string, limit, offset int) ([]model.Message, bool, error) {
	defer logger.DeferLogDuration("msg.GetGroupMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.group_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT $2 OFFSET $3`, groupID, limit+1, offset,
	)
	if err != nil {
		return nil, false, fmt.Errorf("msgRepo.GetGroupMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, false, fmt.Errorf("msgRepo.GetGroupMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("msgRepo.GetGroupMessages rows: %w", err)
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	return messages, hasMore, nil
}

// MarkConversationRead помечает прочитанными все входящие от partnerID к readerID.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, readerID, partnerID string) error {
	defer logger.DeferLogDuration("msg.MarkConversationRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true, read_at = $1
		 WHERE receiver_id = $2 AND sender_id = $3 AND is_read = false`,
		time.Now().UTC(), readerID, partnerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkConversationRead: %w", err)
	}
	return nil
}

// GetConversations собирает производный список переписок: собеседник,
// последнее сообщение, число непрочитанных. Ничего не кешируется.
func (r *MessageRepository) GetConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("msg.GetConversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`, p.id, p.username, p.avatar_url, p.is_online, p.last_seen_at
		 FROM (
		     SELECT DISTINCT ON (partner_id) partner_id, id FROM (
		         SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS partner_id, id, created_at
		         FROM messages
		         WHERE group_id IS NULL AND (sender_id = $1 OR receiver_id = $1)
		     ) t ORDER BY partner_id, created_at DESC
		 ) last
		 JOIN messages m ON m.id = last.id
		 JOIN users u ON u.id = m.sender_id
		 JOIN users p ON p.id = last.partner_id
		 ORDER BY m.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversations query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		var partner model.UserPublic
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.Type,
			&m.FileURL, &m.FileName, &m.FileSize, &m.MimeType,
			&m.Read, &m.ReadAt, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt,
			&partner.ID, &partner.Username, &partner.AvatarURL, &partner.IsOnline, &partner.LastSeenAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetConversations scan: %w", err)
		}
		m.Sender = sender
		msg := m
		convs = append(convs, model.Conversation{Partner: partner, LastMessage: &msg})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversations rows: %w", err)
	}

	for i := range convs {
		err := r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM messages
			 WHERE receiver_id = $1 AND sender_id = $2 AND is_read = false`,
			userID, convs[i].Partner.ID,
		).Scan(&convs[i].UnreadCount)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.GetConversations unread: %w", err)
		}
	}
	return convs, nil
}

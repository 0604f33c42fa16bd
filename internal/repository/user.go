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

// userCols — список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, username, avatar_url, is_online, last_seen_at, created_at`

// UserRepository читает профили из таблицы users (владелец — сервис каталога)
// и пишет в неё только статус присутствия.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.IsOnline, &u.LastSeenAt, &u.CreatedAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// SetOnline обновляет статус присутствия и last_seen_at.
func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`,
		online, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// MarkAllOffline сбрасывает is_online при старте шлюза: справочник соединений
// живёт в памяти процесса, после рестарта все прежние флаги недостоверны.
func (r *UserRepository) MarkAllOffline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.MarkAllOffline", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online = true`)
	if err != nil {
		return fmt.Errorf("userRepo.MarkAllOffline: %w", err)
	}
	return nil
}

// ContactIDs возвращает адресатов presence-рассылки: друзья плюс собеседники
// по личным перепискам. Намеренно не «все подключённые» — иначе O(n²) трафика.
func (r *UserRepository) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("user.ContactIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT friend_id FROM friends WHERE user_id = $1
		 UNION
		 SELECT user_id FROM friends WHERE friend_id = $1
		 UNION
		 SELECT DISTINCT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END
		 FROM messages
		 WHERE group_id IS NULL AND (sender_id = $1 OR receiver_id = $1)`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ContactIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("userRepo.ContactIDs scan: %w", err)
		}
		if id != "" && id != userID {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ContactIDs rows: %w", err)
	}
	return ids, nil
}

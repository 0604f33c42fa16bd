package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/huddle/internal/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BlockRepository читает таблицу blocks (управляется профильной частью
// приложения). Realtime-ядру нужна только проверка взаимной блокировки.
type BlockRepository struct {
	pool *pgxpool.Pool
}

func NewBlockRepository(pool *pgxpool.Pool) *BlockRepository {
	return &BlockRepository{pool: pool}
}

// IsBlocked — true, если любой из двух заблокировал другого.
func (r *BlockRepository) IsBlocked(ctx context.Context, userID, otherID string) (bool, error) {
	defer logger.DeferLogDuration("block.IsBlocked", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM blocks
		     WHERE (user_id = $1 AND blocked_id = $2) OR (user_id = $2 AND blocked_id = $1)
		 )`, userID, otherID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blockRepo.IsBlocked: %w", err)
	}
	return exists, nil
}

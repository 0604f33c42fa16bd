package storage

import (
	"context"
	"time"
)

// EphemeralStore — быстрое хранилище для CRUD-стороны приложения: зеркало
// присутствия (онлайн/last seen, читается страницами профилей без похода в
// шлюз) и push-подписки браузеров.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type EphemeralStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)

	AddPushSubscription(ctx context.Context, userID string, sub []byte) error
	PushSubscriptions(ctx context.Context, userID string) ([][]byte, error)
	RemovePushSubscription(ctx context.Context, userID, endpoint string) error

	Close() error
}

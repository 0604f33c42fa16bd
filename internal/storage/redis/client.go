package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Онлайн-флаг живёт с TTL: если шлюз умер и не снял флаг, ключ истечёт сам.
	onlineTTL       = 90 * time.Second
	lastSeenTTL     = 90 * 24 * time.Hour
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetOnline ставит presence:online:{user}. Шлюз обновляет ключ на каждый connect;
// TTL страхует от зависшего флага при падении процесса.
func (c *Client) SetOnline(ctx context.Context, userID string) error {
	return c.cli.Set(ctx, "presence:online:"+userID, "1", onlineTTL).Err()
}

// SetOffline снимает онлайн-флаг и пишет last seen (unix) для страниц профилей.
func (c *Client) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	pipe := c.cli.Pipeline()
	pipe.Del(ctx, "presence:online:"+userID)
	pipe.Set(ctx, "presence:last_seen:"+userID, strconv.FormatInt(lastSeen.Unix(), 10), lastSeenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// IsOnline проверяет presence:online:{user}.
func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.cli.Exists(ctx, "presence:online:"+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastSeen возвращает последнее время выхода пользователя. ok=false — записи нет.
func (c *Client) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := c.cli.Get(ctx, "presence:last_seen:"+userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis last_seen parse: %w", err)
	}
	return time.Unix(sec, 0).UTC(), true, nil
}

// AddPushSubscription добавляет подписку в push:subs:{user} (список, максимум maxSubsPerUser).
func (c *Client) AddPushSubscription(ctx context.Context, userID string, sub []byte) error {
	key := "push:subs:" + userID
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, string(sub))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// PushSubscriptions возвращает все подписки пользователя.
func (c *Client) PushSubscriptions(ctx context.Context, userID string) ([][]byte, error) {
	list, err := c.cli.LRange(ctx, "push:subs:"+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([][]byte, 0, len(list))
	for _, item := range list {
		subs = append(subs, []byte(item))
	}
	return subs, nil
}

// RemovePushSubscription удаляет подписку по endpoint (например после 404/410 от push-шлюза).
func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	key := "push:subs:" + userID
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	var kept []string
	for _, item := range list {
		var sub struct {
			Endpoint string `json:"endpoint"`
		}
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	pipe := c.cli.Pipeline()
	pipe.Del(ctx, key)
	for _, v := range kept {
		pipe.RPush(ctx, key, v)
	}
	if len(kept) > 0 {
		pipe.Expire(ctx, key, subscriptionTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

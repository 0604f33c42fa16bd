package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const maxSubsPerUser = 10

// Client — in-memory реализация storage.EphemeralStore для -dev без Redis.
type Client struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	lastSeen map[string]time.Time
	subs     map[string][][]byte
}

func New() *Client {
	return &Client{
		online:   make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		subs:     make(map[string][][]byte),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOnline(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[userID] = struct{}{}
	return nil
}

func (c *Client) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, userID)
	c.lastSeen[userID] = lastSeen
	return nil
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.online[userID]
	return ok, nil
}

func (c *Client) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.lastSeen[userID]
	return t, ok, nil
}

func (c *Client) AddPushSubscription(ctx context.Context, userID string, sub []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(sub))
	copy(cp, sub)
	list := append(c.subs[userID], cp)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	c.subs[userID] = list
	return nil
}

func (c *Client) PushSubscriptions(ctx context.Context, userID string) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.subs[userID]
	out := make([][]byte, len(list))
	copy(out, list)
	return out, nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept [][]byte
	for _, item := range c.subs[userID] {
		var sub struct {
			Endpoint string `json:"endpoint"`
		}
		if json.Unmarshal(item, &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		delete(c.subs, userID)
	} else {
		c.subs[userID] = kept
	}
	return nil
}

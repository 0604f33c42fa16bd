package push

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/huddle/internal/logger"
)

// Subscription — подписка Web Push из браузера.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscriptionStore хранит подписки пользователя (реализуется storage.EphemeralStore).
type SubscriptionStore interface {
	AddPushSubscription(ctx context.Context, userID string, sub []byte) error
	PushSubscriptions(ctx context.Context, userID string) ([][]byte, error)
	RemovePushSubscription(ctx context.Context, userID, endpoint string) error
}

// Sender отправляет Web Push напрямую (VAPID). Нужен для оффлайн-получателей:
// сообщение уже персистентно, пуш — только уведомление, не доставка.
type Sender struct {
	store SubscriptionStore
	vapid *webpush.Options
}

// NewSender создаёт отправителя. Пустые ключи — отправка отключена,
// подписки при этом сохраняются.
func NewSender(store SubscriptionStore, publicKey, privateKey string) *Sender {
	var opts *webpush.Options
	if publicKey != "" && privateKey != "" {
		opts = &webpush.Options{
			Subscriber:      "huddle-realtime",
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             30,
		}
	}
	return &Sender{store: store, vapid: opts}
}

// Enabled — true, если заданы VAPID-ключи.
func (s *Sender) Enabled() bool { return s != nil && s.vapid != nil }

// Subscribe сохраняет подписку пользователя.
func (s *Sender) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.store.AddPushSubscription(ctx, userID, raw)
}

// Unsubscribe удаляет подписку по endpoint.
func (s *Sender) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return s.store.RemovePushSubscription(ctx, userID, endpoint)
}

// Notify отправляет уведомление на все подписки пользователя.
// Ошибки только логируются: пуш — best-effort поверх pull-истории.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s == nil || s.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	list, err := s.store.PushSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push subscriptions user=%s: %v", userID, err)
		return
	}
	if len(list) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for _, raw := range list {
		var sub Subscription
		if json.Unmarshal(raw, &sub) != nil || sub.Endpoint == "" {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("push send %s: %v", truncEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		// 404/410 — подписка протухла, браузер её отозвал
		if resp.StatusCode == 404 || resp.StatusCode == 410 {
			if err := s.store.RemovePushSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push remove stale sub user=%s: %v", userID, err)
			}
		}
	}
}

func truncEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return strings.TrimSpace(e)
}

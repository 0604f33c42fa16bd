package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huddle/internal/logger"
	"github.com/huddle/internal/model"
	"github.com/huddle/internal/repository"
)

// Хранилища описаны узкими интерфейсами со стороны потребителя:
// в проде их реализуют репозитории, в тестах — фейки без БД.

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
}

type ReactionStore interface {
	Get(ctx context.Context, messageID, userID string) (string, error)
	Set(ctx context.Context, messageID, userID, emoji string) error
	Remove(ctx context.Context, messageID, userID string) error
	ListByMessage(ctx context.Context, messageID string) ([]model.Reaction, error)
}

type GroupStore interface {
	MemberIDs(ctx context.Context, groupID string) ([]string, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
	ContactIDs(ctx context.Context, userID string) ([]string, error)
}

type BlockStore interface {
	IsBlocked(ctx context.Context, userID, otherID string) (bool, error)
}

// PresenceCache зеркалирует онлайн-статус во внешнее хранилище (Redis),
// чтобы другие сервисы читали присутствие без обращения к шлюзу. Если nil —
// зеркалирование выключено.
type PresenceCache interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Hub struct {
	dir        *Directory
	relay      *CallRelay
	msgRepo    MessageStore
	userRepo   UserStore
	groupRepo  GroupStore
	reactRepo  ReactionStore
	blockRepo  BlockStore
	cache      PresenceCache
	pushClient PushNotifier
	maxConns   int
	register   chan conn
	unregister chan conn
	done       chan struct{}
}

func NewHub(
	msgRepo MessageStore,
	userRepo UserStore,
	groupRepo GroupStore,
	reactRepo ReactionStore,
	blockRepo BlockStore,
	cache PresenceCache,
	pushClient PushNotifier,
	maxConns int,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	dir := NewDirectory()
	return &Hub{
		dir:        dir,
		relay:      NewCallRelay(dir),
		msgRepo:    msgRepo,
		userRepo:   userRepo,
		groupRepo:  groupRepo,
		reactRepo:  reactRepo,
		blockRepo:  blockRepo,
		cache:      cache,
		pushClient: pushClient,
		maxConns:   maxConns,
		register:   make(chan conn, 64),
		unregister: make(chan conn, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			close(h.done)
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) shutdown() {
	// Справочник очищается под мьютексом, сетевой I/O — снаружи.
	for _, c := range h.dir.drain() {
		c.Close()
	}
}

func (h *Hub) addClient(c conn) {
	userID := c.UserID()
	if _, online := h.dir.Lookup(userID); !online && h.dir.Len() >= h.maxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, userID)
		c.Close()
		return
	}

	replaced := h.dir.Register(c)
	if replaced != nil {
		// Переподключение: последнее соединение побеждает, старое закрываем.
		replaced.Close()
	}
	logger.Debugf("ws connected user=%s online=%d", userID, h.dir.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.userRepo.SetOnline(ctx, userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", userID, err)
	}
	if h.cache != nil {
		if err := h.cache.SetOnline(ctx, userID); err != nil {
			logger.Errorf("ws presence cache online user=%s: %v", userID, err)
		}
	}

	// Переход offline→online рассылается только при свежем подключении;
	// переподключение переходом не считается.
	if replaced == nil {
		h.broadcastPresence(userID, true)
	}

	// Новому клиенту — срез всех, кто сейчас онлайн.
	c.Deliver(OutgoingEvent{Type: EventOnlineUsers, Payload: h.dir.Snapshot()})
}

func (h *Hub) removeClient(c conn) {
	current := h.dir.Unregister(c)
	c.Close()
	if !current {
		// Устаревшее соединение: пользователь уже переподключился,
		// его новую запись не трогаем и offline не объявляем.
		return
	}

	userID := c.UserID()
	logger.Debugf("ws disconnected user=%s online=%d", userID, h.dir.Len())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	if err := h.userRepo.SetOnline(ctx, userID, false); err != nil {
		logger.Errorf("ws set offline user=%s: %v", userID, err)
	}
	if h.cache != nil {
		if err := h.cache.SetOffline(ctx, userID, now); err != nil {
			logger.Errorf("ws presence cache offline user=%s: %v", userID, err)
		}
	}
	h.broadcastPresence(userID, false)
}

// broadcastPresence рассылает переход online/offline контактам пользователя:
// друзьям и собеседникам. Контакты офлайн пропускаются молча.
func (h *Hub) broadcastPresence(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contactIDs, err := h.userRepo.ContactIDs(ctx, userID)
	if err != nil {
		logger.Errorf("ws get contacts for presence broadcast user=%s: %v", userID, err)
		return
	}

	out := OutgoingEvent{Type: evType, Payload: UserStatusPayload{UserID: userID}}
	for _, uid := range contactIDs {
		if target, ok := h.dir.Lookup(uid); ok {
			target.Deliver(out)
		}
	}
}

// HandleEvent dispatches incoming WebSocket events.
func (h *Hub) HandleEvent(ctx context.Context, c conn, ev IncomingEvent) {
	switch ev.Type {
	case EventNewMessage:
		h.handleNewMessage(ctx, c, ev)
	case EventNewGroupMessage:
		h.handleNewGroupMessage(ctx, c, ev)
	case EventMessageReaction:
		h.handleReaction(ctx, c, ev)
	case EventTyping, EventStopTyping:
		h.handleTyping(c, ev)
	case EventCallUser:
		h.relay.Initiate(c.UserID(), ev.To, ev.Offer)
	case EventAnswerCall:
		h.relay.Answer(c.UserID(), ev.To, ev.Answer)
	case EventEndCall:
		h.relay.End(c.UserID(), ev.To)
	default:
		c.Deliver(OutgoingEvent{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleNewMessage(ctx context.Context, c conn, ev IncomingEvent) {
	if ev.To == "" || (ev.Content == "" && ev.FileURL == "") {
		c.Deliver(OutgoingEvent{Type: EventError, Payload: "to and content required"})
		return
	}
	if _, err := h.SendDirect(ctx, c.UserID(), ev); err != nil {
		if errors.Is(err, repository.ErrForbidden) {
			c.Deliver(OutgoingEvent{Type: EventError, Payload: "recipient is unavailable"})
			return
		}
		logger.Errorf("ws send message from=%s to=%s: %v", c.UserID(), ev.To, err)
		c.Deliver(OutgoingEvent{Type: EventError, Payload: "failed to send message"})
	}
}

func (h *Hub) handleNewGroupMessage(ctx context.Context, c conn, ev IncomingEvent) {
	if ev.GroupID == "" || (ev.Content == "" && ev.FileURL == "") {
		c.Deliver(OutgoingEvent{Type: EventError, Payload: "group_id and content required"})
		return
	}
	if _, err := h.SendToGroup(ctx, c.UserID(), ev.GroupID, ev); err != nil {
		if errors.Is(err, repository.ErrForbidden) {
			c.Deliver(OutgoingEvent{Type: EventError, Payload: "not a member"})
			return
		}
		logger.Errorf("ws group message from=%s group=%s: %v", c.UserID(), ev.GroupID, err)
		c.Deliver(OutgoingEvent{Type: EventError, Payload: "failed to send message"})
	}
}

func (h *Hub) handleReaction(ctx context.Context, c conn, ev IncomingEvent) {
	if ev.MessageID == "" || ev.Emoji == "" {
		c.Deliver(OutgoingEvent{Type: EventError, Payload: "message_id and emoji required"})
		return
	}
	if _, err := h.React(ctx, c.UserID(), ev.MessageID, ev.Emoji); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.Deliver(OutgoingEvent{Type: EventError, Payload: "message not found"})
			return
		}
		logger.Errorf("ws reaction user=%s message=%s: %v", c.UserID(), ev.MessageID, err)
		c.Deliver(OutgoingEvent{Type: EventError, Payload: "failed to update reaction"})
	}
}

// handleTyping пересылает typing / stop-typing адресату как есть.
// Ничего не сохраняется; если адресат офлайн, событие пропадает.
func (h *Hub) handleTyping(c conn, ev IncomingEvent) {
	if ev.To == "" {
		return
	}
	if target, ok := h.dir.Lookup(ev.To); ok {
		target.Deliver(OutgoingEvent{Type: ev.Type, Payload: TypingPayload{UserID: c.UserID()}})
	}
}

// SendDirect проводит личное сообщение через весь конвейер: проверка
// блокировки, запись в БД, доставка получателю (или пуш, если он офлайн)
// и эхо отправителю. Вызывается и из WebSocket, и из REST.
func (h *Hub) SendDirect(ctx context.Context, senderID string, ev IncomingEvent) (*model.Message, error) {
	defer logger.DeferLogDuration("ws.SendDirect", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	blocked, err := h.blockRepo.IsBlocked(ctx, senderID, ev.To)
	if err != nil {
		return nil, fmt.Errorf("ws.SendDirect: %w", err)
	}
	if blocked {
		return nil, repository.ErrForbidden
	}

	m := h.buildMessage(senderID, ev)
	m.ReceiverID = ev.To
	if err := h.msgRepo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("ws.SendDirect: %w", err)
	}
	h.attachSender(ctx, m)

	// Доставка живому соединению получателя; офлайн — пуш-уведомление,
	// само сообщение он дочитает из истории при следующем входе.
	if target, ok := h.dir.Lookup(ev.To); ok {
		target.Deliver(OutgoingEvent{Type: EventMessageReceived, Payload: m})
	} else {
		h.notifyPush(ev.To, m)
	}

	// Эхо на текущее соединение отправителя.
	if self, ok := h.dir.Lookup(senderID); ok {
		self.Deliver(OutgoingEvent{Type: EventMessageSent, Payload: m})
	}
	return m, nil
}

// SendToGroup рассылает сообщение группы всем участникам, кроме отправителя.
// Состав участников перечитывается на каждую отправку: исключённые после
// вступления в силу изменения ничего не получают.
func (h *Hub) SendToGroup(ctx context.Context, senderID, groupID string, ev IncomingEvent) (*model.Message, error) {
	defer logger.DeferLogDuration("ws.SendToGroup", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.groupRepo.IsMember(ctx, groupID, senderID)
	if err != nil {
		return nil, fmt.Errorf("ws.SendToGroup: %w", err)
	}
	if !isMember {
		return nil, repository.ErrForbidden
	}

	m := h.buildMessage(senderID, ev)
	m.GroupID = groupID
	if err := h.msgRepo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("ws.SendToGroup: %w", err)
	}
	h.attachSender(ctx, m)

	memberIDs, err := h.groupRepo.MemberIDs(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("ws.SendToGroup: %w", err)
	}

	out := OutgoingEvent{Type: EventGroupMessage, Payload: GroupMessagePayload{GroupID: groupID, Message: m}}
	for _, uid := range memberIDs {
		if uid == senderID {
			continue
		}
		if target, ok := h.dir.Lookup(uid); ok {
			target.Deliver(out)
		} else {
			h.notifyPush(uid, m)
		}
	}
	return m, nil
}

// React переключает реакцию пользователя на сообщении: та же эмодзи убирает
// реакцию, другая — заменяет. У пользователя не больше одной активной
// реакции на сообщение. Обновлённое сообщение целиком рассылается обоим
// участникам переписки (или участникам группы).
func (h *Hub) React(ctx context.Context, userID, messageID, emoji string) (*model.Message, error) {
	defer logger.DeferLogDuration("ws.React", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	current, err := h.reactRepo.Get(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if current == emoji {
		err = h.reactRepo.Remove(ctx, messageID, userID)
	} else {
		err = h.reactRepo.Set(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return nil, err
	}

	reactions, err := h.reactRepo.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	m.Reactions = reactions

	out := OutgoingEvent{Type: EventReactionUpdated, Payload: m}
	if m.GroupID != "" {
		memberIDs, err := h.groupRepo.MemberIDs(ctx, m.GroupID)
		if err != nil {
			logger.Errorf("ws get members for reaction group=%s: %v", m.GroupID, err)
			return m, nil
		}
		for _, uid := range memberIDs {
			if target, ok := h.dir.Lookup(uid); ok {
				target.Deliver(out)
			}
		}
		return m, nil
	}
	for _, uid := range []string{m.SenderID, m.ReceiverID} {
		if target, ok := h.dir.Lookup(uid); ok {
			target.Deliver(out)
		}
	}
	return m, nil
}

// NotifyUser доставляет произвольное событие на текущее соединение
// пользователя. Используется внутренними уведомлениями (заявки в друзья).
func (h *Hub) NotifyUser(userID string, ev OutgoingEvent) bool {
	target, ok := h.dir.Lookup(userID)
	if !ok {
		return false
	}
	return target.Deliver(ev)
}

// OnlineUserIDs возвращает срез всех пользователей онлайн.
func (h *Hub) OnlineUserIDs() []string {
	return h.dir.Snapshot()
}

func (h *Hub) buildMessage(senderID string, ev IncomingEvent) *model.Message {
	// Нормализация имени файла: "+" часто приходит вместо пробела (URL-кодирование).
	fileName := strings.TrimSpace(strings.ReplaceAll(ev.FileName, "+", " "))
	return &model.Message{
		ID:        uuid.New().String(),
		SenderID:  senderID,
		Content:   ev.Content,
		Type:      model.MessageTypeFromMime(ev.MimeType),
		FileURL:   ev.FileURL,
		FileName:  fileName,
		FileSize:  ev.FileSize,
		MimeType:  ev.MimeType,
		CreatedAt: time.Now().UTC(),
	}
}

func (h *Hub) attachSender(ctx context.Context, m *model.Message) {
	sender, err := h.userRepo.GetByID(ctx, m.SenderID)
	if err != nil {
		logger.Errorf("ws get sender user=%s: %v", m.SenderID, err)
		return
	}
	pub := sender.ToPublic()
	m.Sender = &pub
}

// notifyPush отправляет пуш-уведомление офлайн-получателю. Ошибки доставки
// не влияют на конвейер сообщения.
func (h *Hub) notifyPush(userID string, m *model.Message) {
	if h.pushClient == nil {
		return
	}
	senderName := ""
	if m.Sender != nil {
		senderName = m.Sender.Username
	}
	if senderName == "" {
		senderName = "Сообщение"
	}
	body := m.Content
	if m.Type != model.MessageTypeText || body == "" {
		body = "Вложение"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"message_id": m.ID, "sender_id": m.SenderID}
	if m.GroupID != "" {
		data["group_id"] = m.GroupID
	}
	go h.pushClient.Notify(context.Background(), userID, senderName, body, data)
}

func (h *Hub) Register(c conn) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

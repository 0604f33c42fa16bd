package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddle/internal/model"
	"github.com/huddle/internal/repository"
)

// --- фейковые хранилища ---

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*model.Message)}
}

func (s *fakeMessageStore) Create(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *fakeMessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type fakeReactionStore struct {
	mu sync.Mutex
	// emoji по ключу messageID+"|"+userID
	emojis map[string]string
}

func newFakeReactionStore() *fakeReactionStore {
	return &fakeReactionStore{emojis: make(map[string]string)}
}

func (s *fakeReactionStore) Get(ctx context.Context, messageID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emojis[messageID+"|"+userID], nil
}

func (s *fakeReactionStore) Set(ctx context.Context, messageID, userID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emojis[messageID+"|"+userID] = emoji
	return nil
}

func (s *fakeReactionStore) Remove(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.emojis, messageID+"|"+userID)
	return nil
}

func (s *fakeReactionStore) ListByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reactions := make([]model.Reaction, 0, 4)
	for key, emoji := range s.emojis {
		if len(key) > len(messageID) && key[:len(messageID)] == messageID && key[len(messageID)] == '|' {
			reactions = append(reactions, model.Reaction{
				MessageID: messageID,
				UserID:    key[len(messageID)+1:],
				Emoji:     emoji,
			})
		}
	}
	return reactions, nil
}

type fakeGroupStore struct {
	mu      sync.Mutex
	members map[string][]string
}

func (s *fakeGroupStore) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.members[groupID]...), nil
}

func (s *fakeGroupStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeGroupStore) setMembers(groupID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID] = ids
}

type fakeUserStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	contacts map[string][]string
	online   map[string]bool
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) SetOnline(ctx context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = online
	return nil
}

func (s *fakeUserStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.contacts[userID]...), nil
}

func (s *fakeUserStore) isOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

type fakeBlockStore struct {
	mu    sync.Mutex
	pairs map[string]bool
}

func (s *fakeBlockStore) IsBlocked(ctx context.Context, userID, otherID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairs[userID+"|"+otherID] || s.pairs[otherID+"|"+userID], nil
}

func (s *fakeBlockStore) block(userID, otherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[userID+"|"+otherID] = true
}

type fakePresenceCache struct {
	mu       sync.Mutex
	online   map[string]bool
	lastSeen map[string]time.Time
}

func (s *fakePresenceCache) SetOnline(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = true
	return nil
}

func (s *fakePresenceCache) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = false
	s.lastSeen[userID] = lastSeen
	return nil
}

type pushCall struct {
	userID string
	title  string
	body   string
	data   map[string]string
}

type fakePush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *fakePush) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{userID: userID, title: title, body: body, data: data})
}

func (p *fakePush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePush) callsFor(userID string) []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushCall
	for _, c := range p.calls {
		if c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

type hubFixture struct {
	hub    *Hub
	msgs   *fakeMessageStore
	users  *fakeUserStore
	groups *fakeGroupStore
	reacts *fakeReactionStore
	blocks *fakeBlockStore
	cache  *fakePresenceCache
	push   *fakePush
}

func newHubFixture() *hubFixture {
	f := &hubFixture{
		msgs:   newFakeMessageStore(),
		reacts: newFakeReactionStore(),
		groups: &fakeGroupStore{members: make(map[string][]string)},
		users: &fakeUserStore{
			users:    make(map[string]*model.User),
			contacts: make(map[string][]string),
			online:   make(map[string]bool),
		},
		blocks: &fakeBlockStore{pairs: make(map[string]bool)},
		cache:  &fakePresenceCache{online: make(map[string]bool), lastSeen: make(map[string]time.Time)},
		push:   &fakePush{},
	}
	f.hub = NewHub(f.msgs, f.users, f.groups, f.reacts, f.blocks, f.cache, f.push, 100)
	return f
}

func (f *hubFixture) addUser(id, username string, contacts ...string) {
	f.users.users[id] = &model.User{ID: id, Username: username}
	f.users.contacts[id] = contacts
}

// connect регистрирует фейковое соединение напрямую, минуя цикл Run.
func (f *hubFixture) connect(userID string) *fakeConn {
	c := newFakeConn(userID)
	f.hub.addClient(c)
	return c
}

// --- присутствие ---

func TestAddClientBroadcastsOnline(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice", "bob")
	f.addUser("bob", "Bob", "alice")

	bob := f.connect("bob")
	alice := f.connect("alice")

	online := bob.eventsOfType(EventUserOnline)
	require.Len(t, online, 1)
	assert.Equal(t, UserStatusPayload{UserID: "alice"}, online[0].Payload)

	// Новому клиенту приходит срез всех, кто онлайн.
	snap := alice.eventsOfType(EventOnlineUsers)
	require.Len(t, snap, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, snap[0].Payload.([]string))

	assert.True(t, f.users.isOnline("alice"))
	assert.True(t, f.cache.online["alice"])
}

func TestRemoveClientBroadcastsOffline(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice", "bob")
	f.addUser("bob", "Bob", "alice")

	bob := f.connect("bob")
	alice := f.connect("alice")

	f.hub.removeClient(alice)

	offline := bob.eventsOfType(EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, UserStatusPayload{UserID: "alice"}, offline[0].Payload)
	assert.False(t, f.users.isOnline("alice"))
	assert.False(t, f.cache.online["alice"])
	assert.False(t, f.cache.lastSeen["alice"].IsZero())
}

func TestReconnectReplacesConnection(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice", "bob")
	f.addUser("bob", "Bob", "alice")

	bob := f.connect("bob")
	first := f.connect("alice")
	second := f.connect("alice")

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	// Переподключение — не переход offline→online: второй user-online не шлётся.
	assert.Len(t, bob.eventsOfType(EventUserOnline), 1)

	// Запоздалое отключение старого соединения не объявляет пользователя офлайн.
	f.hub.removeClient(first)
	assert.Empty(t, bob.eventsOfType(EventUserOffline))
	assert.True(t, f.users.isOnline("alice"))

	got, ok := f.hub.dir.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got.(*fakeConn))
}

func TestConnectionLimitRejectsNewUsers(t *testing.T) {
	f := newHubFixture()
	f.hub.maxConns = 1
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")

	f.connect("alice")
	bob := f.connect("bob")

	assert.True(t, bob.isClosed())
	_, ok := f.hub.dir.Lookup("bob")
	assert.False(t, ok)

	// Переподключение существующего пользователя лимит не блокирует.
	second := f.connect("alice")
	assert.False(t, second.isClosed())
}

// --- личные сообщения ---

func TestSendDirectDeliversToOnlineRecipient(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	alice := f.connect("alice")
	bob := f.connect("bob")

	m, err := f.hub.SendDirect(context.Background(), "alice", IncomingEvent{
		Type: EventNewMessage, To: "bob", Content: "привет",
	})
	require.NoError(t, err)
	require.NotNil(t, m)

	received := bob.eventsOfType(EventMessageReceived)
	require.Len(t, received, 1)
	got := received[0].Payload.(*model.Message)
	assert.Equal(t, "привет", got.Content)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, model.MessageTypeText, got.Type)
	require.NotNil(t, got.Sender)
	assert.Equal(t, "Alice", got.Sender.Username)

	// Эхо отправителю.
	echo := alice.eventsOfType(EventMessageSent)
	require.Len(t, echo, 1)
	assert.Equal(t, m.ID, echo[0].Payload.(*model.Message).ID)

	assert.Equal(t, 1, f.msgs.count())
	assert.Equal(t, 0, f.push.count())
}

func TestSendDirectOfflineRecipientGetsPush(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	f.connect("alice")

	m, err := f.hub.SendDirect(context.Background(), "alice", IncomingEvent{
		Type: EventNewMessage, To: "bob", Content: "ты где?",
	})
	require.NoError(t, err)

	// Сообщение сохранено: получатель дочитает его из истории.
	assert.Equal(t, 1, f.msgs.count())

	assert.Eventually(t, func() bool { return f.push.count() == 1 }, time.Second, 10*time.Millisecond)
	calls := f.push.callsFor("bob")
	require.Len(t, calls, 1)
	assert.Equal(t, "Alice", calls[0].title)
	assert.Equal(t, "ты где?", calls[0].body)
	assert.Equal(t, m.ID, calls[0].data["message_id"])
}

func TestSendDirectBlockedFails(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	f.connect("alice")
	bob := f.connect("bob")
	f.blocks.block("bob", "alice")

	_, err := f.hub.SendDirect(context.Background(), "alice", IncomingEvent{
		Type: EventNewMessage, To: "bob", Content: "привет",
	})
	assert.ErrorIs(t, err, repository.ErrForbidden)
	assert.Equal(t, 0, f.msgs.count())
	assert.Empty(t, bob.eventsOfType(EventMessageReceived))
}

func TestSendDirectAttachmentWithoutContent(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	bob := f.connect("bob")

	_, err := f.hub.SendDirect(context.Background(), "alice", IncomingEvent{
		Type: EventNewMessage, To: "bob",
		FileURL: "https://files.local/cat.jpg", FileName: "cat+photo.jpg", MimeType: "image/jpeg",
	})
	require.NoError(t, err)

	received := bob.eventsOfType(EventMessageReceived)
	require.Len(t, received, 1)
	got := received[0].Payload.(*model.Message)
	assert.Equal(t, model.MessageTypeImage, got.Type)
	assert.Equal(t, "cat photo.jpg", got.FileName)
}

// --- реакции ---

func TestReactionToggle(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	alice := f.connect("alice")
	bob := f.connect("bob")

	m, err := f.hub.SendDirect(context.Background(), "alice", IncomingEvent{
		Type: EventNewMessage, To: "bob", Content: "смотри",
	})
	require.NoError(t, err)

	// Первая реакция — ставится.
	got, err := f.hub.React(context.Background(), "bob", m.ID, "👍")
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "👍", got.Reactions[0].Emoji)

	// Та же эмодзи повторно — снимается.
	got, err = f.hub.React(context.Background(), "bob", m.ID, "👍")
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)

	// Другая эмодзи заменяет предыдущую: не больше одной на пользователя.
	_, err = f.hub.React(context.Background(), "bob", m.ID, "👍")
	require.NoError(t, err)
	got, err = f.hub.React(context.Background(), "bob", m.ID, "❤️")
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "❤️", got.Reactions[0].Emoji)

	// Каждое изменение дошло обоим участникам переписки.
	assert.Len(t, alice.eventsOfType(EventReactionUpdated), 4)
	assert.Len(t, bob.eventsOfType(EventReactionUpdated), 4)
}

func TestReactionOnMissingMessage(t *testing.T) {
	f := newHubFixture()
	f.addUser("bob", "Bob")
	f.connect("bob")

	_, err := f.hub.React(context.Background(), "bob", "no-such-id", "👍")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// Блокировка не мешает реакциям: проверяется только существование сообщения.
func TestReactionIgnoresBlocks(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	f.connect("alice")
	f.connect("bob")

	m, err := f.hub.SendDirect(context.Background(), "alice", IncomingEvent{
		Type: EventNewMessage, To: "bob", Content: "до блокировки",
	})
	require.NoError(t, err)

	f.blocks.block("alice", "bob")
	got, err := f.hub.React(context.Background(), "bob", m.ID, "👍")
	require.NoError(t, err)
	assert.Len(t, got.Reactions, 1)
}

// --- группы ---

func TestGroupFanOutExcludesSender(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	f.addUser("carol", "Carol")
	f.groups.setMembers("g1", []string{"alice", "bob", "carol"})

	alice := f.connect("alice")
	bob := f.connect("bob")
	carol := f.connect("carol")

	m, err := f.hub.SendToGroup(context.Background(), "alice", "g1", IncomingEvent{
		Type: EventNewGroupMessage, Content: "всем привет",
	})
	require.NoError(t, err)

	for _, c := range []*fakeConn{bob, carol} {
		got := c.eventsOfType(EventGroupMessage)
		require.Len(t, got, 1)
		payload := got[0].Payload.(GroupMessagePayload)
		assert.Equal(t, "g1", payload.GroupID)
		assert.Equal(t, m.ID, payload.Message.ID)
	}
	assert.Empty(t, alice.eventsOfType(EventGroupMessage))
}

func TestGroupMembershipReadPerSend(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	f.addUser("carol", "Carol")
	f.groups.setMembers("g1", []string{"alice", "bob", "carol"})

	f.connect("alice")
	f.connect("bob")
	carol := f.connect("carol")

	_, err := f.hub.SendToGroup(context.Background(), "alice", "g1", IncomingEvent{Content: "раз"})
	require.NoError(t, err)
	assert.Len(t, carol.eventsOfType(EventGroupMessage), 1)

	// Состав перечитывается на каждую отправку: исключённый участник
	// следующее сообщение не получает.
	f.groups.setMembers("g1", []string{"alice", "bob"})
	_, err = f.hub.SendToGroup(context.Background(), "alice", "g1", IncomingEvent{Content: "два"})
	require.NoError(t, err)
	assert.Len(t, carol.eventsOfType(EventGroupMessage), 1)
}

func TestGroupSendByNonMember(t *testing.T) {
	f := newHubFixture()
	f.addUser("mallory", "Mallory")
	f.groups.setMembers("g1", []string{"alice", "bob"})
	f.connect("mallory")

	_, err := f.hub.SendToGroup(context.Background(), "mallory", "g1", IncomingEvent{Content: "пустите"})
	assert.ErrorIs(t, err, repository.ErrForbidden)
	assert.Equal(t, 0, f.msgs.count())
}

func TestGroupOfflineMembersGetPush(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	f.addUser("carol", "Carol")
	f.groups.setMembers("g1", []string{"alice", "bob", "carol"})

	f.connect("alice")
	f.connect("bob")
	// carol офлайн

	_, err := f.hub.SendToGroup(context.Background(), "alice", "g1", IncomingEvent{Content: "собрание в пять"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.push.count() == 1 }, time.Second, 10*time.Millisecond)
	calls := f.push.callsFor("carol")
	require.Len(t, calls, 1)
	assert.Equal(t, "g1", calls[0].data["group_id"])
}

// --- typing ---

func TestTypingForwardedWithoutPersistence(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	alice := f.connect("alice")
	bob := f.connect("bob")

	f.hub.handleTyping(alice, IncomingEvent{Type: EventTyping, To: "bob"})
	f.hub.handleTyping(alice, IncomingEvent{Type: EventStopTyping, To: "bob"})

	typing := bob.eventsOfType(EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, TypingPayload{UserID: "alice"}, typing[0].Payload)
	assert.Len(t, bob.eventsOfType(EventStopTyping), 1)

	// Ничего не сохраняется.
	assert.Equal(t, 0, f.msgs.count())

	// Адресат офлайн — событие молча пропадает.
	f.hub.handleTyping(alice, IncomingEvent{Type: EventTyping, To: "nobody"})
}

// --- уведомления ---

func TestNotifyUser(t *testing.T) {
	f := newHubFixture()
	f.addUser("bob", "Bob")
	bob := f.connect("bob")

	ok := f.hub.NotifyUser("bob", OutgoingEvent{Type: EventFriendRequest, Payload: UserStatusPayload{UserID: "alice"}})
	assert.True(t, ok)
	assert.Len(t, bob.eventsOfType(EventFriendRequest), 1)

	assert.False(t, f.hub.NotifyUser("nobody", OutgoingEvent{Type: EventFriendRequest}))
}

// --- сигнализация звонков ---

func TestCallRelayForwardsOpaquePayloads(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.addUser("bob", "Bob")
	alice := f.connect("alice")
	bob := f.connect("bob")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 fake"}`)
	require.True(t, f.hub.relay.Initiate("alice", "bob", offer))

	made := bob.eventsOfType(EventCallMade)
	require.Len(t, made, 1)
	payload := made[0].Payload.(CallMadePayload)
	assert.Equal(t, "alice", payload.From)
	// SDP-блоб пересылается байт в байт, сервер его не разбирает.
	assert.JSONEq(t, string(offer), string(payload.Offer))

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0 fake2"}`)
	require.True(t, f.hub.relay.Answer("bob", "alice", answer))
	accepted := alice.eventsOfType(EventCallAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "bob", accepted[0].Payload.(CallAcceptedPayload).From)

	require.True(t, f.hub.relay.End("alice", "bob"))
	ended := bob.eventsOfType(EventCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, CallEndedPayload{From: "alice"}, ended[0].Payload)
}

func TestCallRelayOfflineCallee(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	f.connect("alice")

	assert.False(t, f.hub.relay.Initiate("alice", "bob", json.RawMessage(`{}`)))
	assert.False(t, f.hub.relay.Answer("alice", "bob", json.RawMessage(`{}`)))
	assert.False(t, f.hub.relay.End("alice", "bob"))
}

// --- диспетчеризация ---

func TestHandleEventUnknownType(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	alice := f.connect("alice")

	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: "no-such-event"})

	errs := alice.eventsOfType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "unknown event type", errs[0].Payload)
}

func TestHandleEventValidation(t *testing.T) {
	f := newHubFixture()
	f.addUser("alice", "Alice")
	alice := f.connect("alice")

	// new-message без адресата и без содержимого.
	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventNewMessage})
	// реакция без emoji.
	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventMessageReaction, MessageID: "m1"})
	// групповое без group_id.
	f.hub.HandleEvent(context.Background(), alice, IncomingEvent{Type: EventNewGroupMessage, Content: "hi"})

	assert.Len(t, alice.eventsOfType(EventError), 3)
	assert.Equal(t, 0, f.msgs.count())
}

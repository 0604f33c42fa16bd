package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn реализует conn для тестов без WebSocket-соединений.
type fakeConn struct {
	mu     sync.Mutex
	userID string
	events []OutgoingEvent
	closed bool
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{userID: userID}
}

func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Deliver(ev OutgoingEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) eventsOfType(t EventType) []OutgoingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []OutgoingEvent
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestDirectoryRegisterAndLookup(t *testing.T) {
	d := NewDirectory()
	a := newFakeConn("alice")

	replaced := d.Register(a)
	assert.Nil(t, replaced)

	got, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, a, got.(*fakeConn))

	_, ok = d.Lookup("bob")
	assert.False(t, ok)
	assert.Equal(t, 1, d.Len())
}

func TestDirectoryLastConnectionWins(t *testing.T) {
	d := NewDirectory()
	first := newFakeConn("alice")
	second := newFakeConn("alice")

	require.Nil(t, d.Register(first))
	replaced := d.Register(second)
	require.NotNil(t, replaced)
	assert.Same(t, first, replaced.(*fakeConn))

	got, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got.(*fakeConn))
	assert.Equal(t, 1, d.Len())
}

func TestDirectoryStaleUnregisterKeepsCurrent(t *testing.T) {
	d := NewDirectory()
	first := newFakeConn("alice")
	second := newFakeConn("alice")

	d.Register(first)
	d.Register(second)

	// Запоздалое отключение вытесненного соединения не должно
	// трогать запись переподключившегося пользователя.
	assert.False(t, d.Unregister(first))

	got, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got.(*fakeConn))

	assert.True(t, d.Unregister(second))
	_, ok = d.Lookup("alice")
	assert.False(t, ok)
}

func TestDirectorySnapshot(t *testing.T) {
	d := NewDirectory()
	d.Register(newFakeConn("alice"))
	d.Register(newFakeConn("bob"))
	d.Register(newFakeConn("carol"))

	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, d.Snapshot())
}

func TestDirectoryDrain(t *testing.T) {
	d := NewDirectory()
	d.Register(newFakeConn("alice"))
	d.Register(newFakeConn("bob"))

	conns := d.drain()
	assert.Len(t, conns, 2)
	assert.Equal(t, 0, d.Len())
	assert.Empty(t, d.Snapshot())
}

func TestDirectoryConcurrentAccess(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("user-%d", i%10)
			c := newFakeConn(uid)
			d.Register(c)
			d.Lookup(uid)
			d.Snapshot()
			d.Unregister(c)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, d.Len(), 10)
}

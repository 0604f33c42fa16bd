package ws

import "sync"

// conn — минимальный интерфейс живого соединения для справочника.
// *Client реализует его; в тестах подставляются фейки.
type conn interface {
	UserID() string
	Deliver(ev OutgoingEvent) bool
	Close()
}

// Directory отображает user ID на его единственное активное соединение.
// Повторное подключение того же пользователя вытесняет предыдущее:
// последнее соединение побеждает.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]conn
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]conn)}
}

// Register записывает c как текущее соединение пользователя и возвращает
// вытесненное, если оно было. Закрывает вытесненное вызывающий — сетевой
// I/O под мьютексом не делаем.
func (d *Directory) Register(c conn) (replaced conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	replaced = d.entries[c.UserID()]
	d.entries[c.UserID()] = c
	return replaced
}

// Unregister удаляет запись, только если c всё ещё текущее соединение
// пользователя. Возвращает false для устаревшего соединения: пользователь
// уже переподключился, и его новую запись трогать нельзя.
func (d *Directory) Unregister(c conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.entries[c.UserID()]; !ok || cur != c {
		return false
	}
	delete(d.entries, c.UserID())
	return true
}

func (d *Directory) Lookup(userID string) (conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.entries[userID]
	return c, ok
}

// Snapshot возвращает список ID всех пользователей онлайн.
func (d *Directory) Snapshot() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	return ids
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// drain очищает справочник и возвращает все соединения (для shutdown).
func (d *Directory) drain() []conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := make([]conn, 0, len(d.entries))
	for _, c := range d.entries {
		conns = append(conns, c)
	}
	d.entries = make(map[string]conn)
	return conns
}

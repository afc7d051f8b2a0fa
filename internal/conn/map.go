package conn

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/senutpal/paxosvs/internal/wire"
)

// MapReceiveHandler is invoked for every message received on any connection
// in the Map, tagged with the sending uid.
type MapReceiveHandler func(uid uuid.UUID, m wire.Message)

// MapFailHandler is invoked when the connection for uid fails; by the time
// it runs, uid has already been removed from the Map.
type MapFailHandler func(uid uuid.UUID)

// Map is a uid->Connection container: broadcast fans sends across every
// entry, and a single on-receive/on-fail pair demultiplexes every
// connection's events.
type Map struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*Connection

	onReceive MapReceiveHandler
	onFail    MapFailHandler
}

// NewMap creates an empty connection map.
func NewMap() *Map {
	return &Map{connections: make(map[uuid.UUID]*Connection)}
}

// OnReceive installs the map-wide receive callback.
func (m *Map) OnReceive(handler MapReceiveHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReceive = handler
}

// OnFail installs the map-wide fail callback.
func (m *Map) OnFail(handler MapFailHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFail = handler
}

// Len reports how many connections are currently tracked.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Contains reports whether uid has a tracked connection.
func (m *Map) Contains(uid uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connections[uid]
	return ok
}

// ensure returns the connection for uid, creating and wiring a fresh one
// (with its on-receive/on-fail routed to the map-wide handlers) if absent.
func (m *Map) ensure(uid uuid.UUID) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.connections[uid]; ok {
		return c
	}

	c := New()
	c.OnFail(func() {
		m.mu.Lock()
		_, ok := m.connections[uid]
		if ok {
			delete(m.connections, uid)
		}
		handler := m.onFail
		m.mu.Unlock()

		if ok && handler != nil {
			handler(uid)
		}
	})
	c.OnReceive(func(received wire.Message) {
		m.mu.RLock()
		handler := m.onReceive
		m.mu.RUnlock()

		if handler != nil {
			handler(uid, received)
		}
	})

	m.connections[uid] = c
	return c
}

// Send sends m to the connection identified by uid; uid must already be
// tracked.
func (m *Map) Send(uid uuid.UUID, msg wire.Message) error {
	m.mu.RLock()
	c, ok := m.connections[uid]
	m.mu.RUnlock()

	if !ok {
		return errors.Errorf("unknown connection uid: %s", uid)
	}

	c.Send(msg)
	return nil
}

// Broadcast sends m to every tracked connection, concurrently.
func (m *Map) Broadcast(msg wire.Message) {
	m.mu.RLock()
	uids := make([]uuid.UUID, 0, len(m.connections))
	for uid := range m.connections {
		uids = append(uids, uid)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, uid := range uids {
		wg.Add(1)
		go func(uid uuid.UUID) {
			defer wg.Done()
			_ = m.Send(uid, msg)
		}(uid)
	}
	wg.Wait()
}

// Close closes the connection for uid and removes it from the map; uid must
// already be tracked.
func (m *Map) Close(uid uuid.UUID) error {
	m.mu.Lock()
	c, ok := m.connections[uid]
	if ok {
		delete(m.connections, uid)
	}
	m.mu.Unlock()

	if !ok {
		return errors.Errorf("unknown connection uid: %s", uid)
	}

	c.Close()
	return nil
}

// Clear closes every tracked connection and removes the on-receive handler.
func (m *Map) Clear() {
	m.mu.Lock()
	uids := make([]uuid.UUID, 0, len(m.connections))
	for uid := range m.connections {
		uids = append(uids, uid)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, uid := range uids {
		wg.Add(1)
		go func(uid uuid.UUID) {
			defer wg.Done()
			_ = m.Close(uid)
		}(uid)
	}
	wg.Wait()

	m.OnReceive(nil)
}

// EnsureWriter installs w as the writer for uid, creating the connection
// entry if it does not exist yet.
func (m *Map) EnsureWriter(uid uuid.UUID, w net.Conn) {
	m.ensure(uid).SetWriter(w)
}

// EnsureReader installs r (with its associated writer) as the reader for
// uid, creating the connection entry if it does not exist yet.
func (m *Map) EnsureReader(uid uuid.UUID, r net.Conn, associated net.Conn) {
	m.ensure(uid).SetReader(r, associated)
}

package connections

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TimeoutConfig holds the various timeout settings for status WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// Entry is one live status channel.
type Entry struct {
	ID     string
	Conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewEntry ties a connection to the cancel func of its read loop.
func NewEntry(id string, conn *websocket.Conn, cancel context.CancelFunc) *Entry {
	return &Entry{ID: id, Conn: conn, cancel: cancel}
}

// Close stops the read loop and closes the underlying socket.
func (e *Entry) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.Conn == nil {
		return nil
	}
	return e.Conn.Close()
}

// Manager keeps at most one status connection per phantom ID.
type Manager struct {
	connections sync.Map
	mu          sync.RWMutex
	timeouts    TimeoutConfig
}

// NewManager creates a new connection manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

// Add registers entry under its ID and returns the entry it replaced, if any.
// The caller is responsible for closing the previous entry.
func (m *Manager) Add(entry *Entry) *Entry {
	prev, loaded := m.connections.Swap(entry.ID, entry)
	if !loaded {
		return nil
	}
	return prev.(*Entry)
}

// Replace swaps old for next only if old is still registered.
func (m *Manager) Replace(old, next *Entry) bool {
	return m.connections.CompareAndSwap(old.ID, old, next)
}

// Remove deletes entry only if it is still the registered one for its ID.
func (m *Manager) Remove(entry *Entry) bool {
	return m.connections.CompareAndDelete(entry.ID, entry)
}

// Take removes and returns whatever entry is registered for id.
func (m *Manager) Take(id string) *Entry {
	v, ok := m.connections.LoadAndDelete(id)
	if !ok {
		return nil
	}
	return v.(*Entry)
}

// Get returns the entry registered for id.
func (m *Manager) Get(id string) (*Entry, bool) {
	v, ok := m.connections.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Has reports whether id has a registered entry.
func (m *Manager) Has(id string) bool {
	_, ok := m.connections.Load(id)
	return ok
}

// Owns reports whether entry is the current registration for its ID.
func (m *Manager) Owns(entry *Entry) bool {
	v, ok := m.connections.Load(entry.ID)
	return ok && v.(*Entry) == entry
}

// Count returns the current number of active connections
func (m *Manager) Count() int {
	count := 0
	m.connections.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// IDs lists the registered phantom IDs in no particular order.
func (m *Manager) IDs() []string {
	var ids []string
	m.connections.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// CloseAll closes and removes every entry.
func (m *Manager) CloseAll() {
	m.connections.Range(func(key, value any) bool {
		if m.connections.CompareAndDelete(key, value) {
			_ = value.(*Entry).Close()
		}
		return true
	})
}

// GetTimeouts returns the current timeout configuration
func (m *Manager) GetTimeouts() TimeoutConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeouts
}

// SetTimeouts updates the timeout configuration
func (m *Manager) SetTimeouts(timeouts TimeoutConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = timeouts
}

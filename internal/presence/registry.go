package presence

import (
	"sort"
	"sync"

	"echohub/internal/models"
)

// entry pairs the registered connection identifier with the channel the
// gateway writes outbound events to.
type entry struct {
	connID string
	send   chan models.ServerEvent
}

// Registry is the live mapping from user ID to its current connection.
// At most one connection per user: a new registration for the same user
// overwrites the previous one (last handshake wins). The registry is the
// only state shared between concurrently handled connections, so every
// mutation and every channel send happens under the lock. Closing a send
// channel only ever happens under the write lock, which makes it safe
// against concurrent Push/Broadcast calls holding the read lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register inserts or overwrites the entry for userID. If an older
// connection was registered for the same user its send channel is closed,
// which tells that connection's write loop it has been superseded.
func (r *Registry) Register(userID, connID string, send chan models.ServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[userID]; ok && old.connID != connID {
		close(old.send)
	}
	r.entries[userID] = entry{connID: connID, send: send}
}

// Unregister removes the entry for userID only if it still belongs to
// connID. A disconnect of an old connection racing with a newer
// registration for the same user must not wipe the newer entry.
// Reports whether an entry was removed.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || e.connID != connID {
		return false
	}
	close(e.send)
	delete(r.entries, userID)
	return true
}

// Lookup returns the connection identifier registered for userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	return e.connID, ok
}

// Snapshot returns the sorted set of currently registered user IDs.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Push delivers one event to the connection registered for userID.
// The send is non-blocking: if the connection's buffer is full the event
// is dropped, the durable store being the source of truth for history.
// Reports whether the event was handed to a connection.
func (r *Registry) Push(userID string, ev models.ServerEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	select {
	case e.send <- ev:
		return true
	default:
		return false
	}
}

// BroadcastAll sends the event to every registered connection,
// non-blocking per connection.
func (r *Registry) BroadcastAll(ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		select {
		case e.send <- ev:
		default:
		}
	}
}

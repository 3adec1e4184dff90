package relay

import "sync"

// Entry is one (identifier, connection) pair.
type Entry struct {
	ID   string
	Conn *Conn
}

// Registry maps identifiers to the one live connection registered under
// each. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Insert maps id to conn unconditionally and returns the connection it
// replaced, if any. Disposing of the previous connection is the caller's job.
func (r *Registry) Insert(id string, conn *Conn) (prev *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev = r.conns[id]
	r.conns[id] = conn
	return prev
}

// Lookup returns the connection registered under id.
func (r *Registry) Lookup(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// RemoveIfCurrent deletes id only while it still maps to conn, so a stale
// disconnect cannot evict a newer registration.
func (r *Registry) RemoveIfCurrent(id string, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[id]; !ok || cur != conn {
		return false
	}
	delete(r.conns, id)
	return true
}

// Snapshot copies the current entries. Later changes to the registry do
// not affect the returned slice.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.conns))
	for id, conn := range r.conns {
		entries = append(entries, Entry{ID: id, Conn: conn})
	}
	return entries
}

// Len returns the number of registered identifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection with code and text. Entries
// are removed by their sessions as they exit.
func (r *Registry) CloseAll(code int, text string) {
	for _, e := range r.Snapshot() {
		e.Conn.CloseWithReason(code, text)
	}
}

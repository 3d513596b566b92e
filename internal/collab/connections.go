package collab

import "sync"

// Conn is the outbound half of one live transport channel.
// Send must not block; a connection that cannot keep up reports an error.
type Conn interface {
	ID() string
	Send(OutboundEvent) error
}

// Removal describes what RemoveConnection found.
type Removal struct {
	UserID string
	// Found is false when the connection was never registered or already removed.
	Found bool
	// WasLastConnection reports that the user has no connections left.
	WasLastConnection bool
}

// ConnectionRegistry tracks the live connections of each authenticated user.
// A user key exists only while its connection set is non-empty.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	conns  map[string]registeredConn
}

type registeredConn struct {
	userID string
	conn   Conn
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[string]map[string]struct{}),
		conns:  make(map[string]registeredConn),
	}
}

// AddConnection registers conn under userID. Re-adding the same connection is a no-op.
func (r *ConnectionRegistry) AddConnection(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if existing, ok := r.conns[id]; ok {
		if existing.userID == userID {
			return
		}
		r.detach(existing.userID, id)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[id] = struct{}{}
	r.conns[id] = registeredConn{userID: userID, conn: conn}
}

// RemoveConnection unregisters a connection and reports whether its owner
// has any connections left.
func (r *ConnectionRegistry) RemoveConnection(connID string) Removal {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conns[connID]
	if !ok {
		return Removal{}
	}
	delete(r.conns, connID)
	last := r.detach(existing.userID, connID)

	return Removal{UserID: existing.userID, Found: true, WasLastConnection: last}
}

// detach removes connID from userID's set and prunes the set when empty.
// Callers hold r.mu.
func (r *ConnectionRegistry) detach(userID, connID string) bool {
	set := r.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// HasAnyConnection reports whether userID has at least one live connection.
func (r *ConnectionRegistry) HasAnyConnection(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Lookup returns the registered connection with the given id.
func (r *ConnectionRegistry) Lookup(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c.conn, ok
}

// ConnectionsOf returns the ids of userID's live connections.
func (r *ConnectionRegistry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

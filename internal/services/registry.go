package services

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Conn is a live connection handle owned by exactly one user
type Conn interface {
	Send(msg WSMessage) error
	Close() error
}

// Registry maps user IDs to their single live connection
type Registry interface {
	// Register stores conn for userID and returns the handle it replaced, if any
	Register(userID string, conn Conn) Conn
	// Lookup returns the live handle of userID
	Lookup(userID string) (Conn, bool)
	// Unregister removes userID only while it still maps to conn
	Unregister(userID string, conn Conn) bool
	// Broadcast sends msg to every connection except the one owned by exceptUserID
	Broadcast(msg WSMessage, exceptUserID string)
	// OnlineUserIDs lists connected users
	OnlineUserIDs() []string
	// LocalConnections snapshots the handles accepted by this process
	LocalConnections() map[string]Conn
}

// MemoryRegistry is a single-node Registry
type MemoryRegistry struct {
	mu          sync.RWMutex
	connections map[string]Conn
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		connections: make(map[string]Conn),
	}
}

// Register implements Registry. Last writer wins.
func (r *MemoryRegistry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.connections[userID]
	r.connections[userID] = conn
	return previous
}

// Lookup implements Registry
func (r *MemoryRegistry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[userID]
	return conn, ok
}

// Unregister implements Registry
func (r *MemoryRegistry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.connections[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.connections, userID)
	return true
}

// Broadcast implements Registry
func (r *MemoryRegistry) Broadcast(msg WSMessage, exceptUserID string) {
	type target struct {
		userID string
		conn   Conn
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.connections))
	for userID, conn := range r.connections {
		if userID != exceptUserID {
			targets = append(targets, target{userID: userID, conn: conn})
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if err := t.conn.Send(msg); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", t.userID).
				Str("type", msg.Type).
				Msg("Failed to broadcast message")
		}
	}
}

// OnlineUserIDs implements Registry
func (r *MemoryRegistry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.connections))
	for userID := range r.connections {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// LocalConnections implements Registry
func (r *MemoryRegistry) LocalConnections() map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make(map[string]Conn, len(r.connections))
	for userID, conn := range r.connections {
		conns[userID] = conn
	}
	return conns
}

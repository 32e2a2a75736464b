package chat

import (
	"sync"

	domain "github.com/example/chat-backend/domain/chat"
)

// Sessions binds connection ids to the (username, room) pair established
// on join. Every event handler other than join resolves the acting
// identity here instead of trusting client-supplied values.
type Sessions struct {
	mu       sync.RWMutex
	byConnID map[string]domain.Session
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{byConnID: make(map[string]domain.Session)}
}

// Bind records the session for a connection, replacing any previous one.
func (s *Sessions) Bind(connID, username string, roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConnID[connID] = domain.Session{ConnID: connID, Username: username, RoomID: roomID}
}

// Lookup resolves the session bound to a connection.
func (s *Sessions) Lookup(connID string) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byConnID[connID]
	return sess, ok
}

// Unbind destroys the session for a connection. Unbinding an absent
// connection is a no-op.
func (s *Sessions) Unbind(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byConnID, connID)
}

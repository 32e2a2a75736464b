package chat

import (
	"sync"

	domain "github.com/example/chat-backend/domain/chat"
)

// Registry tracks which usernames are active in which rooms. A username
// is a room-scoped identity slot: the same name may be live in two
// different rooms at once, but at most once per room. Implementations
// must make the duplicate check and the insert atomic with respect to
// concurrent registrations of the same (room, username) pair.
//
// The registry is volatile by design: state is rebuilt from nothing on
// process restart. It is injected rather than global so a distributed
// deployment can back it with a shared store.
type Registry interface {
	// Register claims (roomID, username). Returns ErrDuplicateIdentity
	// if the pair is already live.
	Register(roomID int64, username string) error
	// Unregister releases (roomID, username). Removing an absent entry
	// is a no-op.
	Unregister(roomID int64, username string)
}

// memoryRegistry is the in-process Registry. One mutex guards the whole
// map; the check-then-insert for a key happens under a single lock hold.
type memoryRegistry struct {
	mu    sync.Mutex
	rooms map[int64]map[string]struct{}
}

// NewRegistry creates the in-memory presence registry.
func NewRegistry() Registry {
	return &memoryRegistry{rooms: make(map[int64]map[string]struct{})}
}

func (r *memoryRegistry) Register(roomID int64, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	if _, live := members[username]; live {
		return domain.ErrDuplicateIdentity
	}
	members[username] = struct{}{}
	return nil
}

func (r *memoryRegistry) Unregister(roomID int64, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, username)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

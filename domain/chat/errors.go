package chat

import "errors"

// Error taxonomy for the chat core. Handlers translate these into
// protocol rejections or HTTP statuses; anything else is treated as a
// persistence failure and reported only to the acting connection.
var (
	// ErrDuplicateIdentity is returned when a username is already active
	// in the target room. The offending connection must be closed.
	ErrDuplicateIdentity = errors.New("username already active in room")

	// ErrInvalidContent is returned for empty or whitespace-only message
	// content, before storage is touched.
	ErrInvalidContent = errors.New("message content is empty")

	// ErrUnauthorizedOrNotFound is returned when an edit or delete targets
	// a message that does not exist or is not owned by the acting
	// username. The two cases are deliberately indistinguishable so that
	// non-owners cannot probe for message existence.
	ErrUnauthorizedOrNotFound = errors.New("not allowed or message not found")

	// ErrNotFound is returned for lookups of entities that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotJoined is returned when a connection sends message, edit or
	// delete events before a successful join.
	ErrNotJoined = errors.New("connection has not joined a room")
)

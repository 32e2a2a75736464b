package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageStoredEvent is emitted after a message has been durably created.
// It carries only the (room, username, content) triple: the archiver
// consumes it as an independent, non-authoritative persistence path and
// performs no authorization, reply-linking or broadcasting.
type MessageStoredEvent struct {
	RoomID    int64     `json:"room_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the chat domain.
var MessageStoredV1 = helper.EventDefinition[MessageStoredEvent](
	"chat",
	"MessageStored",
	"v1",
)

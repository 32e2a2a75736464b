package gateway

import "encoding/json"

// Inbound frame types accepted on the WebSocket endpoint.
const (
	frameJoin    = "join"
	frameMessage = "message"
	frameEdit    = "edit_message"
	frameDelete  = "delete_message"
)

// Outbound event types.
const (
	eventJoined         = "joined"
	eventHistory        = "history"
	eventPresenceNote   = "presence-note"
	eventMessageCreated = "message-created"
	eventMessageEdited  = "message-edited"
	eventMessageDeleted = "message-deleted"
	eventParentRedacted = "parent-redacted"
	eventRejected       = "rejected"
)

// Rejection reasons reported to the acting connection.
const (
	reasonDuplicateIdentity      = "duplicate_identity"
	reasonInvalidContent         = "invalid_content"
	reasonUnauthorizedOrNotFound = "unauthorized_or_not_found"
	reasonNotFound               = "not_found"
	reasonPersistenceFailure     = "persistence_failure"
)

// inboundFrame is the envelope for every client-to-server message.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// joinPayload is the payload for the join frame.
type joinPayload struct {
	Username string `json:"username"`
	RoomID   int64  `json:"room_id"`
}

// messagePayload is the payload for the message frame. The sender's
// identity and room come from the bound session, not the payload.
type messagePayload struct {
	Content   string `json:"content"`
	RepliedTo *uint  `json:"replied_to,omitempty"`
}

// editPayload is the payload for the edit_message frame.
type editPayload struct {
	MessageID uint   `json:"message_id"`
	Content   string `json:"content"`
}

// deletePayload is the payload for the delete_message frame.
type deletePayload struct {
	MessageID uint `json:"message_id"`
}

// joinedPayload confirms the connection and hands out its ID.
type joinedPayload struct {
	ConnID string `json:"conn_id"`
}

// presenceNotePayload is an informational room notice.
type presenceNotePayload struct {
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
}

// messageDeletedPayload announces a soft-delete to the room.
type messageDeletedPayload struct {
	ID     uint  `json:"id"`
	RoomID int64 `json:"room_id"`
}

// parentRedactedPayload tells the room that a reply's parent changed.
// NewText and ParentUser are set for edits and omitted for deletes.
type parentRedactedPayload struct {
	ParentID   uint    `json:"parent_id"`
	ChildID    uint    `json:"child_id"`
	RoomID     int64   `json:"room_id"`
	NewText    *string `json:"new_text,omitempty"`
	ParentUser *string `json:"parent_user,omitempty"`
}

// rejectedPayload reports a failed operation to the acting connection only.
type rejectedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// editRequest is the body of PATCH /api/v1/messages/:id.
type editRequest struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// deleteRequest is the body of DELETE /api/v1/messages/:id.
type deleteRequest struct {
	Username string `json:"username"`
}

// uploadResponse is the body returned by POST /upload.
type uploadResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

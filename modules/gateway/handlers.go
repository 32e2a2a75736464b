package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	domain "github.com/example/chat-backend/domain/chat"
	"github.com/example/chat-backend/modules/broadcast"
	"github.com/example/chat-backend/modules/chat"
	"github.com/example/chat-backend/modules/files"
)

// Handlers contains the WebSocket and REST handlers.
type Handlers struct {
	service *chat.Service
	hub     *broadcast.Hub
	files   *files.Service
}

// NewHandlers creates a new handlers instance.
func NewHandlers(service *chat.Service, hub *broadcast.Hub, fileService *files.Service) *Handlers {
	return &Handlers{
		service: service,
		hub:     hub,
		files:   fileService,
	}
}

// HandleWebSocket drives one connection: attach, serve frames serially in
// arrival order, then unwind presence and notify the room on disconnect.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	connID := uuid.New().String()
	h.hub.Attach(connID, c)

	defer func() {
		h.hub.Detach(connID)
		if sess, ok := h.service.Disconnect(connID); ok {
			h.hub.ToRoom(sess.RoomID, eventPresenceNote, presenceNotePayload{
				RoomID:  sess.RoomID,
				Content: fmt.Sprintf("%s left room %d.", sess.Username, sess.RoomID),
			})
		}
		c.Close()
		log.Printf("[gateway] Connection %s closed", connID)
	}()

	h.hub.ToConn(connID, eventJoined, joinedPayload{ConnID: connID})
	log.Printf("[gateway] Connection %s established", connID)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[gateway] Connection %s read error: %v", connID, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.reject(connID, reasonInvalidContent, "malformed frame")
			continue
		}
		h.handleFrame(c, connID, frame)
	}
}

// handleFrame routes one inbound frame. conn is only needed by join,
// which must be able to drop the connection on a duplicate username.
func (h *Handlers) handleFrame(conn io.Closer, connID string, frame inboundFrame) {
	switch frame.Type {
	case frameJoin:
		h.handleJoin(conn, connID, frame.Payload)
	case frameMessage:
		h.handleMessage(connID, frame.Payload)
	case frameEdit:
		h.handleEdit(connID, frame.Payload)
	case frameDelete:
		h.handleDelete(connID, frame.Payload)
	default:
		h.reject(connID, reasonInvalidContent, "unknown frame type: "+frame.Type)
	}
}

// handleJoin binds a session and replays history. On a duplicate username
// the rejection is flushed first, then the connection is forcibly closed.
func (h *Handlers) handleJoin(conn io.Closer, connID string, payload json.RawMessage) {
	var req joinPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.reject(connID, reasonInvalidContent, "invalid join payload")
		return
	}
	if _, ok := h.service.Lookup(connID); ok {
		h.reject(connID, reasonInvalidContent, "already joined a room")
		return
	}

	history, err := h.service.Join(context.Background(), connID, req.Username, req.RoomID)
	if err != nil {
		h.reject(connID, reasonFor(err), rejectText(err))
		if errors.Is(err, domain.ErrDuplicateIdentity) {
			conn.Close()
		}
		return
	}

	username := strings.TrimSpace(req.Username)
	h.hub.JoinRoom(connID, req.RoomID)
	h.hub.ToConn(connID, eventHistory, history)
	h.hub.ToConn(connID, eventPresenceNote, presenceNotePayload{
		RoomID:  req.RoomID,
		Content: fmt.Sprintf("You joined room %d.", req.RoomID),
	})
	h.hub.ToRoom(req.RoomID, eventPresenceNote, presenceNotePayload{
		RoomID:  req.RoomID,
		Content: fmt.Sprintf("%s joined room %d.", username, req.RoomID),
	})
}

// handleMessage persists a new message, then announces it room-wide.
func (h *Handlers) handleMessage(connID string, payload json.RawMessage) {
	sess, ok := h.service.Lookup(connID)
	if !ok {
		h.reject(connID, reasonUnauthorizedOrNotFound, domain.ErrNotJoined.Error())
		return
	}

	var req messagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.reject(connID, reasonInvalidContent, "invalid message payload")
		return
	}

	view, err := h.service.Post(context.Background(), sess.Username, sess.RoomID, req.Content, req.RepliedTo)
	if err != nil {
		h.reject(connID, reasonFor(err), rejectText(err))
		return
	}

	h.hub.ToRoom(sess.RoomID, eventMessageCreated, view)
}

// handleEdit rewrites a message the session's user authored, then tells
// the room, then notifies once per reply referencing it.
func (h *Handlers) handleEdit(connID string, payload json.RawMessage) {
	sess, ok := h.service.Lookup(connID)
	if !ok {
		h.reject(connID, reasonUnauthorizedOrNotFound, domain.ErrNotJoined.Error())
		return
	}

	var req editPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.reject(connID, reasonInvalidContent, "invalid edit payload")
		return
	}

	view, err := h.service.Edit(context.Background(), req.MessageID, sess.Username, req.Content)
	if err != nil {
		h.reject(connID, reasonFor(err), rejectText(err))
		return
	}

	h.hub.ToRoom(view.RoomID, eventMessageEdited, view)
	h.redactChildren(view.RoomID, view.ID, view.Content, &view.Username)
}

// handleDelete soft-deletes a message the session's user authored.
func (h *Handlers) handleDelete(connID string, payload json.RawMessage) {
	sess, ok := h.service.Lookup(connID)
	if !ok {
		h.reject(connID, reasonUnauthorizedOrNotFound, domain.ErrNotJoined.Error())
		return
	}

	var req deletePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.reject(connID, reasonInvalidContent, "invalid delete payload")
		return
	}

	if err := h.service.Delete(context.Background(), req.MessageID, sess.Username); err != nil {
		h.reject(connID, reasonFor(err), rejectText(err))
		return
	}

	h.hub.ToRoom(sess.RoomID, eventMessageDeleted, messageDeletedPayload{
		ID:     req.MessageID,
		RoomID: sess.RoomID,
	})
	h.redactChildren(sess.RoomID, req.MessageID, nil, nil)
}

// redactChildren emits parent-redacted once per reply of parentID, in id
// order, after the triggering broadcast. newText and parentUser are set
// for edits and nil for deletes.
func (h *Handlers) redactChildren(roomID int64, parentID uint, newText *string, parentUser *string) {
	children, err := h.service.Children(context.Background(), parentID)
	if err != nil {
		log.Printf("[gateway] Failed to load children of message %d: %v", parentID, err)
		return
	}

	for _, childID := range children {
		h.hub.ToRoom(roomID, eventParentRedacted, parentRedactedPayload{
			ParentID:   parentID,
			ChildID:    childID,
			RoomID:     roomID,
			NewText:    newText,
			ParentUser: parentUser,
		})
	}
}

// reject reports a failed operation to the acting connection only.
func (h *Handlers) reject(connID, reason, message string) {
	h.hub.ToConn(connID, eventRejected, rejectedPayload{
		Reason:  reason,
		Message: message,
	})
}

// reasonFor maps a service error onto the wire-level rejection reason.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateIdentity):
		return reasonDuplicateIdentity
	case errors.Is(err, domain.ErrInvalidContent):
		return reasonInvalidContent
	case errors.Is(err, domain.ErrUnauthorizedOrNotFound):
		return reasonUnauthorizedOrNotFound
	case errors.Is(err, domain.ErrNotFound):
		return reasonNotFound
	default:
		return reasonPersistenceFailure
	}
}

// rejectText picks the client-facing message. Storage failures stay
// generic so no backend detail crosses the wire.
func rejectText(err error) string {
	if reasonFor(err) == reasonPersistenceFailure {
		return "operation failed"
	}
	return err.Error()
}

// REST handlers

// GetRoomHistory handles GET /api/v1/rooms/:id/history.
func (h *Handlers) GetRoomHistory(c *fiber.Ctx) error {
	roomID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "room id must be an integer",
		})
	}

	limit := c.QueryInt("limit", 0)
	history, err := h.service.History(c.Context(), roomID, limit)
	if err != nil {
		log.Printf("[gateway] Failed to load history for room %d: %v", roomID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load history",
		})
	}
	return c.JSON(history)
}

// EditMessage handles PATCH /api/v1/messages/:id. The claimed username is
// verified against the stored author, same rule as the WebSocket path.
func (h *Handlers) EditMessage(c *fiber.Ctx) error {
	messageID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message id must be an integer",
		})
	}

	var req editRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	view, err := h.service.Edit(c.Context(), uint(messageID), req.Username, req.Content)
	if err != nil {
		return h.messageError(c, err)
	}
	return c.JSON(view)
}

// DeleteMessage handles DELETE /api/v1/messages/:id as a soft-delete.
func (h *Handlers) DeleteMessage(c *fiber.Ctx) error {
	messageID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message id must be an integer",
		})
	}

	var req deleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.service.Delete(c.Context(), uint(messageID), req.Username); err != nil {
		return h.messageError(c, err)
	}
	return c.JSON(fiber.Map{
		"deleted": true,
		"id":      messageID,
	})
}

// messageError renders an edit/delete failure with the right status code.
func (h *Handlers) messageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrUnauthorizedOrNotFound):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrInvalidContent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		log.Printf("[gateway] Message operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "operation failed",
		})
	}
}

// UploadFile handles POST /upload (multipart, field "file").
func (h *Handlers) UploadFile(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "multipart field 'file' is required",
		})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to read uploaded file",
		})
	}

	meta, err := h.files.Upload(c.Context(), fileHeader.Filename, data, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("[gateway] Upload failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "upload failed",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(uploadResponse{
		ID:          meta.ID,
		Name:        meta.Name,
		Size:        meta.Size,
		ContentType: meta.ContentType,
		URL:         "/uploads/" + meta.ID,
	})
}

// DownloadFile handles GET /uploads/:id.
func (h *Handlers) DownloadFile(c *fiber.Ctx) error {
	data, meta, err := h.files.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "file not found",
			})
		}
		log.Printf("[gateway] Download failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "download failed",
		})
	}

	c.Set(fiber.HeaderContentType, meta.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", meta.Name))
	return c.Send(data)
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "chat-backend",
	})
}

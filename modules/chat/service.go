package chat

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/go-monolith/mono"

	domain "github.com/example/chat-backend/domain/chat"
	"github.com/example/chat-backend/events"
	"github.com/example/chat-backend/modules/storage"
)

// Service is the message lifecycle manager. It drives create, edit and
// soft delete against the persistence port, resolves reply previews, and
// owns the presence registry and session bindings. All durable mutations
// complete before the caller gets a result, so broadcasts issued
// afterwards never announce state a concurrent history reader could miss.
type Service struct {
	store    *storage.Store
	registry Registry
	sessions *Sessions
	bus      mono.EventBus
}

// NewService creates a new Service. bus may be nil in tests; the
// fire-and-forget archive event is then skipped.
func NewService(store *storage.Store, registry Registry, sessions *Sessions, bus mono.EventBus) *Service {
	return &Service{store: store, registry: registry, sessions: sessions, bus: bus}
}

// Join claims (room, username) in the presence registry, lazily creates
// the user and room, binds the connection's session, and returns the
// room backlog. On ErrDuplicateIdentity nothing is registered and the
// caller must close the connection. A persistence failure after the
// presence claim releases the claim before returning.
func (s *Service) Join(ctx context.Context, connID, username string, roomID int64) (*domain.History, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.ErrInvalidContent
	}

	if err := s.registry.Register(roomID, username); err != nil {
		return nil, err
	}

	history, err := s.prepareJoin(ctx, connID, username, roomID)
	if err != nil {
		s.registry.Unregister(roomID, username)
		return nil, err
	}
	return history, nil
}

func (s *Service) prepareJoin(ctx context.Context, connID, username string, roomID int64) (*domain.History, error) {
	if _, err := s.store.FindOrCreateUser(ctx, username); err != nil {
		return nil, err
	}
	if _, err := s.store.FindOrCreateRoom(ctx, roomID); err != nil {
		return nil, err
	}

	messages, users, err := s.store.History(ctx, roomID, 0)
	if err != nil {
		return nil, err
	}

	s.sessions.Bind(connID, username, roomID)

	return &domain.History{RoomID: roomID, Messages: messages, Users: users}, nil
}

// Lookup resolves the session bound to a connection.
func (s *Service) Lookup(connID string) (domain.Session, bool) {
	return s.sessions.Lookup(connID)
}

// Disconnect unwinds the session and presence entry of a connection and
// reports the session it held, if any. It removes exactly the one
// (room, username) pair the connection registered; entries for the same
// username in other rooms are untouched.
func (s *Service) Disconnect(connID string) (domain.Session, bool) {
	sess, ok := s.sessions.Lookup(connID)
	if !ok {
		return domain.Session{}, false
	}
	s.sessions.Unbind(connID)
	s.registry.Unregister(sess.RoomID, sess.Username)
	return sess, true
}

// Post validates and persists a new message authored by username in
// roomID, resolving the reply preview for the response. repliedTo is
// stored verbatim without existence validation. After the durable write
// the (room, username, content) triple is published for the archiver;
// publish failures are logged, never surfaced.
func (s *Service) Post(ctx context.Context, username string, roomID int64, content string, repliedTo *uint) (*domain.MessageView, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrInvalidContent
	}

	user, err := s.store.FindOrCreateUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindOrCreateRoom(ctx, roomID); err != nil {
		return nil, err
	}

	msg, err := s.store.CreateMessage(ctx, roomID, user.ID, content, repliedTo)
	if err != nil {
		return nil, err
	}

	view, err := s.render(ctx, msg, username)
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		event := events.MessageStoredEvent{
			RoomID:    roomID,
			Username:  username,
			Content:   content,
			Timestamp: time.Now().UTC(),
		}
		if err := events.MessageStoredV1.Publish(s.bus, event, nil); err != nil {
			log.Printf("[chat] Failed to publish MessageStored event: %v", err)
		}
	}

	return view, nil
}

// Edit replaces the content of a message owned by actingUsername. The
// ownership check and mutation are one atomic unit in the store. Empty
// content is rejected before storage is touched.
func (s *Service) Edit(ctx context.Context, messageID uint, actingUsername, content string) (*domain.MessageView, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrInvalidContent
	}

	msg, err := s.store.EditMessage(ctx, messageID, actingUsername, content)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, msg, actingUsername)
}

// Delete soft-deletes a message owned by actingUsername. Content is
// retained in storage but treated as inaccessible by every read path
// from this moment. The manager does not cascade to children; callers
// use Children to notify reply authors.
func (s *Service) Delete(ctx context.Context, messageID uint, actingUsername string) error {
	return s.store.SoftDeleteMessage(ctx, messageID, actingUsername)
}

// Children returns the ids of messages replying to the given one.
func (s *Service) Children(ctx context.Context, messageID uint) ([]uint, error) {
	return s.store.FindChildren(ctx, messageID)
}

// History returns the rendered backlog of a room. A non-positive limit
// falls back to the store default; a positive limit selects the oldest
// rows, ascending.
func (s *Service) History(ctx context.Context, roomID int64, limit int) (*domain.History, error) {
	if _, err := s.store.FindOrCreateRoom(ctx, roomID); err != nil {
		return nil, err
	}
	messages, users, err := s.store.History(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	return &domain.History{RoomID: roomID, Messages: messages, Users: users}, nil
}

// render builds the delivery view of a freshly created or edited row,
// denormalizing the reply parent one hop.
func (s *Service) render(ctx context.Context, msg *storage.Message, username string) (*domain.MessageView, error) {
	content := msg.Content
	view := &domain.MessageView{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Username:  username,
		Content:   &content,
		CreatedAt: msg.CreatedAt,
		EditedAt:  msg.EditedAt,
		RepliedTo: msg.RepliedTo,
	}
	if msg.RepliedTo != nil {
		preview, err := s.store.ReplyPreview(ctx, *msg.RepliedTo)
		if err != nil {
			return nil, err
		}
		view.ReplyUser = preview.Username
		view.ReplyText = preview.Text
		view.ReplyDeleted = preview.Deleted
	}
	return view, nil
}

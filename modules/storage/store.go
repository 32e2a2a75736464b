package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/example/chat-backend/domain/chat"
)

// defaultHistoryLimit caps history queries when the caller passes no limit.
const defaultHistoryLimit = 2000

// Store is the persistence port implementation over GORM. All durable
// state (users, rooms, messages) is owned here; callers treat every
// method as atomic.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindOrCreateUser returns the user with the given username, creating it
// if absent. A concurrent insert losing the race against the unique index
// falls back to the lookup.
func (s *Store) FindOrCreateUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).FirstOrCreate(&user, User{Username: username}).Error
	if err == nil {
		return &user, nil
	}
	if lookupErr := s.db.WithContext(ctx).First(&user, "username = ?", username).Error; lookupErr == nil {
		return &user, nil
	}
	return nil, fmt.Errorf("failed to find or create user %q: %w", username, err)
}

// FindOrCreateRoom returns the room with the given id, creating it if
// absent.
func (s *Store) FindOrCreateRoom(ctx context.Context, roomID int64) (*Room, error) {
	var room Room
	err := s.db.WithContext(ctx).FirstOrCreate(&room, Room{ID: roomID}).Error
	if err == nil {
		return &room, nil
	}
	if lookupErr := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error; lookupErr == nil {
		return &room, nil
	}
	return nil, fmt.Errorf("failed to find or create room %d: %w", roomID, err)
}

// CreateMessage persists a new message. repliedTo is stored verbatim: a
// dangling or cross-room parent id is accepted and simply fails to
// resolve at render time.
func (s *Store) CreateMessage(ctx context.Context, roomID int64, authorID uint, content string, repliedTo *uint) (*Message, error) {
	msg := Message{
		RoomID:    roomID,
		UserID:    &authorID,
		Content:   content,
		RepliedTo: repliedTo,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &msg, nil
}

// EditMessage replaces the content of a message and stamps its edit time.
// The ownership check and the mutation run inside one transaction so two
// concurrent editors cannot both pass the check against stale state.
// Returns ErrUnauthorizedOrNotFound when the id does not exist or the
// author's username does not match actingUsername.
func (s *Store) EditMessage(ctx context.Context, messageID uint, actingUsername, newContent string) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadOwned(tx, messageID, actingUsername, &msg); err != nil {
			return err
		}
		now := time.Now().UTC()
		msg.Content = newContent
		msg.EditedAt = &now
		return tx.Model(&Message{}).Where("id = ?", messageID).
			Updates(map[string]any{"content": newContent, "edited_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SoftDeleteMessage flags a message as deleted, keeping the row so reply
// references from children remain resolvable. Same authorization rule and
// transactional discipline as EditMessage.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID uint, actingUsername string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg Message
		if err := s.loadOwned(tx, messageID, actingUsername, &msg); err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.Model(&Message{}).Where("id = ?", messageID).
			Updates(map[string]any{"deleted": true, "edited_at": now}).Error
	})
}

// loadOwned fetches a message and verifies the acting username matches
// its author. Missing message, missing author and username mismatch are
// all collapsed into ErrUnauthorizedOrNotFound.
func (s *Store) loadOwned(tx *gorm.DB, messageID uint, actingUsername string, msg *Message) error {
	if err := tx.First(msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ErrUnauthorizedOrNotFound
		}
		return fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	if msg.UserID == nil {
		return chat.ErrUnauthorizedOrNotFound
	}
	var author User
	if err := tx.First(&author, "id = ?", *msg.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ErrUnauthorizedOrNotFound
		}
		return fmt.Errorf("failed to load author of message %d: %w", messageID, err)
	}
	if author.Username != actingUsername {
		return chat.ErrUnauthorizedOrNotFound
	}
	return nil
}

// FindChildren returns the ids of all messages replying to the given
// parent, in id order.
func (s *Store) FindChildren(ctx context.Context, parentID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("replied_to = ?", parentID).
		Order("id asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find children of message %d: %w", parentID, err)
	}
	return ids, nil
}

// ReplyPreview resolves the one-hop parent snapshot for a reply. An
// absent parent yields an empty preview; a soft-deleted parent yields
// Deleted=true with text and author nulled.
func (s *Store) ReplyPreview(ctx context.Context, parentID uint) (chat.ReplyPreview, error) {
	var row struct {
		Content  string
		Deleted  bool
		Username *string
	}
	err := s.db.WithContext(ctx).Table("messages").
		Select("messages.content, messages.deleted, users.username").
		Joins("LEFT JOIN users ON users.id = messages.user_id").
		Where("messages.id = ?", parentID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ReplyPreview{}, nil
		}
		return chat.ReplyPreview{}, fmt.Errorf("failed to resolve reply parent %d: %w", parentID, err)
	}
	if row.Deleted {
		return chat.ReplyPreview{Deleted: true}, nil
	}
	return chat.ReplyPreview{Username: row.Username, Text: &row.Content}, nil
}

// historyRow is the flat projection of the history join.
type historyRow struct {
	ID           uint
	RoomID       int64
	Content      string
	CreatedAt    time.Time
	EditedAt     *time.Time
	RepliedTo    *uint
	Deleted      bool
	Username     *string
	ReplyText    *string
	ReplyDeleted *bool
	ReplyUser    *string
}

// History returns the rendered backlog of a room in creation-time
// ascending order plus the sorted distinct usernames appearing in it.
// The limit selects the oldest rows under truncation; ordering stays
// ascending regardless. Soft-deleted rows and soft-deleted parents are
// redacted to nil content.
func (s *Store) History(ctx context.Context, roomID int64, limit int) ([]chat.MessageView, []string, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var rows []historyRow
	err := s.db.WithContext(ctx).Table("messages").
		Select("messages.id, messages.room_id, messages.content, messages.created_at, messages.edited_at, messages.replied_to, messages.deleted, "+
			"users.username AS username, "+
			"parents.content AS reply_text, parents.deleted AS reply_deleted, "+
			"parent_users.username AS reply_user").
		Joins("LEFT JOIN users ON users.id = messages.user_id").
		Joins("LEFT JOIN messages parents ON parents.id = messages.replied_to").
		Joins("LEFT JOIN users parent_users ON parent_users.id = parents.user_id").
		Where("messages.room_id = ?", roomID).
		Order("messages.created_at asc, messages.id asc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history of room %d: %w", roomID, err)
	}

	messages := make([]chat.MessageView, 0, len(rows))
	seen := make(map[string]struct{})
	for _, r := range rows {
		view := chat.MessageView{
			ID:        r.ID,
			RoomID:    r.RoomID,
			CreatedAt: r.CreatedAt,
			EditedAt:  r.EditedAt,
			RepliedTo: r.RepliedTo,
			Deleted:   r.Deleted,
		}
		if r.Username != nil {
			view.Username = *r.Username
			seen[*r.Username] = struct{}{}
		}
		if !r.Deleted {
			content := r.Content
			view.Content = &content
		}
		if r.ReplyDeleted != nil && *r.ReplyDeleted {
			view.ReplyDeleted = true
		} else if r.RepliedTo != nil {
			view.ReplyText = r.ReplyText
			view.ReplyUser = r.ReplyUser
		}
		messages = append(messages, view)
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)

	return messages, users, nil
}

// ArchiveMessage persists a (room, username, content) triple through the
// fire-and-forget path. It performs no authorization and no
// reply-linking; the row lands in its own table.
func (s *Store) ArchiveMessage(ctx context.Context, roomID int64, username, content string) (uint, error) {
	if _, err := s.FindOrCreateUser(ctx, username); err != nil {
		return 0, err
	}
	if _, err := s.FindOrCreateRoom(ctx, roomID); err != nil {
		return 0, err
	}
	row := ArchivedMessage{RoomID: roomID, Username: username, Content: content}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to archive message: %w", err)
	}
	return row.ID, nil
}

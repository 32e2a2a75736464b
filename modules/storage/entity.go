package storage

import "time"

// User is a chat identity row. Usernames are unique and never mutated;
// rows are created lazily and never deleted by the core.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Username  string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for the User model.
func (User) TableName() string {
	return "users"
}

// Room is a numbered chat channel. The primary key is caller-supplied,
// not auto-assigned: rooms are created on first reference to their id.
type Room struct {
	ID        int64     `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for the Room model.
func (Room) TableName() string {
	return "rooms"
}

// Message is a message row. UserID is nullable so the author can be
// removed independently while the message survives. Deleted rows are kept
// (soft delete) so reply references from children stay resolvable, but
// their content must never reach a reader.
type Message struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	RoomID    int64      `gorm:"not null;index" json:"room_id"`
	UserID    *uint      `json:"user_id"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at"`
	Deleted   bool       `gorm:"not null;default:false" json:"is_deleted"`
	RepliedTo *uint      `gorm:"index" json:"replied_to"`
}

// TableName returns the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}

// ArchivedMessage is the sink of the fire-and-forget persistence path.
// It lives in its own table so the authoritative history is never
// polluted by the non-authoritative duplicate.
type ArchivedMessage struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	RoomID    int64     `gorm:"not null;index" json:"room_id"`
	Username  string    `gorm:"size:64;not null" json:"username"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for the ArchivedMessage model.
func (ArchivedMessage) TableName() string {
	return "archived_messages"
}

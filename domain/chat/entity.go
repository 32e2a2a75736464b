package chat

import "time"

// Room is a numbered chat channel. Rooms carry no mutable state beyond
// their existence; they are created lazily on first reference.
type Room struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a chat identity. Usernames are unique and immutable once
// created; users are created lazily on first join or first message.
type User struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the ephemeral per-connection binding established on a
// successful join and destroyed on disconnect.
type Session struct {
	ConnID   string
	Username string
	RoomID   int64
}

// MessageView is a message rendered for delivery: author resolved to a
// username and the reply parent denormalized one hop. Content is nil when
// the row is soft-deleted; ReplyText/ReplyUser are nil when the parent is
// soft-deleted or absent.
type MessageView struct {
	ID           uint       `json:"id"`
	RoomID       int64      `json:"room_id"`
	Username     string     `json:"username"`
	Content      *string    `json:"content"`
	CreatedAt    time.Time  `json:"created_at"`
	EditedAt     *time.Time `json:"edited_at"`
	RepliedTo    *uint      `json:"replied_to"`
	ReplyUser    *string    `json:"reply_user"`
	ReplyText    *string    `json:"reply_text"`
	ReplyDeleted bool       `json:"reply_deleted"`
	Deleted      bool       `json:"is_deleted"`
}

// ReplyPreview is the denormalized snapshot of a parent message attached
// to a child at render time.
type ReplyPreview struct {
	Username *string
	Text     *string
	Deleted  bool
}

// History is the rendered backlog of a room plus the distinct author
// usernames appearing in it, sorted lexicographically.
type History struct {
	RoomID   int64         `json:"room_id"`
	Messages []MessageView `json:"messages"`
	Users    []string      `json:"users"`
}

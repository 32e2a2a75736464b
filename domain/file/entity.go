package file

import "time"

// Meta describes a stored attachment. Attachments live outside message
// semantics: messages may carry an attachment URL in their content, but
// the chat core never interprets it.
type Meta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

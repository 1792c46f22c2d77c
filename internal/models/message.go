package models

// ContentKind distinguishes the moderation path a payload takes.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// Message represents a chat message stored in Redis.
type Message struct {
	ID        string      `json:"id"` // ULID
	RoomID    string      `json:"room_id"`
	SenderID  string      `json:"from"` // Identity UUID
	Body      string      `json:"body"`
	Kind      ContentKind `json:"kind"`
	ReplyTo   string      `json:"reply_to,omitempty"`
	Timestamp int64       `json:"ts"` // Unix ms, server-assigned
	EditedAt  int64       `json:"edited_at,omitempty"`
	Deleted   bool        `json:"deleted,omitempty"`
}

package ingest

import "time"

// AttachmentEvent is one file attached to a message.
type AttachmentEvent struct {
	ID        int64
	Filename  string
	URL       string
	SizeBytes int64
}

// MessageEvent is a gateway message as delivered by the platform adapter.
type MessageEvent struct {
	MessageID   int64
	TenantID    int64
	ChannelID   int64
	ChannelName string
	AuthorID    int64
	AuthorName  string
	DisplayName string
	AuthorIsBot bool
	Content     string
	ReplyToID   *int64
	Timestamp   time.Time
	Attachments []AttachmentEvent
}

// EditEvent carries a message's updated content.
type EditEvent struct {
	MessageID int64
	TenantID  int64
	Content   string
	EditedAt  time.Time
}

// DeleteEvent carries one or more removed message ids. Single deletions and
// bulk moderation sweeps arrive through the same shape.
type DeleteEvent struct {
	TenantID   int64
	ChannelID  int64
	MessageIDs []int64
}

// AskEvent is a user question arriving as a platform command. ReplyToken
// lets the worker answer after the gateway handler has already acked.
type AskEvent struct {
	TenantID   int64
	ChannelID  int64
	ChannelIDs []int64
	UserID     int64
	Query      string
	ReplyToken string
}

package store

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is one guild partition.
type Tenant struct {
	ID        int64
	Name      string
	Directive string
	JoinedAt  time.Time
}

// Channel belongs to exactly one tenant. Only indexed channels feed the
// vector pipeline.
type Channel struct {
	ID        int64
	TenantID  int64
	Name      string
	IsIndexed bool
}

// Member is a platform user as seen inside a tenant.
type Member struct {
	ID          int64
	Username    string
	DisplayName string
	IsBot       bool
}

// Message is the canonical message row. Deletion is a soft tombstone:
// content is replaced with "[deleted]" and the row stays for audit.
type Message struct {
	ID            int64
	TenantID      int64
	ChannelID     int64
	AuthorID      int64
	Content       string
	ReplyToID     *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Deleted       bool
	DeletedAt     *time.Time
	VectorPointID *uuid.UUID
	IndexedAt     *time.Time
}

// Session groups messages the sessionizer decided belong together.
type Session struct {
	ID            uuid.UUID
	TenantID      int64
	ChannelID     int64
	StartedAt     time.Time
	EndedAt       time.Time
	MessageIDs    []int64
	VectorPointID *uuid.UUID
}

// Attachment tracks a file through the processing pipeline.
type Attachment struct {
	ID        int64
	TenantID  int64
	MessageID int64
	Filename  string
	SizeBytes int64
	Status    string
	Error     string
}

// Attachment statuses.
const (
	AttachmentPending   = "pending"
	AttachmentProcessed = "processed"
	AttachmentFailed    = "failed"
	AttachmentDeferred  = "deferred" // e.g. scanned PDF awaiting OCR
)

// DocumentChunk is one embeddable slice of a processed attachment.
type DocumentChunk struct {
	ID             uuid.UUID
	TenantID       int64
	AttachmentID   int64
	ParentFile     string
	ChunkIndex     int
	Content        string
	HeadingContext string
	VectorPointID  *uuid.UUID
}

// DMMessage is one turn of a direct-message conversation.
type DMMessage struct {
	ID        int64
	UserID    int64
	TenantID  *int64
	Role      string
	Content   string
	CreatedAt time.Time
}

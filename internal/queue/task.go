// Package queue is the asynchronous backbone: a JetStream work queue with
// three priorities, per-kind retry budgets, exponential backoff, and a
// persistent dead-letter subject. Ingest enqueues unconditionally; queue
// depth is the system's backpressure signal.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task kinds.
const (
	KindIndexSession      = "index_session"
	KindPurgeMessages     = "purge_messages"
	KindPurgeTenant       = "purge_tenant"
	KindReindex           = "reindex"
	KindProcessAttachment = "process_attachment"
	KindAnalyzeTopics     = "analyze_topics"
	KindAsk               = "ask"
	KindBulkBackfill      = "bulk_backfill"
)

// Priorities map to JetStream subjects.
type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

// Task is one unit of queued work. Payload is kind-specific JSON.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	TenantID   int64           `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// Deadline, when set, fails the task permanently once passed (bulk
	// backfills carry one).
	Deadline *time.Time `json:"deadline,omitempty"`
}

// NewTask builds a task with a fresh id.
func NewTask(kind string, tenantID int64, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		TenantID:   tenantID,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// MaxAttempts returns the retry budget for a task kind.
func MaxAttempts(kind string) int {
	switch kind {
	case KindPurgeMessages, KindPurgeTenant:
		return 3
	case KindAsk:
		return 3
	case KindIndexSession, KindReindex, KindProcessAttachment:
		return 5
	case KindBulkBackfill:
		// Bulk work retries freely inside its deadline window.
		return 100
	default:
		return 3
	}
}

// DefaultPriority returns where a kind is published absent an override.
// Deletion-driven purges ride the high lane so tombstoned content leaves
// the index as fast as the queue drains.
func DefaultPriority(kind string) Priority {
	switch kind {
	case KindPurgeMessages, KindPurgeTenant:
		return PriorityHigh
	case KindAsk:
		return PriorityHigh
	case KindBulkBackfill, KindAnalyzeTopics:
		return PriorityLow
	default:
		return PriorityDefault
	}
}

// Payload shapes.

// IndexSessionPayload references a stored session to embed and upsert.
type IndexSessionPayload struct {
	SessionID string `json:"session_id"`
	ChannelID int64  `json:"channel_id"`
}

// PurgeMessagesPayload lists tombstoned message ids whose points must go.
type PurgeMessagesPayload struct {
	MessageIDs []int64 `json:"message_ids"`
}

// ProcessAttachmentPayload points at a pending attachment.
type ProcessAttachmentPayload struct {
	AttachmentID int64  `json:"attachment_id"`
	MessageID    int64  `json:"message_id"`
	ChannelID    int64  `json:"channel_id"`
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	SizeBytes    int64  `json:"size_bytes"`
}

// ReindexPayload re-runs sessionization over a channel window.
type ReindexPayload struct {
	ChannelID int64 `json:"channel_id"`
	StaleOnly bool  `json:"stale_only"`
}

// BulkBackfillPayload replays a channel's history into the store.
type BulkBackfillPayload struct {
	ChannelID int64     `json:"channel_id"`
	Since     time.Time `json:"since"`
}

// AskPayload is a deferred query command.
type AskPayload struct {
	Query      string  `json:"query"`
	ChannelID  int64   `json:"channel_id"`
	ChannelIDs []int64 `json:"channel_ids,omitempty"`
	ReplyToken string  `json:"reply_token"`
}

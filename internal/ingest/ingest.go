// Package ingest turns platform gateway events into store rows and queued
// work. Gateway handlers do the minimum synchronous write and hand
// everything else to the queue, so the event loop never blocks on
// embedding, search, or generation.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/attachments"
	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/store"
)

// flushInterval is how often idle channels are checked for index work.
const flushInterval = time.Minute

// EventStore is the store surface gateway handlers write through.
type EventStore interface {
	UpsertChannel(ctx context.Context, c store.Channel) error
	UpsertMember(ctx context.Context, m store.Member) error
	InsertMessage(ctx context.Context, m store.Message) (bool, error)
	MarkMessageEdited(ctx context.Context, tenantID, messageID int64, content string, editedAt time.Time) error
	InsertAttachment(ctx context.Context, a store.Attachment) error
}

// Deleter runs the tombstone-then-purge deletion path.
type Deleter interface {
	HandleDeletion(ctx context.Context, tenantID int64, messageIDs []int64) error
}

// Enqueuer publishes queued work.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
	EnqueueWithPriority(ctx context.Context, task queue.Task, p queue.Priority) error
}

type channelKey struct {
	tenantID  int64
	channelID int64
}

// Ingestor handles gateway events. It tracks per-channel activity and
// enqueues index work once a channel has been quiet for a full session
// gap, so sessions are cut after conversations end, not during them.
type Ingestor struct {
	store   EventStore
	deleter Deleter
	queue   Enqueuer
	cfg     config.PlatformConfig
	gap     time.Duration
	logger  *logging.Logger

	mu     sync.Mutex
	dirty  map[channelKey]time.Time // last activity per channel with unindexed messages
	now    func() time.Time
}

// New builds an Ingestor. gap should match the sessionizer's inactivity
// threshold so flushes line up with session boundaries.
func New(st EventStore, deleter Deleter, q Enqueuer, cfg config.PlatformConfig, gap time.Duration, logger *logging.Logger) *Ingestor {
	return &Ingestor{
		store:   st,
		deleter: deleter,
		queue:   q,
		cfg:     cfg,
		gap:     gap,
		logger:  logger.Named("ingest"),
		dirty:   make(map[channelKey]time.Time),
		now:     time.Now,
	}
}

// OnMessageCreated records a message and queues attachment processing.
// Bot posts are skipped unless configured in, and redeliveries are
// detected by the insert reporting no new row.
func (g *Ingestor) OnMessageCreated(ctx context.Context, ev MessageEvent) error {
	if ev.AuthorIsBot && !g.cfg.IndexBotPosts {
		return nil
	}

	if err := g.store.UpsertMember(ctx, store.Member{
		ID:          ev.AuthorID,
		Username:    ev.AuthorName,
		DisplayName: ev.DisplayName,
		IsBot:       ev.AuthorIsBot,
	}); err != nil {
		return fmt.Errorf("ingest: upsert member: %w", err)
	}
	if err := g.store.UpsertChannel(ctx, store.Channel{
		ID:       ev.ChannelID,
		TenantID: ev.TenantID,
		Name:     ev.ChannelName,
	}); err != nil {
		return fmt.Errorf("ingest: upsert channel: %w", err)
	}

	inserted, err := g.store.InsertMessage(ctx, store.Message{
		ID:        ev.MessageID,
		TenantID:  ev.TenantID,
		ChannelID: ev.ChannelID,
		AuthorID:  ev.AuthorID,
		Content:   ev.Content,
		ReplyToID: ev.ReplyToID,
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("ingest: insert message: %w", err)
	}
	if !inserted {
		return nil
	}

	g.touch(ev.TenantID, ev.ChannelID)

	for _, att := range ev.Attachments {
		if err := g.handleAttachment(ctx, ev, att); err != nil {
			return err
		}
	}
	return nil
}

func (g *Ingestor) handleAttachment(ctx context.Context, ev MessageEvent, att AttachmentEvent) error {
	row := store.Attachment{
		ID:        att.ID,
		TenantID:  ev.TenantID,
		MessageID: ev.MessageID,
		Filename:  att.Filename,
		SizeBytes: att.SizeBytes,
		Status:    store.AttachmentPending,
	}
	if err := attachments.Validate(att.Filename, att.SizeBytes); err != nil {
		row.Status = store.AttachmentFailed
		row.Error = err.Error()
		if insErr := g.store.InsertAttachment(ctx, row); insErr != nil {
			return fmt.Errorf("ingest: record rejected attachment: %w", insErr)
		}
		g.logger.Info(ctx, "attachment rejected",
			zap.Int64("tenant_id", ev.TenantID),
			zap.String("filename", att.Filename),
			zap.Error(err))
		return nil
	}

	if err := g.store.InsertAttachment(ctx, row); err != nil {
		return fmt.Errorf("ingest: record attachment: %w", err)
	}
	task, err := queue.NewTask(queue.KindProcessAttachment, ev.TenantID, queue.ProcessAttachmentPayload{
		AttachmentID: att.ID,
		MessageID:    ev.MessageID,
		ChannelID:    ev.ChannelID,
		Filename:     att.Filename,
		URL:          att.URL,
		SizeBytes:    att.SizeBytes,
	})
	if err != nil {
		return err
	}
	if err := g.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("ingest: enqueue attachment: %w", err)
	}
	return nil
}

// OnMessageEdited rewrites the row's content. The edited message goes
// stale against its indexed session and the periodic sweep re-indexes it.
func (g *Ingestor) OnMessageEdited(ctx context.Context, ev EditEvent) error {
	if err := g.store.MarkMessageEdited(ctx, ev.TenantID, ev.MessageID, ev.Content, ev.EditedAt); err != nil {
		return fmt.Errorf("ingest: mark edited: %w", err)
	}
	return nil
}

// OnMessagesDeleted forwards to the deletion coordinator.
func (g *Ingestor) OnMessagesDeleted(ctx context.Context, ev DeleteEvent) error {
	return g.deleter.HandleDeletion(ctx, ev.TenantID, ev.MessageIDs)
}

// OnAsk defers a question to the queue. The gateway handler acks
// immediately; the worker delivers the answer through the reply token.
func (g *Ingestor) OnAsk(ctx context.Context, ev AskEvent) error {
	task, err := queue.NewTask(queue.KindAsk, ev.TenantID, queue.AskPayload{
		Query:      ev.Query,
		ChannelID:  ev.ChannelID,
		ChannelIDs: ev.ChannelIDs,
		ReplyToken: ev.ReplyToken,
	})
	if err != nil {
		return err
	}
	if err := g.queue.EnqueueWithPriority(ctx, task, queue.PriorityHigh); err != nil {
		return fmt.Errorf("ingest: enqueue ask: %w", err)
	}
	return nil
}

// touch marks a channel as holding unindexed messages.
func (g *Ingestor) touch(tenantID, channelID int64) {
	g.mu.Lock()
	g.dirty[channelKey{tenantID, channelID}] = g.now()
	g.mu.Unlock()
}

// Run flushes idle channels until ctx is done. A channel flushes once its
// last activity is older than the session gap.
func (g *Ingestor) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.flushIdle(ctx)
		}
	}
}

// flushIdle enqueues index work for every quiet dirty channel.
func (g *Ingestor) flushIdle(ctx context.Context) {
	cutoff := g.now().Add(-g.gap)

	g.mu.Lock()
	var due []channelKey
	for key, last := range g.dirty {
		if last.Before(cutoff) {
			due = append(due, key)
			delete(g.dirty, key)
		}
	}
	g.mu.Unlock()

	for _, key := range due {
		task, err := queue.NewTask(queue.KindIndexSession, key.tenantID, queue.IndexSessionPayload{ChannelID: key.channelID})
		if err != nil {
			g.logger.Warn(ctx, "flush: build task failed", zap.Error(err))
			continue
		}
		if err := g.queue.Enqueue(ctx, task); err != nil {
			// Put the channel back so the next tick retries.
			g.touch(key.tenantID, key.channelID)
			g.logger.Warn(ctx, "flush: enqueue failed",
				zap.Int64("tenant_id", key.tenantID),
				zap.Int64("channel_id", key.channelID),
				zap.Error(err))
		}
	}
}

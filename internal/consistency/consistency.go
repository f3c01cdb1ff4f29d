// Package consistency keeps the relational store and the vector index
// agreeing: orphan scans, deletion purge coordination, scheduled stale
// sweeps, and full tenant erasure. The store is the source of truth; the
// index is always the side that gets corrected.
package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/store"
)

const scanPageSize = 256

// VectorIndex is the index surface consistency needs.
type VectorIndex interface {
	ScrollTenantPoints(ctx context.Context, collection string, tenantID int64, offset string, limit uint32) ([]string, string, error)
	DeleteByPointIDs(ctx context.Context, collection string, pointIDs []string) error
	DeleteByMessageIDs(ctx context.Context, tenantID int64, messageIDs []int64) error
	PurgeTenant(ctx context.Context, tenantID int64) error
	Collections() (legacy, hybrid, dm string)
}

// Bindings is the store surface consistency needs.
type Bindings interface {
	VerifyPoints(ctx context.Context, tenantID int64, pointIDs []string) (valid, orphaned []string, err error)
	MarkMessagesDeleted(ctx context.Context, tenantID int64, messageIDs []int64) (int64, error)
	ReplyTargetCleanup(ctx context.Context, tenantID int64, messageIDs []int64) (int64, error)
	SessionsContaining(ctx context.Context, tenantID int64, messageIDs []int64) ([]store.Session, error)
	ResetVectorBindings(ctx context.Context, tenantID int64, staleOnly bool, channelID *int64) (int64, error)
	FindStale(ctx context.Context, tenantID int64, limit int) ([]int64, error)
	UnboundChannels(ctx context.Context, tenantID int64, olderThan time.Duration) ([]int64, error)
	GetSyncHealth(ctx context.Context, tenantID int64) (*store.SyncHealth, error)
	PurgeTenantData(ctx context.Context, tenantID int64) error
	TenantIDs(ctx context.Context) ([]int64, error)
}

// Enqueuer publishes follow-up work.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
	EnqueueWithPriority(ctx context.Context, task queue.Task, p queue.Priority) error
}

// Coordinator runs the consistency operations.
type Coordinator struct {
	store  Bindings
	index  VectorIndex
	queue  Enqueuer
	cron   *cron.Cron
	logger *logging.Logger
}

// New wires a coordinator.
func New(st Bindings, index VectorIndex, q Enqueuer, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		store:  st,
		index:  index,
		queue:  q,
		logger: logger.Named("consistency"),
	}
}

// OrphanScanResult summarizes one scan.
type OrphanScanResult struct {
	Scanned int `json:"scanned"`
	Orphans int `json:"orphans"`
	Deleted int `json:"deleted"`
}

// ScanOrphans pages through a tenant's points in both session collections
// and deletes any the store no longer vouches for. The store is consulted
// per page so a scan never holds large id sets in memory.
func (c *Coordinator) ScanOrphans(ctx context.Context, tenantID int64) (*OrphanScanResult, error) {
	result := &OrphanScanResult{}
	legacy, hybrid, _ := c.index.Collections()
	for _, collection := range []string{legacy, hybrid} {
		if err := c.scanCollection(ctx, collection, tenantID, result); err != nil {
			return result, err
		}
	}
	c.logger.Info(ctx, "orphan scan complete",
		zap.Int64("tenant_id", tenantID),
		zap.Int("scanned", result.Scanned),
		zap.Int("orphans", result.Orphans),
		zap.Int("deleted", result.Deleted),
	)
	return result, nil
}

func (c *Coordinator) scanCollection(ctx context.Context, collection string, tenantID int64, result *OrphanScanResult) error {
	offset := ""
	for {
		ids, next, err := c.index.ScrollTenantPoints(ctx, collection, tenantID, offset, scanPageSize)
		if err != nil {
			return fmt.Errorf("consistency: scroll %s: %w", collection, err)
		}
		if len(ids) == 0 {
			return nil
		}
		result.Scanned += len(ids)

		_, orphaned, err := c.store.VerifyPoints(ctx, tenantID, ids)
		if err != nil {
			return fmt.Errorf("consistency: verify points: %w", err)
		}
		if len(orphaned) > 0 {
			result.Orphans += len(orphaned)
			if err := c.index.DeleteByPointIDs(ctx, collection, orphaned); err != nil {
				return fmt.Errorf("consistency: delete orphans: %w", err)
			}
			result.Deleted += len(orphaned)
		}

		if next == "" {
			return nil
		}
		offset = next
	}
}

// HandleDeletion is the deletion path's first half: tombstone the rows,
// then enqueue the high-priority purge. The tombstone commits before the
// purge is published, so a crash in between leaves deleted content
// unreadable in the store and still purgeable by the next sweep.
func (c *Coordinator) HandleDeletion(ctx context.Context, tenantID int64, messageIDs []int64) error {
	marked, err := c.store.MarkMessagesDeleted(ctx, tenantID, messageIDs)
	if err != nil {
		return fmt.Errorf("consistency: tombstone messages: %w", err)
	}
	if marked == 0 {
		return nil
	}
	if _, err := c.store.ReplyTargetCleanup(ctx, tenantID, messageIDs); err != nil {
		// Dangling reply ids are cosmetic; the purge must still run.
		c.logger.Warn(ctx, "reply target cleanup failed", zap.Error(err))
	}

	task, err := queue.NewTask(queue.KindPurgeMessages, tenantID, queue.PurgeMessagesPayload{MessageIDs: messageIDs})
	if err != nil {
		return fmt.Errorf("consistency: build purge task: %w", err)
	}
	if err := c.queue.EnqueueWithPriority(ctx, task, queue.PriorityHigh); err != nil {
		return fmt.Errorf("consistency: enqueue purge: %w", err)
	}
	c.logger.Info(ctx, "deletion recorded, purge enqueued",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("tombstoned", marked),
		zap.Int("message_ids", len(messageIDs)),
	)
	return nil
}

// PurgeMessages is the deletion path's second half, run by the worker:
// remove the points, then reset bindings of sessions that still reference
// the dead messages and enqueue their re-index so surviving messages come
// back searchable.
func (c *Coordinator) PurgeMessages(ctx context.Context, tenantID int64, messageIDs []int64) error {
	if err := c.index.DeleteByMessageIDs(ctx, tenantID, messageIDs); err != nil {
		return fmt.Errorf("consistency: purge points: %w", err)
	}

	sessions, err := c.store.SessionsContaining(ctx, tenantID, messageIDs)
	if err != nil {
		return fmt.Errorf("consistency: find affected sessions: %w", err)
	}
	for _, sess := range sessions {
		task, err := queue.NewTask(queue.KindReindex, tenantID, queue.ReindexPayload{ChannelID: sess.ChannelID})
		if err != nil {
			return fmt.Errorf("consistency: build reindex task: %w", err)
		}
		if err := c.queue.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("consistency: enqueue reindex: %w", err)
		}
	}
	return nil
}

// ForgetTenant is the right-to-be-forgotten path: every vector point goes
// first, then the relational rows. Order matters — if the second half
// fails, the remaining rows still name what must be re-purged, whereas the
// reverse would leave unreferenced embeddings behind forever.
func (c *Coordinator) ForgetTenant(ctx context.Context, tenantID int64) error {
	if err := c.index.PurgeTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("consistency: purge tenant vectors: %w", err)
	}
	if err := c.store.PurgeTenantData(ctx, tenantID); err != nil {
		return fmt.Errorf("consistency: purge tenant rows: %w", err)
	}
	c.logger.Info(ctx, "tenant forgotten", zap.Int64("tenant_id", tenantID))
	return nil
}

// SweepStale enqueues re-index work for messages edited after their last
// indexing. Returns how many were queued.
func (c *Coordinator) SweepStale(ctx context.Context, tenantID int64, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	stale, err := c.store.FindStale(ctx, tenantID, limit)
	if err != nil {
		return 0, fmt.Errorf("consistency: find stale: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if _, err := c.store.ResetVectorBindings(ctx, tenantID, true, nil); err != nil {
		return 0, fmt.Errorf("consistency: reset stale bindings: %w", err)
	}
	task, err := queue.NewTask(queue.KindReindex, tenantID, queue.ReindexPayload{StaleOnly: true})
	if err != nil {
		return 0, err
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		return 0, fmt.Errorf("consistency: enqueue stale reindex: %w", err)
	}
	return len(stale), nil
}

// unboundAge is how old a never-indexed message must be before SweepUnbound
// treats its channel as dropped work rather than an open buffer.
const unboundAge = 30 * time.Minute

// SweepUnbound re-enqueues indexing for channels whose messages were stored
// but never indexed. The gateway buffers message ids in memory between
// flushes, so a crash can lose the handoff; the rows survive, and this
// sweep is what gets them indexed. Returns how many channels were queued.
func (c *Coordinator) SweepUnbound(ctx context.Context, tenantID int64) (int, error) {
	channels, err := c.store.UnboundChannels(ctx, tenantID, unboundAge)
	if err != nil {
		return 0, fmt.Errorf("consistency: find unbound channels: %w", err)
	}
	for _, channelID := range channels {
		task, err := queue.NewTask(queue.KindIndexSession, tenantID, queue.IndexSessionPayload{ChannelID: channelID})
		if err != nil {
			return 0, err
		}
		if err := c.queue.Enqueue(ctx, task); err != nil {
			return 0, fmt.Errorf("consistency: enqueue unbound index: %w", err)
		}
	}
	return len(channels), nil
}

// StartSweeps schedules the periodic stale sweep across all tenants.
// spec is a cron expression; empty defaults to hourly.
func (c *Coordinator) StartSweeps(ctx context.Context, spec string) error {
	if spec == "" {
		spec = "@hourly"
	}
	c.cron = cron.New()
	_, err := c.cron.AddFunc(spec, func() {
		tenants, err := c.store.TenantIDs(ctx)
		if err != nil {
			c.logger.Warn(ctx, "stale sweep: tenant listing failed", zap.Error(err))
			return
		}
		for _, tenantID := range tenants {
			if n, err := c.SweepStale(ctx, tenantID, 0); err != nil {
				c.logger.Warn(ctx, "stale sweep failed",
					zap.Int64("tenant_id", tenantID), zap.Error(err))
			} else if n > 0 {
				c.logger.Info(ctx, "stale sweep queued reindex",
					zap.Int64("tenant_id", tenantID), zap.Int("stale", n))
			}
			if n, err := c.SweepUnbound(ctx, tenantID); err != nil {
				c.logger.Warn(ctx, "unbound sweep failed",
					zap.Int64("tenant_id", tenantID), zap.Error(err))
			} else if n > 0 {
				c.logger.Info(ctx, "unbound sweep queued indexing",
					zap.Int64("tenant_id", tenantID), zap.Int("channels", n))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consistency: schedule sweeps: %w", err)
	}
	c.cron.Start()
	return nil
}

// StopSweeps halts the scheduler, waiting for a running sweep.
func (c *Coordinator) StopSweeps() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

// Health reports the tenant's sync health.
func (c *Coordinator) Health(ctx context.Context, tenantID int64) (*store.SyncHealth, error) {
	return c.store.GetSyncHealth(ctx, tenantID)
}

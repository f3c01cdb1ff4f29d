package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/agents"
	"github.com/kestrelworks/guildsight/internal/attachments"
	"github.com/kestrelworks/guildsight/internal/enrich"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/thematic"
	"github.com/kestrelworks/guildsight/internal/vectorindex"
	"github.com/kestrelworks/guildsight/internal/worker"
)

// TaskStore extends the indexer's store surface with the writes the task
// handlers need.
type TaskStore interface {
	IndexStore
	InsertMessage(ctx context.Context, m store.Message) (bool, error)
	InsertDocumentChunks(ctx context.Context, chunks []store.DocumentChunk) error
	RecordChunkBinding(ctx context.Context, tenantID int64, chunkID, pointID uuid.UUID) error
	SetAttachmentStatus(ctx context.Context, tenantID, attachmentID int64, status, errMsg string) error
	SampleMessages(ctx context.Context, tenantID int64, minLen, limit int) ([]store.Message, error)
}

// Purger runs the deletion follow-ups.
type Purger interface {
	PurgeMessages(ctx context.Context, tenantID int64, messageIDs []int64) error
	ForgetTenant(ctx context.Context, tenantID int64) error
}

// Fetcher downloads attachment bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Captioner describes images for indexing.
type Captioner interface {
	Caption(ctx context.Context, mimeType string, image []byte, instruction string) (string, error)
}

// Asker answers deferred questions.
type Asker interface {
	Ask(ctx context.Context, req agents.Request) (*agents.Answer, error)
}

// Replier delivers a deferred answer back to the platform.
type Replier interface {
	Reply(ctx context.Context, token string, channelID int64, text string) error
}

// History replays a channel's backlog from the platform API.
type History interface {
	ChannelHistory(ctx context.Context, tenantID, channelID int64, since time.Time) ([]MessageEvent, error)
}

// TopicBuilder rebuilds a tenant's theme analysis.
type TopicBuilder interface {
	Build(ctx context.Context, tenantID int64, messages []string) (*thematic.Analysis, error)
}

// Handlers implements every queued task kind.
type Handlers struct {
	store   TaskStore
	indexer *Indexer
	purger  Purger
	fetcher Fetcher
	vision  Captioner
	asker   Asker
	replier Replier
	history History
	topics  TopicBuilder
	logger  *logging.Logger
}

// NewHandlers wires the task handlers. vision, replier, and history may be
// nil when the deployment lacks those integrations; their tasks then fail
// permanently instead of retrying forever.
func NewHandlers(st TaskStore, indexer *Indexer, purger Purger, fetcher Fetcher, vision Captioner, asker Asker, replier Replier, history History, topics TopicBuilder, logger *logging.Logger) *Handlers {
	return &Handlers{
		store:   st,
		indexer: indexer,
		purger:  purger,
		fetcher: fetcher,
		vision:  vision,
		asker:   asker,
		replier: replier,
		history: history,
		topics:  topics,
		logger:  logger.Named("tasks"),
	}
}

// Register binds every kind onto the pool.
func (h *Handlers) Register(pool *worker.Pool) {
	pool.Register(queue.KindIndexSession, h.HandleIndexSession)
	pool.Register(queue.KindReindex, h.HandleReindex)
	pool.Register(queue.KindPurgeMessages, h.HandlePurgeMessages)
	pool.Register(queue.KindPurgeTenant, h.HandlePurgeTenant)
	pool.Register(queue.KindProcessAttachment, h.HandleProcessAttachment)
	pool.Register(queue.KindAnalyzeTopics, h.HandleAnalyzeTopics)
	pool.Register(queue.KindAsk, h.HandleAsk)
	pool.Register(queue.KindBulkBackfill, h.HandleBulkBackfill)
}

// HandleIndexSession indexes either one stored session (SessionID set) or
// a flushed channel's unindexed backlog.
func (h *Handlers) HandleIndexSession(ctx context.Context, task queue.Task) error {
	var payload queue.IndexSessionPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return worker.Permanent(fmt.Errorf("ingest: decode index payload: %w", err))
	}
	if payload.SessionID == "" {
		_, err := h.indexer.IndexChannel(ctx, task.TenantID, payload.ChannelID)
		return err
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return worker.Permanent(fmt.Errorf("ingest: bad session id %q: %w", payload.SessionID, err))
	}
	sess, err := h.store.GetSession(ctx, task.TenantID, sessionID)
	if err != nil {
		return fmt.Errorf("ingest: load session: %w", err)
	}
	return h.indexer.IndexSession(ctx, sess)
}

// HandleReindex re-runs sessionization over unbound messages. Stale sweeps
// and purges both reset bindings before enqueueing this, so one path
// serves both.
func (h *Handlers) HandleReindex(ctx context.Context, task queue.Task) error {
	var payload queue.ReindexPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return worker.Permanent(fmt.Errorf("ingest: decode reindex payload: %w", err))
	}
	_, err := h.indexer.IndexChannel(ctx, task.TenantID, payload.ChannelID)
	return err
}

// HandlePurgeMessages removes tombstoned messages' points.
func (h *Handlers) HandlePurgeMessages(ctx context.Context, task queue.Task) error {
	var payload queue.PurgeMessagesPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return worker.Permanent(fmt.Errorf("ingest: decode purge payload: %w", err))
	}
	return h.purger.PurgeMessages(ctx, task.TenantID, payload.MessageIDs)
}

// HandlePurgeTenant erases a tenant everywhere.
func (h *Handlers) HandlePurgeTenant(ctx context.Context, task queue.Task) error {
	return h.purger.ForgetTenant(ctx, task.TenantID)
}

// HandleProcessAttachment downloads, extracts, chunks, and indexes one
// attachment, then settles its status row. Rejections and parse failures
// are permanent; download failures retry.
func (h *Handlers) HandleProcessAttachment(ctx context.Context, task queue.Task) error {
	var payload queue.ProcessAttachmentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return worker.Permanent(fmt.Errorf("ingest: decode attachment payload: %w", err))
	}

	if err := attachments.Validate(payload.Filename, payload.SizeBytes); err != nil {
		return h.failAttachment(ctx, task.TenantID, payload.AttachmentID, err)
	}

	data, err := h.fetcher.Fetch(ctx, payload.URL)
	if err != nil {
		return fmt.Errorf("ingest: fetch attachment: %w", err)
	}

	chunks, err := h.extractChunks(ctx, payload.Filename, data)
	if errors.Is(err, attachments.ErrNeedsOCR) {
		// A scanned PDF with no text layer parks until an OCR pass exists.
		if serr := h.store.SetAttachmentStatus(ctx, task.TenantID, payload.AttachmentID, store.AttachmentDeferred, err.Error()); serr != nil {
			return serr
		}
		return nil
	}
	if err != nil {
		return h.failAttachment(ctx, task.TenantID, payload.AttachmentID, err)
	}

	texts := make([]string, len(chunks))
	rows := make([]store.DocumentChunk, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		rows[i] = store.DocumentChunk{
			ID:             chunkID(payload.AttachmentID, c.Index),
			TenantID:       task.TenantID,
			AttachmentID:   payload.AttachmentID,
			ParentFile:     payload.Filename,
			ChunkIndex:     c.Index,
			Content:        c.Text,
			HeadingContext: c.HeadingContext,
		}
	}
	if err := h.store.InsertDocumentChunks(ctx, rows); err != nil {
		return fmt.Errorf("ingest: insert chunks: %w", err)
	}

	vecs, err := h.indexer.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("ingest: embed chunks: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("ingest: embedder returned %d vectors for %d chunks", len(vecs), len(texts))
	}
	for i, row := range rows {
		pointID := chunkPointID(payload.AttachmentID, row.ChunkIndex)
		point := vectorindex.Point{
			ID:         pointID,
			TenantID:   task.TenantID,
			ChannelID:  payload.ChannelID,
			SourceType: vectorindex.SourceDocument,
			MessageIDs: []int64{payload.MessageID},
			Preview:    enrich.Preview(row.Content, previewLimit),
			ParentFile: payload.Filename,
		}
		if err := h.indexer.index.UpsertHybrid(ctx, point, vecs[i], h.indexer.sparse.Encode(row.Content)); err != nil {
			return fmt.Errorf("ingest: upsert chunk point: %w", err)
		}
		if err := h.store.RecordChunkBinding(ctx, task.TenantID, row.ID, pointID); err != nil {
			return fmt.Errorf("ingest: record chunk binding: %w", err)
		}
	}

	if err := h.store.SetAttachmentStatus(ctx, task.TenantID, payload.AttachmentID, store.AttachmentProcessed, ""); err != nil {
		return err
	}
	h.logger.Info(ctx, "attachment processed",
		zap.Int64("tenant_id", task.TenantID),
		zap.String("filename", payload.Filename),
		zap.Int("chunks", len(chunks)))
	return nil
}

// chunkNamespace seeds deterministic chunk and point ids. A redelivered
// attachment task regenerates the same ids, so the insert dedupes on
// conflict and the point upsert overwrites instead of duplicating.
var chunkNamespace = uuid.MustParse("4c9d1b6e-2f8a-4e07-9b3d-5a1c7e0f8d42")

func chunkID(attachmentID int64, index int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("chunk/%d/%d", attachmentID, index)))
}

func chunkPointID(attachmentID int64, index int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("point/%d/%d", attachmentID, index)))
}

// extractChunks turns raw bytes into embeddable chunks. Images become a
// single captioned chunk; markdown keeps heading context.
func (h *Handlers) extractChunks(ctx context.Context, filename string, data []byte) ([]attachments.Chunk, error) {
	if attachments.IsImage(filename) {
		if h.vision == nil {
			return nil, fmt.Errorf("ingest: no vision provider for %s", filename)
		}
		caption, err := h.vision.Caption(ctx, mimeFor(filename), data, "")
		if err != nil {
			return nil, fmt.Errorf("ingest: caption image: %w", err)
		}
		return []attachments.Chunk{{Index: 0, Text: caption, HeadingContext: "image: " + filename}}, nil
	}

	text, err := attachments.ExtractText(filename, data)
	if err != nil {
		return nil, err
	}
	chunker := attachments.NewChunker(attachments.DefaultChunkSize, attachments.DefaultChunkOverlap)
	if attachments.Ext(filename) == "md" {
		return chunker.SplitMarkdown(text), nil
	}
	return chunker.Split(text), nil
}

func (h *Handlers) failAttachment(ctx context.Context, tenantID, attachmentID int64, cause error) error {
	if err := h.store.SetAttachmentStatus(ctx, tenantID, attachmentID, store.AttachmentFailed, cause.Error()); err != nil {
		return err
	}
	return worker.Permanent(cause)
}

// HandleAnalyzeTopics rebuilds the tenant's theme cache from a message
// sample.
func (h *Handlers) HandleAnalyzeTopics(ctx context.Context, task queue.Task) error {
	msgs, err := h.store.SampleMessages(ctx, task.TenantID, 20, thematic.DefaultSampleSize)
	if err != nil {
		return fmt.Errorf("ingest: sample messages: %w", err)
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Content
	}
	if _, err := h.topics.Build(ctx, task.TenantID, texts); err != nil {
		if errors.Is(err, thematic.ErrInsufficientData) {
			return worker.Permanent(err)
		}
		return err
	}
	return nil
}

// HandleAsk answers a deferred question and posts it through the reply
// token. Answer failures retry inside the ask budget; reply delivery
// failures are permanent since the token expires.
func (h *Handlers) HandleAsk(ctx context.Context, task queue.Task) error {
	var payload queue.AskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return worker.Permanent(fmt.Errorf("ingest: decode ask payload: %w", err))
	}
	if h.replier == nil {
		return worker.Permanent(errors.New("ingest: no replier configured"))
	}

	answer, err := h.asker.Ask(ctx, agents.Request{
		TenantID:   task.TenantID,
		ChannelID:  payload.ChannelID,
		ChannelIDs: payload.ChannelIDs,
		Query:      payload.Query,
	})
	if err != nil {
		return fmt.Errorf("ingest: answer: %w", err)
	}
	if err := h.replier.Reply(ctx, payload.ReplyToken, payload.ChannelID, answer.Answer); err != nil {
		return worker.Permanent(fmt.Errorf("ingest: deliver reply: %w", err))
	}
	return nil
}

// HandleBulkBackfill replays a channel's history into the store and then
// indexes what landed.
func (h *Handlers) HandleBulkBackfill(ctx context.Context, task queue.Task) error {
	var payload queue.BulkBackfillPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return worker.Permanent(fmt.Errorf("ingest: decode backfill payload: %w", err))
	}
	if h.history == nil {
		return worker.Permanent(errors.New("ingest: no history source configured"))
	}

	events, err := h.history.ChannelHistory(ctx, task.TenantID, payload.ChannelID, payload.Since)
	if err != nil {
		return fmt.Errorf("ingest: fetch history: %w", err)
	}
	inserted := 0
	for _, ev := range events {
		ok, err := h.store.InsertMessage(ctx, store.Message{
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
			return fmt.Errorf("ingest: backfill insert: %w", err)
		}
		if ok {
			inserted++
		}
	}
	h.logger.Info(ctx, "backfill stored",
		zap.Int64("tenant_id", task.TenantID),
		zap.Int64("channel_id", payload.ChannelID),
		zap.Int("messages", inserted))

	_, err = h.indexer.IndexChannel(ctx, task.TenantID, payload.ChannelID)
	return err
}

func mimeFor(filename string) string {
	switch attachments.Ext(filename) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

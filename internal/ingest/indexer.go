package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/embeddings"
	"github.com/kestrelworks/guildsight/internal/enrich"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/sessionizer"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/vectorindex"
)

const (
	// previewLimit bounds the excerpt stored in a point payload.
	previewLimit = 500
	// unboundBatch caps how many unindexed messages one index pass pulls.
	unboundBatch = 1000
)

// IndexStore is the store surface the indexer reads and binds through.
type IndexStore interface {
	FindUnbound(ctx context.Context, tenantID int64, limit int) ([]int64, error)
	MessagesByIDs(ctx context.Context, tenantID int64, ids []int64) ([]store.Message, error)
	MemberNames(ctx context.Context, ids []int64) (map[int64]string, error)
	Channels(ctx context.Context, tenantID int64) ([]store.Channel, error)
	InsertSession(ctx context.Context, sess store.Session) error
	GetSession(ctx context.Context, tenantID int64, id uuid.UUID) (*store.Session, error)
	RecordVectorBinding(ctx context.Context, tenantID int64, sessionID, pointID uuid.UUID, messageIDs []int64) error
}

// Upserter is the write surface of the vector index.
type Upserter interface {
	UpsertHybrid(ctx context.Context, p vectorindex.Point, dense []float32, sparse embeddings.SparseVector) error
}

// Indexer embeds sessions and document chunks into the hybrid collection.
// The store row is written first and the vector binding recorded only
// after the index ack, so a crash leaves an unbound row, never a dangling
// point.
type Indexer struct {
	store    IndexStore
	index    Upserter
	sess     *sessionizer.Sessionizer
	embedder embeddings.Embedder
	sparse   *embeddings.SparseEncoder
	logger   *logging.Logger
}

// NewIndexer wires an Indexer.
func NewIndexer(st IndexStore, index Upserter, sess *sessionizer.Sessionizer, embedder embeddings.Embedder, sparse *embeddings.SparseEncoder, logger *logging.Logger) *Indexer {
	return &Indexer{
		store:    st,
		index:    index,
		sess:     sess,
		embedder: embedder,
		sparse:   sparse,
		logger:   logger.Named("indexer"),
	}
}

// IndexChannel sessionizes the tenant's unindexed messages (optionally
// narrowed to one channel), persists the sessions, and indexes each one.
// Returns how many sessions were indexed.
func (ix *Indexer) IndexChannel(ctx context.Context, tenantID, channelID int64) (int, error) {
	ids, err := ix.store.FindUnbound(ctx, tenantID, unboundBatch)
	if err != nil {
		return 0, fmt.Errorf("indexer: find unbound: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	msgs, err := ix.store.MessagesByIDs(ctx, tenantID, ids)
	if err != nil {
		return 0, fmt.Errorf("indexer: load messages: %w", err)
	}

	input := make([]sessionizer.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Deleted {
			continue
		}
		if channelID != 0 && m.ChannelID != channelID {
			continue
		}
		input = append(input, sessionizer.Message{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			AuthorID:  m.AuthorID,
			Content:   m.Content,
			ReplyToID: m.ReplyToID,
			CreatedAt: m.CreatedAt,
		})
	}
	if len(input) == 0 {
		return 0, nil
	}

	groups, err := ix.sess.Sessionize(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("indexer: sessionize: %w", err)
	}

	indexed := 0
	for _, group := range groups {
		row := store.Session{
			ID:         uuid.New(),
			TenantID:   tenantID,
			ChannelID:  group.ChannelID,
			StartedAt:  group.StartedAt(),
			EndedAt:    group.EndedAt(),
			MessageIDs: group.MessageIDs(),
		}
		if err := ix.store.InsertSession(ctx, row); err != nil {
			return indexed, fmt.Errorf("indexer: insert session: %w", err)
		}
		if err := ix.IndexSession(ctx, &row); err != nil {
			return indexed, err
		}
		indexed++
	}
	ix.logger.Info(ctx, "channel indexed",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("channel_id", channelID),
		zap.Int("sessions", indexed))
	return indexed, nil
}

// IndexSession embeds one stored session and records its binding. Messages
// deleted since the session was cut are left out of the embedded text.
func (ix *Indexer) IndexSession(ctx context.Context, sess *store.Session) error {
	msgs, err := ix.store.MessagesByIDs(ctx, sess.TenantID, sess.MessageIDs)
	if err != nil {
		return fmt.Errorf("indexer: load session messages: %w", err)
	}
	live := make([]store.Message, 0, len(msgs))
	authorIDs := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		if m.Deleted {
			continue
		}
		live = append(live, m)
		authorIDs = append(authorIDs, m.AuthorID)
	}
	if len(live) == 0 {
		return nil
	}

	names, err := ix.store.MemberNames(ctx, authorIDs)
	if err != nil {
		return fmt.Errorf("indexer: resolve authors: %w", err)
	}
	resolver := enrich.ResolverFunc(func(id int64) (string, bool) {
		name, ok := names[id]
		return name, ok
	})

	lines := make([]enrich.Line, len(live))
	liveIDs := make([]int64, len(live))
	for i, m := range live {
		author := names[m.AuthorID]
		if author == "" {
			author = fmt.Sprintf("User#%d", m.AuthorID)
		}
		lines[i] = enrich.Line{Content: m.Content, AuthorName: author, Timestamp: m.CreatedAt}
		liveIDs[i] = m.ID
	}
	text := enrich.Session(lines, ix.channelName(ctx, sess.TenantID, sess.ChannelID), resolver)

	vecs, err := ix.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("indexer: embed session: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("indexer: embedder returned %d vectors for one text", len(vecs))
	}

	pointID := uuid.New()
	point := vectorindex.Point{
		ID:         pointID,
		TenantID:   sess.TenantID,
		ChannelID:  sess.ChannelID,
		SourceType: vectorindex.SourceChat,
		MessageIDs: liveIDs,
		Preview:    enrich.Preview(text, previewLimit),
		StartedAt:  sess.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:    sess.EndedAt.UTC().Format(time.RFC3339),
	}
	if err := ix.index.UpsertHybrid(ctx, point, vecs[0], ix.sparse.Encode(text)); err != nil {
		return fmt.Errorf("indexer: upsert session point: %w", err)
	}
	if err := ix.store.RecordVectorBinding(ctx, sess.TenantID, sess.ID, pointID, liveIDs); err != nil {
		return fmt.Errorf("indexer: record binding: %w", err)
	}
	return nil
}

// channelName is best-effort; an unknown channel embeds without a header.
func (ix *Indexer) channelName(ctx context.Context, tenantID, channelID int64) string {
	channels, err := ix.store.Channels(ctx, tenantID)
	if err != nil {
		return ""
	}
	for _, c := range channels {
		if c.ID == channelID {
			return c.Name
		}
	}
	return ""
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const deletedTombstone = "[deleted]"

// UpsertTenant inserts or refreshes a tenant row.
func (s *Store) UpsertTenant(ctx context.Context, t Tenant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		t.ID, t.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %d: %w", t.ID, err)
	}
	return nil
}

// UpsertChannel inserts or refreshes a channel row.
func (s *Store) UpsertChannel(ctx context.Context, c Channel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channels (id, tenant_id, name, is_indexed) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		c.ID, c.TenantID, c.Name, c.IsIndexed)
	if err != nil {
		return fmt.Errorf("failed to upsert channel %d: %w", c.ID, err)
	}
	return nil
}

// UpsertMember inserts or refreshes a member row.
func (s *Store) UpsertMember(ctx context.Context, m Member) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO members (id, username, display_name, is_bot) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name`,
		m.ID, m.Username, m.DisplayName, m.IsBot)
	if err != nil {
		return fmt.Errorf("failed to upsert member %d: %w", m.ID, err)
	}
	return nil
}

// InsertMessage persists a new message. Re-delivery of the same platform id
// is a no-op: ingest handlers can safely replay events.
func (s *Store) InsertMessage(ctx context.Context, m Message) (inserted bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, tenant_id, channel_id, author_id, content, reply_to_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.TenantID, m.ChannelID, m.AuthorID, m.Content, m.ReplyToID, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert message %d: %w", m.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkMessageEdited replaces content and bumps updated_at, which makes any
// existing vector binding stale.
func (s *Store) MarkMessageEdited(ctx context.Context, tenantID, messageID int64, content string, editedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET content = $3, updated_at = $4
		WHERE id = $2 AND tenant_id = $1 AND deleted = FALSE`,
		tenantID, messageID, content, editedAt)
	if err != nil {
		return fmt.Errorf("failed to mark message %d edited: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMessagesDeleted tombstones the rows: content becomes "[deleted]",
// deleted flips, deleted_at is set. The caller enqueues the vector purge
// after this commit returns.
func (s *Store) MarkMessagesDeleted(ctx context.Context, tenantID int64, messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET content = $3, deleted = TRUE, deleted_at = now()
		WHERE tenant_id = $1 AND id = ANY($2) AND deleted = FALSE`,
		tenantID, messageIDs, deletedTombstone)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages deleted: %w", err)
	}
	s.logger.Info(ctx, "messages tombstoned",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("count", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// ReplyTargetCleanup clears reply references pointing at the given
// messages, so reply chains never dangle on tombstoned rows.
func (s *Store) ReplyTargetCleanup(ctx context.Context, tenantID int64, messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET reply_to_id = NULL
		WHERE tenant_id = $1 AND reply_to_id = ANY($2)`,
		tenantID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to clear reply targets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetMessage fetches one message row.
func (s *Store) GetMessage(ctx context.Context, tenantID, messageID int64) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel_id, author_id, content, reply_to_id,
		       created_at, updated_at, deleted, deleted_at, vector_point_id, indexed_at
		FROM messages WHERE tenant_id = $1 AND id = $2`,
		tenantID, messageID)
	var m Message
	err := row.Scan(&m.ID, &m.TenantID, &m.ChannelID, &m.AuthorID, &m.Content, &m.ReplyToID,
		&m.CreatedAt, &m.UpdatedAt, &m.Deleted, &m.DeletedAt, &m.VectorPointID, &m.IndexedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", messageID, err)
	}
	return &m, nil
}

// RecentMessages returns the channel's last n non-deleted messages in
// chronological order. This is the short-term memory the answer paths read.
func (s *Store) RecentMessages(ctx context.Context, tenantID, channelID int64, n int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, channel_id, author_id, content, reply_to_id,
		       created_at, updated_at, deleted, deleted_at, vector_point_id, indexed_at
		FROM (
			SELECT * FROM messages
			WHERE tenant_id = $1 AND channel_id = $2 AND deleted = FALSE
			ORDER BY created_at DESC LIMIT $3
		) recent ORDER BY created_at ASC`,
		tenantID, channelID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesByIDs returns non-deleted messages for the given ids in
// chronological order.
func (s *Store) MessagesByIDs(ctx context.Context, tenantID int64, ids []int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, channel_id, author_id, content, reply_to_id,
		       created_at, updated_at, deleted, deleted_at, vector_point_id, indexed_at
		FROM messages
		WHERE tenant_id = $1 AND id = ANY($2) AND deleted = FALSE
		ORDER BY created_at ASC`,
		tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by ids: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SampleMessages returns up to limit recent non-deleted messages with
// content longer than minLen, newest first. Feeds the thematic analyzer.
func (s *Store) SampleMessages(ctx context.Context, tenantID int64, minLen, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, channel_id, author_id, content, reply_to_id,
		       created_at, updated_at, deleted, deleted_at, vector_point_id, indexed_at
		FROM messages
		WHERE tenant_id = $1 AND deleted = FALSE AND length(content) > $2
		ORDER BY created_at DESC LIMIT $3`,
		tenantID, minLen, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesSince returns non-deleted messages in a channel newer than the
// cutoff, in chronological order.
func (s *Store) MessagesSince(ctx context.Context, tenantID, channelID int64, since time.Time) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, channel_id, author_id, content, reply_to_id,
		       created_at, updated_at, deleted, deleted_at, vector_point_id, indexed_at
		FROM messages
		WHERE tenant_id = $1 AND channel_id = $2 AND deleted = FALSE AND created_at > $3
		ORDER BY created_at ASC`,
		tenantID, channelID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages since %s: %w", since, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ChannelID, &m.AuthorID, &m.Content, &m.ReplyToID,
			&m.CreatedAt, &m.UpdatedAt, &m.Deleted, &m.DeletedAt, &m.VectorPointID, &m.IndexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemberNames returns a display-name lookup for the given member ids.
// Display name wins over username when set.
func (s *Store) MemberNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, display_name FROM members WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query member names: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var username, display string
		if err := rows.Scan(&id, &username, &display); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if display != "" {
			out[id] = display
		} else {
			out[id] = username
		}
	}
	return out, rows.Err()
}

// Channels lists a tenant's channels.
func (s *Store) Channels(ctx context.Context, tenantID int64) ([]Channel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, is_indexed FROM channels WHERE tenant_id = $1 ORDER BY name`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.IsIndexed); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetChannelIndexed toggles whether a channel participates in indexing.
func (s *Store) SetChannelIndexed(ctx context.Context, tenantID, channelID int64, indexed bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE channels SET is_indexed = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, channelID, indexed)
	if err != nil {
		return fmt.Errorf("failed to set channel %d indexed: %w", channelID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertSession persists a sessionizer output group.
func (s *Store) InsertSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, tenant_id, channel_id, started_at, ended_at, message_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.TenantID, sess.ChannelID, sess.StartedAt, sess.EndedAt, sess.MessageIDs)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession fetches one session row.
func (s *Store) GetSession(ctx context.Context, tenantID int64, id uuid.UUID) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel_id, started_at, ended_at, message_ids, vector_point_id
		FROM sessions WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.ChannelID, &sess.StartedAt, &sess.EndedAt,
		&sess.MessageIDs, &sess.VectorPointID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

// RecordVectorBinding marks a session and its messages as indexed. Called
// only after the vector index acknowledged the upsert; a failed upsert
// leaves the binding absent so the item is retried.
func (s *Store) RecordVectorBinding(ctx context.Context, tenantID int64, sessionID, pointID uuid.UUID, messageIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin binding tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET vector_point_id = $3
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID, pointID); err != nil {
		return fmt.Errorf("failed to bind session %s: %w", sessionID, err)
	}
	if len(messageIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE messages SET vector_point_id = $3, indexed_at = now()
			WHERE tenant_id = $1 AND id = ANY($2)`,
			tenantID, messageIDs, pointID); err != nil {
			return fmt.Errorf("failed to bind messages for session %s: %w", sessionID, err)
		}
	}
	return tx.Commit(ctx)
}

// RecordChunkBinding marks a document chunk as indexed.
func (s *Store) RecordChunkBinding(ctx context.Context, tenantID int64, chunkID, pointID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE document_chunks SET vector_point_id = $3
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, chunkID, pointID)
	if err != nil {
		return fmt.Errorf("failed to bind chunk %s: %w", chunkID, err)
	}
	return nil
}

// InsertAttachment records an attachment in pending state.
func (s *Store) InsertAttachment(ctx context.Context, a Attachment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attachments (id, tenant_id, message_id, filename, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.TenantID, a.MessageID, a.Filename, a.SizeBytes, AttachmentPending)
	if err != nil {
		return fmt.Errorf("failed to insert attachment %d: %w", a.ID, err)
	}
	return nil
}

// SetAttachmentStatus moves an attachment to a terminal or deferred state.
func (s *Store) SetAttachmentStatus(ctx context.Context, tenantID, attachmentID int64, status, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attachments SET status = $3, error = $4
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, attachmentID, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update attachment %d: %w", attachmentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertDocumentChunks writes processed chunks in one transaction.
func (s *Store) InsertDocumentChunks(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin chunk tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (id, tenant_id, attachment_id, parent_file, chunk_index, content, heading_context)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.TenantID, c.AttachmentID, c.ParentFile, c.ChunkIndex, c.Content, c.HeadingContext); err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", c.ChunkIndex, c.ParentFile, err)
		}
	}
	return tx.Commit(ctx)
}

// SessionsContaining returns sessions whose message_ids overlap the given
// deleted ids. The purge task deletes their points and reinserts the
// survivors.
func (s *Store) SessionsContaining(ctx context.Context, tenantID int64, messageIDs []int64) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, channel_id, started_at, ended_at, message_ids, vector_point_id
		FROM sessions
		WHERE tenant_id = $1 AND message_ids && $2`,
		tenantID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions containing messages: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.TenantID, &sess.ChannelID, &sess.StartedAt, &sess.EndedAt,
			&sess.MessageIDs, &sess.VectorPointID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"fmt"
)

// InsertDMMessage appends one turn to a user's direct-message history.
func (s *Store) InsertDMMessage(ctx context.Context, m DMMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dm_messages (user_id, tenant_id, role, content)
		VALUES ($1, $2, $3, $4)`,
		m.UserID, m.TenantID, m.Role, m.Content)
	if err != nil {
		return fmt.Errorf("failed to insert dm message: %w", err)
	}
	return nil
}

// RecentDMMessages returns the user's last n turns in chronological order.
func (s *Store) RecentDMMessages(ctx context.Context, userID int64, n int) ([]DMMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, tenant_id, role, content, created_at
		FROM (
			SELECT * FROM dm_messages WHERE user_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`,
		userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query dm messages: %w", err)
	}
	defer rows.Close()
	var out []DMMessage
	for rows.Next() {
		var m DMMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.TenantID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dm message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

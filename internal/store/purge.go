package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TenantIDs lists every known tenant.
func (s *Store) TenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list tenants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeTenantData erases every relational row a tenant owns, in one
// transaction. Child tables go first so the deletes never trip foreign
// keys mid-flight.
func (s *Store) PurgeTenantData(ctx context.Context, tenantID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tenant purge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	statements := []string{
		`DELETE FROM document_chunks WHERE tenant_id = $1`,
		`DELETE FROM attachments WHERE tenant_id = $1`,
		`DELETE FROM dm_messages WHERE tenant_id = $1`,
		`DELETE FROM sessions WHERE tenant_id = $1`,
		`DELETE FROM messages WHERE tenant_id = $1`,
		`DELETE FROM channels WHERE tenant_id = $1`,
		`DELETE FROM tenants WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, tenantID); err != nil {
			return fmt.Errorf("store: tenant purge: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tenant purge: %w", err)
	}
	s.logger.Info(ctx, "tenant data purged", zap.Int64("tenant_id", tenantID))
	return nil
}

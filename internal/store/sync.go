package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SyncHealth is a read-only projection of how far the vector index lags
// behind the store. Only messages in indexed channels count.
type SyncHealth struct {
	TenantID   int64   `json:"tenant_id"`
	Total      int64   `json:"total"`
	Bound      int64   `json:"bound"`
	Unbound    int64   `json:"unbound"`
	Stale      int64   `json:"stale"`
	Percentage float64 `json:"percentage"`
	Health     string  `json:"health"`
}

// Health tiers.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// HealthTier maps a bound/total ratio to a tier. An empty partition is
// healthy by definition.
func HealthTier(bound, total int64) (float64, string) {
	if total == 0 {
		return 100.0, HealthHealthy
	}
	pct := float64(bound) / float64(total) * 100
	switch {
	case pct >= 95:
		return pct, HealthHealthy
	case pct >= 80:
		return pct, HealthDegraded
	default:
		return pct, HealthCritical
	}
}

// GetSyncHealth computes the four counters for a tenant. Bound, unbound,
// and stale partition the live rows: an edited row counts as stale, not
// bound, until it is re-indexed.
func (s *Store) GetSyncHealth(ctx context.Context, tenantID int64) (*SyncHealth, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE m.deleted = FALSE),
			COUNT(*) FILTER (WHERE m.deleted = FALSE AND m.vector_point_id IS NOT NULL
				AND m.indexed_at IS NOT NULL AND m.updated_at <= m.indexed_at),
			COUNT(*) FILTER (WHERE m.deleted = FALSE AND m.vector_point_id IS NULL),
			COUNT(*) FILTER (WHERE m.deleted = FALSE
				AND m.indexed_at IS NOT NULL AND m.updated_at > m.indexed_at)
		FROM messages m
		JOIN channels c ON m.channel_id = c.id
		WHERE m.tenant_id = $1 AND c.is_indexed = TRUE`,
		tenantID)

	h := SyncHealth{TenantID: tenantID}
	if err := row.Scan(&h.Total, &h.Bound, &h.Unbound, &h.Stale); err != nil {
		return nil, fmt.Errorf("failed to compute sync health: %w", err)
	}
	h.Percentage, h.Health = HealthTier(h.Bound, h.Total)
	return &h, nil
}

// FindUnbound returns ids of messages awaiting their first index pass,
// newest first, indexed channels only.
func (s *Store) FindUnbound(ctx context.Context, tenantID int64, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id FROM messages m
		JOIN channels c ON m.channel_id = c.id
		WHERE m.tenant_id = $1 AND m.deleted = FALSE
		  AND m.vector_point_id IS NULL AND c.is_indexed = TRUE
		ORDER BY m.created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find unbound messages: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// UnboundChannels returns channel ids holding never-indexed messages older
// than the given age, indexed channels only. The age cutoff keeps channels
// still inside their idle window out of the result; what remains is work
// the gateway flushed but whose index task never survived, typically after
// a crash.
func (s *Store) UnboundChannels(ctx context.Context, tenantID int64, olderThan time.Duration) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT m.channel_id FROM messages m
		JOIN channels c ON m.channel_id = c.id
		WHERE m.tenant_id = $1 AND m.deleted = FALSE
		  AND m.vector_point_id IS NULL AND m.indexed_at IS NULL
		  AND c.is_indexed = TRUE
		  AND m.created_at < now() - make_interval(secs => $2)`,
		tenantID, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to find unbound channels: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// FindStale returns ids of messages edited after their last index pass.
func (s *Store) FindStale(ctx context.Context, tenantID int64, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM messages
		WHERE tenant_id = $1 AND deleted = FALSE
		  AND indexed_at IS NOT NULL AND updated_at > indexed_at
		LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale messages: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ResetVectorBindings clears bindings so the indexer re-runs. With staleOnly
// set, only unbound and stale rows are reset; otherwise everything. An
// optional channelID scopes the reset to one channel.
func (s *Store) ResetVectorBindings(ctx context.Context, tenantID int64, staleOnly bool, channelID *int64) (int64, error) {
	query := `
		UPDATE messages SET vector_point_id = NULL, indexed_at = NULL
		WHERE tenant_id = $1 AND deleted = FALSE`
	args := []any{tenantID}
	if staleOnly {
		query += ` AND (vector_point_id IS NULL OR updated_at > indexed_at)`
	}
	if channelID != nil {
		query += fmt.Sprintf(` AND channel_id = $%d`, len(args)+1)
		args = append(args, *channelID)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset vector bindings: %w", err)
	}
	s.logger.Info(ctx, "vector bindings reset",
		zap.Int64("tenant_id", tenantID),
		zap.Bool("stale_only", staleOnly),
		zap.Int64("count", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// VerifyPoints partitions candidate point ids into those with a live store
// row and orphans with none. Orphans are purge candidates.
func (s *Store) VerifyPoints(ctx context.Context, tenantID int64, pointIDs []string) (valid, orphaned []string, err error) {
	if len(pointIDs) == 0 {
		return nil, nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT vector_point_id::text FROM messages
		WHERE tenant_id = $1 AND deleted = FALSE AND vector_point_id::text = ANY($2)
		UNION
		SELECT DISTINCT vector_point_id::text FROM sessions
		WHERE tenant_id = $1 AND vector_point_id::text = ANY($2)`,
		tenantID, pointIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify points: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("failed to scan point id: %w", err)
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	for _, p := range pointIDs {
		if _, ok := known[p]; ok {
			valid = append(valid, p)
		} else {
			orphaned = append(orphaned, p)
		}
	}
	return valid, orphaned, nil
}

func scanIDs(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"fmt"
	"time"
)

// TenantStats are the headline counters for one tenant.
type TenantStats struct {
	TenantID      int64 `json:"tenant_id"`
	TotalMessages int64 `json:"total_messages"`
	TotalChannels int64 `json:"total_channels"`
	ActiveMembers int64 `json:"active_members"`
	TotalSessions int64 `json:"total_sessions"`
}

// DayCount is one bucket of the activity timeseries.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

// ChannelCount ranks channels by message volume.
type ChannelCount struct {
	ChannelID int64  `json:"channel_id"`
	Name      string `json:"name"`
	Count     int64  `json:"count"`
}

// GetTenantStats returns headline counters.
func (s *Store) GetTenantStats(ctx context.Context, tenantID int64) (*TenantStats, error) {
	st := TenantStats{TenantID: tenantID}
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM messages WHERE tenant_id = $1 AND deleted = FALSE),
			(SELECT COUNT(*) FROM channels WHERE tenant_id = $1),
			(SELECT COUNT(DISTINCT author_id) FROM messages
			   WHERE tenant_id = $1 AND deleted = FALSE AND created_at > now() - interval '30 days'),
			(SELECT COUNT(*) FROM sessions WHERE tenant_id = $1)`,
		tenantID)
	if err := row.Scan(&st.TotalMessages, &st.TotalChannels, &st.ActiveMembers, &st.TotalSessions); err != nil {
		return nil, fmt.Errorf("failed to compute tenant stats: %w", err)
	}
	return &st, nil
}

// MessageTimeseries buckets message counts per day over the last `days`.
func (s *Store) MessageTimeseries(ctx context.Context, tenantID int64, days int) ([]DayCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('day', created_at) AS day, COUNT(*)
		FROM messages
		WHERE tenant_id = $1 AND deleted = FALSE
		  AND created_at > now() - make_interval(days => $2)
		GROUP BY day ORDER BY day`,
		tenantID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query message timeseries: %w", err)
	}
	defer rows.Close()
	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan timeseries bucket: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// TopChannels returns the busiest channels.
func (s *Store) TopChannels(ctx context.Context, tenantID int64, limit int) ([]ChannelCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, COUNT(m.id)
		FROM channels c
		JOIN messages m ON m.channel_id = c.id AND m.deleted = FALSE
		WHERE c.tenant_id = $1
		GROUP BY c.id, c.name
		ORDER BY COUNT(m.id) DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top channels: %w", err)
	}
	defer rows.Close()
	var out []ChannelCount
	for rows.Next() {
		var cc ChannelCount
		if err := rows.Scan(&cc.ChannelID, &cc.Name, &cc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan channel count: %w", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// AnalyticsQuery runs guarded, read-only SQL on the replica pool and returns
// columns plus stringable rows. Only the SQL guard's output may reach here.
func (s *Store) AnalyticsQuery(ctx context.Context, sql string) ([]string, [][]any, error) {
	rows, err := s.roPool.Query(ctx, sql)
	if err != nil {
		return nil, nil, fmt.Errorf("analytics query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read analytics row: %w", err)
		}
		out = append(out, vals)
		if len(out) >= 1000 {
			break
		}
	}
	return cols, out, rows.Err()
}

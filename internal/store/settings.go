package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetDirective returns a tenant's personality directive, empty when unset.
func (s *Store) GetDirective(ctx context.Context, tenantID int64) (string, error) {
	var directive string
	err := s.pool.QueryRow(ctx,
		`SELECT directive FROM tenants WHERE id = $1`, tenantID).Scan(&directive)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get directive: %w", err)
	}
	return directive, nil
}

// SetDirective updates a tenant's personality directive.
func (s *Store) SetDirective(ctx context.Context, tenantID int64, directive string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET directive = $2 WHERE id = $1`, tenantID, directive)
	if err != nil {
		return fmt.Errorf("failed to set directive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting returns a global setting value, ErrNotFound when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// PutSetting upserts a global setting.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to put setting %q: %w", key, err)
	}
	return nil
}

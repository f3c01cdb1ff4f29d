package store

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. Primary keys are platform
// snowflakes; every row is tenant-scoped.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id            BIGINT PRIMARY KEY,
    name          TEXT NOT NULL,
    directive     TEXT NOT NULL DEFAULT '',
    joined_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS channels (
    id            BIGINT PRIMARY KEY,
    tenant_id     BIGINT NOT NULL REFERENCES tenants(id),
    name          TEXT NOT NULL,
    is_indexed    BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_channels_tenant ON channels(tenant_id);

CREATE TABLE IF NOT EXISTS members (
    id            BIGINT PRIMARY KEY,
    username      TEXT NOT NULL,
    display_name  TEXT NOT NULL DEFAULT '',
    is_bot        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS messages (
    id             BIGINT PRIMARY KEY,
    tenant_id      BIGINT NOT NULL REFERENCES tenants(id),
    channel_id     BIGINT NOT NULL REFERENCES channels(id),
    author_id      BIGINT NOT NULL,
    content        TEXT NOT NULL,
    reply_to_id    BIGINT,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    deleted        BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at     TIMESTAMPTZ,
    vector_point_id UUID,
    indexed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_messages_tenant_channel ON messages(tenant_id, channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_unbound ON messages(tenant_id) WHERE vector_point_id IS NULL AND deleted = FALSE;

CREATE TABLE IF NOT EXISTS sessions (
    id              UUID PRIMARY KEY,
    tenant_id       BIGINT NOT NULL REFERENCES tenants(id),
    channel_id      BIGINT NOT NULL REFERENCES channels(id),
    started_at      TIMESTAMPTZ NOT NULL,
    ended_at        TIMESTAMPTZ NOT NULL,
    message_ids     BIGINT[] NOT NULL,
    vector_point_id UUID
);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id, started_at);

CREATE TABLE IF NOT EXISTS attachments (
    id          BIGINT PRIMARY KEY,
    tenant_id   BIGINT NOT NULL REFERENCES tenants(id),
    message_id  BIGINT NOT NULL REFERENCES messages(id),
    filename    TEXT NOT NULL,
    size_bytes  BIGINT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending',
    error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS document_chunks (
    id              UUID PRIMARY KEY,
    tenant_id       BIGINT NOT NULL REFERENCES tenants(id),
    attachment_id   BIGINT NOT NULL REFERENCES attachments(id),
    parent_file     TEXT NOT NULL,
    chunk_index     INT NOT NULL,
    content         TEXT NOT NULL,
    heading_context TEXT NOT NULL DEFAULT '',
    vector_point_id UUID
);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON document_chunks(tenant_id);

CREATE TABLE IF NOT EXISTS dm_messages (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL,
    tenant_id  BIGINT,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dm_user ON dm_messages(user_id, created_at);

CREATE TABLE IF NOT EXISTS app_settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema applies the schema. Safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

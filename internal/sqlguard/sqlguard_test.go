package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = int64(4242)

func TestValidateRequiresTenant(t *testing.T) {
	_, err := Validate("SELECT 1", 0)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestRejectsNonSelect(t *testing.T) {
	for _, sql := range []string{
		"", "   ", "UPDATE messages",
		"WITH x AS (SELECT 1) SELECT * FROM x", // CTE prefix is not SELECT
	} {
		_, err := Validate(sql, tenant)
		assert.ErrorIs(t, err, ErrNotSelect, "sql: %q", sql)
	}
}

func TestRejectsForbiddenKeywords(t *testing.T) {
	tests := []string{
		"SELECT * FROM messages; DROP TABLE messages",
		"SELECT * FROM messages WHERE id IN (DELETE FROM messages RETURNING id)",
		"SELECT pg_sleep(1) FROM messages GRANT ALL",
		"SELECT * FROM messages LOCK TABLE messages",
	}
	for _, sql := range tests {
		_, err := Validate(sql, tenant)
		assert.ErrorIs(t, err, ErrForbiddenKeyword, "sql: %q", sql)
	}
}

func TestOffsetIsNotSet(t *testing.T) {
	got, err := Validate("SELECT id FROM messages WHERE tenant_id = 1 LIMIT 10 OFFSET 5", tenant)
	require.NoError(t, err, "OFFSET must not trip the SET keyword")
	assert.Contains(t, got, "OFFSET 5")
}

func TestRejectsInjectionPatterns(t *testing.T) {
	tests := []string{
		"SELECT * FROM messages -- hidden",
		"SELECT * FROM messages /* comment */",
		"SELECT id FROM messages UNION ALL SELECT password FROM users",
		"SELECT * FROM messages INTO OUTFILE '/tmp/x'",
		"SELECT LOAD_FILE('/etc/passwd')",
	}
	for _, sql := range tests {
		_, err := Validate(sql, tenant)
		assert.ErrorIs(t, err, ErrInjectionPattern, "sql: %q", sql)
	}
}

func TestRejectsMultiStatement(t *testing.T) {
	_, err := Validate("SELECT 1; SELECT 2", tenant)
	assert.ErrorIs(t, err, ErrMultiStatement)
}

func TestTenantPredicateInjection(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"existing where gains first conjunct",
			"SELECT COUNT(*) FROM messages WHERE channel_id = 5",
			"SELECT COUNT(*) FROM messages WHERE tenant_id = 4242 AND channel_id = 5",
		},
		{
			"new where before group by",
			"SELECT author_id, COUNT(*) FROM messages GROUP BY author_id ORDER BY COUNT(*) DESC",
			"SELECT author_id, COUNT(*) FROM messages WHERE tenant_id = 4242 GROUP BY author_id ORDER BY COUNT(*) DESC",
		},
		{
			"new where before limit",
			"SELECT id FROM messages LIMIT 10",
			"SELECT id FROM messages WHERE tenant_id = 4242 LIMIT 10",
		},
		{
			"appended when no trailing clause",
			"SELECT COUNT(*) FROM messages",
			"SELECT COUNT(*) FROM messages WHERE tenant_id = 4242",
		},
		{
			"placeholder substituted",
			"SELECT COUNT(*) FROM messages WHERE tenant_id = {tenant_id}",
			"SELECT COUNT(*) FROM messages WHERE tenant_id = 4242",
		},
		{
			"wrong tenant id rewritten",
			"SELECT COUNT(*) FROM messages WHERE tenant_id = 999",
			"SELECT COUNT(*) FROM messages WHERE tenant_id = 4242",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.in, tenant)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripsTrailingSemicolonAndWhitespace(t *testing.T) {
	got, err := Validate("  SELECT   COUNT(*)  FROM messages ; ", tenant)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM messages WHERE tenant_id = 4242", got)
}

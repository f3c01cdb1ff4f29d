package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewValidatesConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestContextFieldsPropagate(t *testing.T) {
	logger, observed := NewTestLogger()

	ctx := WithFields(context.Background(), zap.Int64("tenant_id", 42))
	logger.Info(ctx, "hello", zap.String("component", "test"))

	entries := observed.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 42, fields["tenant_id"])
	assert.Equal(t, "test", fields["component"])
}

func TestWithFieldsMerges(t *testing.T) {
	ctx := WithFields(context.Background(), zap.String("a", "1"))
	ctx = WithFields(ctx, zap.String("b", "2"))
	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
}

func TestRedactorMasksSensitiveFields(t *testing.T) {
	r, err := newRedactor(NewDefaultConfig().Redaction)
	require.NoError(t, err)

	tests := []struct {
		name  string
		field zapcore.Field
		want  string
	}{
		{"api key field", zap.String("api_key", "sk-abc123"), redactedPlaceholder},
		{"token field", zap.String("token", "xyz"), redactedPlaceholder},
		{"bearer in value", zap.String("note", "sent Bearer abc123 upstream"), "sent " + redactedPlaceholder + " upstream"},
		{"plain field untouched", zap.String("channel", "general"), "general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.redactField(tt.field)
			assert.Equal(t, tt.want, got.String)
		})
	}
}

func TestNamedChildKeepsConfig(t *testing.T) {
	logger, _ := NewTestLogger()
	child := logger.Named("queue").With(zap.String("worker", "w1"))
	require.NotNil(t, child.config)
	assert.True(t, child.Enabled(zapcore.DebugLevel))
}

package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fieldKeys(ctx context.Context) []string {
	fields := ContextFields(ctx)
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	return keys
}

func TestContextFields(t *testing.T) {
	t.Run("empty context yields no fields", func(t *testing.T) {
		assert.Empty(t, ContextFields(context.Background()))
	})

	t.Run("owner and document and request", func(t *testing.T) {
		ctx := WithOwnerID(context.Background(), "acme")
		ctx = WithDocumentID(ctx, "doc-123")
		ctx = WithRequestID(ctx, "req-456")

		keys := fieldKeys(ctx)
		assert.Contains(t, keys, "owner.id")
		assert.Contains(t, keys, "document.id")
		assert.Contains(t, keys, "request.id")
	})
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, OwnerIDFromContext(ctx))
	assert.Empty(t, DocumentIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithOwnerID(ctx, "acme")
	assert.Equal(t, "acme", OwnerIDFromContext(ctx))
}

func TestNewTestLogger(t *testing.T) {
	logger, observed := NewTestLogger()
	logger.Info("hello")
	assert.Equal(t, 1, observed.FilterMessage("hello").Len())
}

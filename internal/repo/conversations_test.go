package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatrix/api/internal/kv"
)

func TestConversationsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	convs := NewConversations(store, nil)

	older := Conversation{ID: "conv_1", Title: "Ngân sách", Timestamp: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}
	newer := Conversation{
		ID:        "conv_2",
		Title:     "KPI",
		Timestamp: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "Gợi ý KPI cho phòng kinh doanh", CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
			{Role: RoleAI, Content: "| Code | KPI |", IsMarkdown: true, CreatedAt: time.Date(2026, 10, 1, 0, 0, 1, 0, time.UTC)},
		},
	}
	require.NoError(t, convs.Save(ctx, older))
	require.NoError(t, convs.Save(ctx, newer))

	listed := convs.List(ctx)
	require.Len(t, listed, 2)
	assert.Equal(t, "conv_2", listed[0].ID)

	got, ok := convs.Get(ctx, "conv_2")
	require.True(t, ok)
	assert.Equal(t, newer, got)

	// a second repository over the same store sees the whole collection
	reopened := NewConversations(store, nil)
	assert.Len(t, reopened.List(ctx), 2)

	require.NoError(t, convs.Delete(ctx, "conv_1"))
	_, ok = convs.Get(ctx, "conv_1")
	assert.False(t, ok)
	assert.ErrorIs(t, convs.Delete(ctx, "conv_1"), kv.ErrNotFound)
}

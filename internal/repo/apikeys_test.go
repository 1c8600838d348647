package repo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatrix/api/internal/kv"
)

func TestAPIKeysRequireSecret(t *testing.T) {
	_, err := NewAPIKeys(kv.NewMemory(), "", nil)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestAPIKeysHighestPriorityWins(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	keys, err := NewAPIKeys(store, "local-secret", nil)
	require.NoError(t, err)

	_, ok := keys.Effective(ctx)
	assert.False(t, ok)

	low, err := keys.Add(ctx, "backup", "AIza-low-0001", 1)
	require.NoError(t, err)
	high, err := keys.Add(ctx, "primary", "AIza-high-0002", 10)
	require.NoError(t, err)

	effective, ok := keys.Effective(ctx)
	require.True(t, ok)
	assert.Equal(t, "AIza-high-0002", effective)

	listed := keys.List(ctx)
	require.Len(t, listed, 2)
	assert.Equal(t, high.ID, listed[0].ID)
	assert.Equal(t, "********0002", listed[0].Masked)

	// plaintext never reaches the store
	raw, err := store.Get(ctx, keyAPIKeys)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "AIza-high-0002"))

	require.NoError(t, keys.Delete(ctx, high.ID))
	effective, ok = keys.Effective(ctx)
	require.True(t, ok)
	assert.Equal(t, "AIza-low-0001", effective)
	assert.Equal(t, low.ID, keys.List(ctx)[0].ID)

	assert.ErrorIs(t, keys.Delete(ctx, high.ID), kv.ErrNotFound)
}

func TestAPIKeysWrongSecretSkipsKey(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	first, err := NewAPIKeys(store, "secret-a", nil)
	require.NoError(t, err)
	_, err = first.Add(ctx, "primary", "AIza-xyz", 5)
	require.NoError(t, err)

	second, err := NewAPIKeys(store, "secret-b", nil)
	require.NoError(t, err)
	_, ok := second.Effective(ctx)
	assert.False(t, ok)
	assert.Len(t, second.List(ctx), 1)
}

func TestAPIKeysRejectEmpty(t *testing.T) {
	keys, err := NewAPIKeys(kv.NewMemory(), "s", nil)
	require.NoError(t, err)
	_, err = keys.Add(context.Background(), "blank", "   ", 1)
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "********6789", Mask("123456789"))
}

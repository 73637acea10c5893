package strkv

import (
	"context"
	"testing"

	"gridvault/pkg/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrKV_WriteReadDelete(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	loc, err := store.Write(ctx, []byte("ground truth label"))
	require.NoError(t, err)

	got, err := store.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("ground truth label"), got)

	require.NoError(t, store.Delete(ctx, loc))
	_, err = store.Read(ctx, loc)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, loc), backend.ErrNotFound)
}

func TestStrKV_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(dir)
	require.NoError(t, err)
	loc, err := store.Write(ctx, []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// 重新打开后数据仍在
	store2, err := New(dir)
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

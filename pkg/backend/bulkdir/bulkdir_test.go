package bulkdir

import (
	"context"
	"testing"

	"gridvault/pkg/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkDir_WriteReadDelete(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	payload := []byte("row data payload")

	loc, err := store.Write(ctx, payload)
	require.NoError(t, err)
	require.NotEmpty(t, loc)

	// Write 返回后 Read 必须逐字节复原
	got, err := store.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, store.Delete(ctx, loc))

	_, err = store.Read(ctx, loc)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	// 重复删除 -> NotFound
	assert.ErrorIs(t, store.Delete(ctx, loc), backend.ErrNotFound)
}

func TestBulkDir_DistinctLocations(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	// 相同字节的两次写入拿到不同令牌；去重是 CAS 的职责，不是后端的
	l1, err := store.Write(ctx, []byte("same"))
	require.NoError(t, err)
	l2, err := store.Write(ctx, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, l1, l2)
}

func TestBulkDir_StoredBytes(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Write(ctx, make([]byte, 100))
	require.NoError(t, err)
	_, err = store.Write(ctx, make([]byte, 50))
	require.NoError(t, err)

	total, err := store.StoredBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), total)
}

package zblob

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"gridvault/pkg/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZBlob_RoundTrip_Zstd(t *testing.T) {
	store, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	// 高度可压缩的数据，顺便确认真的压了
	payload := bytes.Repeat([]byte("tensor"), 4096)

	loc, err := store.Write(ctx, payload)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(loc), "zstd:"), "令牌必须携带 complib")

	got, err := store.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	compressed, err := store.StoredBytes(ctx)
	require.NoError(t, err)
	assert.Less(t, compressed, int64(len(payload)))
}

func TestZBlob_RoundTrip_LZ4(t *testing.T) {
	store, err := New(t.TempDir(), Options{Complib: CompLZ4})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	payload := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 2048)

	loc, err := store.Write(ctx, payload)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(loc), "lz4:"))

	got, err := store.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestZBlob_MixedComplibs(t *testing.T) {
	dir := t.TempDir()

	// 先用 lz4 写入
	lz, err := New(dir, Options{Complib: CompLZ4})
	require.NoError(t, err)
	ctx := context.Background()
	loc, err := lz.Write(ctx, []byte("written with lz4"))
	require.NoError(t, err)
	require.NoError(t, lz.Close())

	// complib 切回 zstd 之后，历史 lz4 数据依然可读
	zs, err := New(dir, Options{Complib: CompZstd})
	require.NoError(t, err)
	defer zs.Close()

	got, err := zs.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("written with lz4"), got)
}

func TestZBlob_DeleteAndErrors(t *testing.T) {
	store, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	loc, err := store.Write(ctx, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, loc))
	assert.ErrorIs(t, store.Delete(ctx, loc), backend.ErrNotFound)
	_, err = store.Read(ctx, loc)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	// 坏令牌
	_, err = store.Read(ctx, "no-complib-prefix")
	assert.Error(t, err)

	// 未知 complib
	_, err = New(t.TempDir(), Options{Complib: "brotli"})
	assert.Error(t, err)
}

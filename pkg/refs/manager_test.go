package refs

import (
	"context"
	"testing"

	"gridvault/pkg/meta"
	"gridvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	digestA = types.Digest("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	digestB = types.Digest("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	db, err := meta.NewDB(context.Background(), meta.Config{
		Driver: "sqlite",
		Path:   t.TempDir() + "/meta.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(meta.NewRepository(db))
}

func TestManager_BranchLifecycle(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateBranch(ctx, "main", digestA))

	got, err := m.GetBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, digestA, got)

	// 重复创建
	err = m.CreateBranch(ctx, "main", digestB)
	assert.ErrorIs(t, err, ErrBranchExists)

	// 推进
	require.NoError(t, m.AdvanceBranch(ctx, "main", digestA, digestB))
	got, err = m.GetBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, digestB, got)

	// 陈旧的 expected 被拒绝
	err = m.AdvanceBranch(ctx, "main", digestA, digestA)
	assert.ErrorIs(t, err, meta.ErrConcurrentUpdate)

	_, err = m.GetBranch(ctx, "nope")
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

func TestManager_ListBranches(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateBranch(ctx, "main", digestA))
	require.NoError(t, m.CreateBranch(ctx, "dev", digestB))

	all, err := m.ListBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Digest{"main": digestA, "dev": digestB}, all)
}

func TestManager_Head(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	_, err := m.Head(ctx)
	assert.ErrorIs(t, err, ErrNoHead)

	require.NoError(t, m.CreateBranch(ctx, "main", digestA))
	require.NoError(t, m.SetHeadBranch(ctx, "main"))

	head, err := m.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", head.Branch)
	assert.Equal(t, digestA, head.Commit)
	assert.False(t, head.Detached())

	// 分支推进后 HEAD 跟着走
	require.NoError(t, m.AdvanceBranch(ctx, "main", digestA, digestB))
	head, err = m.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, digestB, head.Commit)

	// detached
	require.NoError(t, m.SetHeadDetached(ctx, digestA))
	head, err = m.Head(ctx)
	require.NoError(t, err)
	assert.True(t, head.Detached())
	assert.Equal(t, digestA, head.Commit)
}

func TestManager_DeleteBranch(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateBranch(ctx, "main", digestA))
	require.NoError(t, m.CreateBranch(ctx, "dev", digestA))
	require.NoError(t, m.SetHeadBranch(ctx, "main"))

	// 当前检出的分支不能删
	err := m.DeleteBranch(ctx, "main")
	assert.ErrorIs(t, err, ErrBranchCheckedOut)

	require.NoError(t, m.DeleteBranch(ctx, "dev"))
	_, err = m.GetBranch(ctx, "dev")
	assert.ErrorIs(t, err, ErrBranchNotFound)

	err = m.DeleteBranch(ctx, "dev")
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

func TestValidName(t *testing.T) {
	assert.NoError(t, validName("feature/resize-224"))
	assert.ErrorIs(t, validName(""), ErrInvalidName)
	assert.ErrorIs(t, validName("bad name"), ErrInvalidName)
	// 40 hex 的名字会和提交摘要混淆
	assert.ErrorIs(t, validName(string(digestA)), ErrInvalidName)
}

package e2e

import (
	"context"
	"crypto/rand"
	"testing"

	"gridvault/pkg/checkout"
	"gridvault/pkg/repo"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFullWorkflow 走一遍完整的使用流程:
// init -> 定义列 -> 批量写样本 -> commit -> 分支 -> 两侧提交 -> 合并 -> GC
func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := repo.Init(ctx, dir, repo.Options{})
	require.NoError(t, err)
	defer r.Close()

	// -------------------------------------------------------------
	// 1. 定义两个列: 固定形状数组 + 字符串标签
	// -------------------------------------------------------------
	w, err := r.Checkouts.OpenWrite(ctx, checkout.WriteOptions{})
	require.NoError(t, err)

	images := schema.Schema{
		Name: "images", Layout: schema.DefaultLayout,
		Kind: schema.KindArray, Policy: schema.PolicyFixed,
		DType: schema.Float32, Shape: []int64{8, 8},
		Backend:     schema.BackendZBlob,
		BackendOpts: schema.DefaultBackendOpts(schema.BackendZBlob),
	}
	labels := schema.Schema{
		Name: "labels", Layout: schema.DefaultLayout,
		Kind: schema.KindStr, Backend: schema.BackendStrKV,
	}
	require.NoError(t, w.Stage().DefineColumn(images))
	require.NoError(t, w.Stage().DefineColumn(labels))

	// -------------------------------------------------------------
	// 2. 批量写入样本 (8x8 float32 = 256 字节/样本)
	// -------------------------------------------------------------
	items := map[types.SampleKey]schema.Sample{}
	for i := 0; i < 16; i++ {
		data := make([]byte, 256)
		_, err := rand.Read(data)
		require.NoError(t, err)
		items[types.IntKey(int64(i))] = schema.ArraySample(schema.Float32, []int64{8, 8}, data)
	}
	results, err := w.Stage().SetBatch(ctx, "images", items)
	require.NoError(t, err)
	for _, res := range results {
		require.NoError(t, res.Err)
	}

	// 相同的标签内容写 16 次: 内容寻址去重, 只占一份物理拷贝
	for i := 0; i < 16; i++ {
		_, err := w.Stage().Set(ctx, "labels", types.IntKey(int64(i)), schema.StrSample("class-a"))
		require.NoError(t, err)
	}

	c1, err := w.Commit(ctx, "alice", "alice@example.com", "initial dataset")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// -------------------------------------------------------------
	// 3. 分支两侧各自提交
	// -------------------------------------------------------------
	require.NoError(t, r.Refs.CreateBranch(ctx, "relabel", c1.Digest()))
	require.NoError(t, r.Refs.SetHeadBranch(ctx, "relabel"))

	w, err = r.Checkouts.OpenWrite(ctx, checkout.WriteOptions{})
	require.NoError(t, err)
	_, err = w.Stage().Set(ctx, "labels", types.IntKey(0), schema.StrSample("class-b"))
	require.NoError(t, err)
	_, err = w.Commit(ctx, "bob", "bob@example.com", "relabel sample 0")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, r.Refs.SetHeadBranch(ctx, repo.DefaultBranch))
	w, err = r.Checkouts.OpenWrite(ctx, checkout.WriteOptions{})
	require.NoError(t, err)
	data := make([]byte, 256)
	_, err = rand.Read(data)
	require.NoError(t, err)
	_, err = w.Stage().Set(ctx, "images", types.IntKey(99),
		schema.ArraySample(schema.Float32, []int64{8, 8}, data))
	require.NoError(t, err)
	_, err = w.Commit(ctx, "alice", "alice@example.com", "add sample 99")
	require.NoError(t, err)

	// -------------------------------------------------------------
	// 4. 合并: 两侧改动不重叠, 干净合并
	// -------------------------------------------------------------
	out, err := w.Merge(ctx, "relabel", "alice", "alice@example.com", "merge relabel")
	require.NoError(t, err)
	require.NotNil(t, out.Commit)
	assert.True(t, out.Commit.IsMerge())
	require.NoError(t, w.Close())

	// 合并结果同时包含两侧的改动
	read, err := r.Checkouts.OpenRead(ctx, repo.DefaultBranch)
	require.NoError(t, err)

	label, err := read.Get(ctx, "labels", types.IntKey(0))
	require.NoError(t, err)
	assert.Equal(t, "class-b", label.Str())

	_, err = read.Get(ctx, "images", types.IntKey(99))
	require.NoError(t, err)

	img, err := read.Get(ctx, "images", types.IntKey(3))
	require.NoError(t, err)
	assert.Len(t, img.Data, 256)

	// -------------------------------------------------------------
	// 5. 历史完整性: 初始提交仍然可读
	// -------------------------------------------------------------
	old, err := r.Checkouts.OpenRead(ctx, string(c1.Digest()))
	require.NoError(t, err)
	label, err = old.Get(ctx, "labels", types.IntKey(0))
	require.NoError(t, err)
	assert.Equal(t, "class-a", label.Str(), "历史提交是不可变的")

	// -------------------------------------------------------------
	// 6. GC: 所有数据都可达, 不应删除任何东西
	// -------------------------------------------------------------
	report, err := r.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)

	// 概览视图
	s, err := r.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, repo.DefaultBranch, s.Branch)
	assert.Len(t, s.Columns, 2)
}

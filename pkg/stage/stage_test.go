package stage

import (
	"context"
	"testing"

	"gridvault/pkg/backend"
	"gridvault/pkg/backend/bulkdir"
	"gridvault/pkg/backend/strkv"
	"gridvault/pkg/cas"
	"gridvault/pkg/meta"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStage(t *testing.T) *Stage {
	t.Helper()
	dir := t.TempDir()

	db, err := meta.NewDB(context.Background(), meta.Config{Driver: "sqlite", Path: dir + "/meta.db"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bulk, err := bulkdir.New(dir + "/data/10")
	require.NoError(t, err)
	kv, err := strkv.New(dir + "/data/30")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	store := cas.New(meta.NewRepository(db), map[types.BackendCode]backend.Backend{
		schema.BackendBulkDir: bulk,
		schema.BackendStrKV:   kv,
	})

	s, err := Load(dir+"/stage.json", store)
	require.NoError(t, err)
	return s
}

func imagesSchema() schema.Schema {
	return schema.Schema{
		Name: "images", Layout: schema.DefaultLayout,
		Kind: schema.KindArray, Policy: schema.PolicyFixed,
		DType: schema.UInt8, Shape: []int64{4},
		Backend: schema.BackendBulkDir,
	}
}

func labelsSchema() schema.Schema {
	return schema.Schema{
		Name: "labels", Layout: schema.DefaultLayout,
		Kind: schema.KindStr, Backend: schema.BackendStrKV,
	}
}

func TestStage_DefineColumn(t *testing.T) {
	s := newTestStage(t)

	require.NoError(t, s.DefineColumn(imagesSchema()))

	// 一致的重定义是幂等的
	require.NoError(t, s.DefineColumn(imagesSchema()))

	// 不一致的重定义被拒绝
	changed := imagesSchema()
	changed.Shape = []int64{8}
	assert.ErrorIs(t, s.DefineColumn(changed), schema.ErrConflict)

	// 非法 schema 被拒绝
	bad := imagesSchema()
	bad.Shape = nil
	assert.ErrorIs(t, s.DefineColumn(bad), schema.ErrConflict)
}

func TestStage_DefineColumn_HistoricConflict(t *testing.T) {
	s := newTestStage(t)

	require.NoError(t, s.DefineColumn(imagesSchema()))
	require.NoError(t, s.Rebase("aaaa000000000000000000000000000000000000"))

	// drop 之后用不兼容的 schema 重建同名列: 基准提交里还记着旧 schema, 拒绝
	require.NoError(t, s.DropColumn("images"))
	changed := imagesSchema()
	changed.Shape = []int64{8}
	assert.ErrorIs(t, s.DefineColumn(changed), schema.ErrConflict)

	// 用原 schema 重建则允许
	require.NoError(t, s.DefineColumn(imagesSchema()))
}

func TestStage_SetGetRemove(t *testing.T) {
	s := newTestStage(t)
	ctx := context.Background()
	require.NoError(t, s.DefineColumn(imagesSchema()))

	sample := schema.ArraySample(schema.UInt8, []int64{4}, []byte{1, 2, 3, 4})
	digest, err := s.Set(ctx, "images", types.IntKey(0), sample)
	require.NoError(t, err)
	assert.True(t, digest.IsValid())

	got, err := s.Get(ctx, "images", types.IntKey(0))
	require.NoError(t, err)
	assert.Equal(t, sample.Data, got.Data)
	assert.Equal(t, sample.Shape, got.Shape)

	require.NoError(t, s.Remove("images", types.IntKey(0)))
	_, err = s.Get(ctx, "images", types.IntKey(0))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	err = s.Remove("images", types.IntKey(0))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStage_Set_ValidationBeforeStorage(t *testing.T) {
	s := newTestStage(t)
	ctx := context.Background()
	require.NoError(t, s.DefineColumn(imagesSchema()))

	// 形状不匹配: 校验失败, 没有任何东西被写入
	bad := schema.ArraySample(schema.UInt8, []int64{5}, []byte{1, 2, 3, 4, 5})
	_, err := s.Set(ctx, "images", types.IntKey(0), bad)
	assert.ErrorIs(t, err, schema.ErrViolation)

	dirty, err := s.Dirty()
	require.NoError(t, err)
	assert.True(t, dirty, "定义了列之后暂存区就是脏的")
	assert.Empty(t, s.Working().Columns["images"].Samples)

	_, err = s.Set(ctx, "missing", types.IntKey(0), bad)
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestStage_StrColumn(t *testing.T) {
	s := newTestStage(t)
	ctx := context.Background()
	require.NoError(t, s.DefineColumn(labelsSchema()))

	key, err := types.StrKey("img-0")
	require.NoError(t, err)

	_, err = s.Set(ctx, "labels", key, schema.StrSample("cat"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "labels", key)
	require.NoError(t, err)
	assert.Equal(t, "cat", got.Str())
}

func TestStage_PersistenceAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := meta.NewDB(ctx, meta.Config{Driver: "sqlite", Path: dir + "/meta.db"})
	require.NoError(t, err)
	defer db.Close()

	bulk, err := bulkdir.New(dir + "/data/10")
	require.NoError(t, err)
	store := cas.New(meta.NewRepository(db), map[types.BackendCode]backend.Backend{
		schema.BackendBulkDir: bulk,
	})

	s1, err := Load(dir+"/stage.json", store)
	require.NoError(t, err)
	require.NoError(t, s1.DefineColumn(imagesSchema()))
	_, err = s1.Set(ctx, "images", types.IntKey(7), schema.ArraySample(schema.UInt8, []int64{4}, []byte{9, 9, 9, 9}))
	require.NoError(t, err)

	// 重新加载: 未提交的变更原样恢复
	s2, err := Load(dir+"/stage.json", store)
	require.NoError(t, err)

	got, err := s2.Get(ctx, "images", types.IntKey(7))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, got.Data)

	dirty, err := s2.Dirty()
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestStage_CleanAndStatus(t *testing.T) {
	s := newTestStage(t)
	ctx := context.Background()
	require.NoError(t, s.DefineColumn(imagesSchema()))
	_, err := s.Set(ctx, "images", types.IntKey(0), schema.ArraySample(schema.UInt8, []int64{4}, []byte{1, 2, 3, 4}))
	require.NoError(t, err)

	status := s.Status()
	assert.Contains(t, status.AddedColumns, "images")
	assert.Len(t, status.Samples["images"].Added, 1)

	require.NoError(t, s.Clean())

	dirty, err := s.Dirty()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.True(t, s.Status().Empty())
}

func TestStage_DropColumn(t *testing.T) {
	s := newTestStage(t)
	ctx := context.Background()
	require.NoError(t, s.DefineColumn(imagesSchema()))
	_, err := s.Set(ctx, "images", types.IntKey(0), schema.ArraySample(schema.UInt8, []int64{4}, []byte{1, 2, 3, 4}))
	require.NoError(t, err)

	require.NoError(t, s.DropColumn("images"))
	assert.NotContains(t, s.Working().Columns, "images")

	assert.ErrorIs(t, s.DropColumn("images"), ErrColumnNotFound)
}

func TestStage_SetBatch(t *testing.T) {
	s := newTestStage(t)
	ctx := context.Background()
	require.NoError(t, s.DefineColumn(imagesSchema()))

	items := map[types.SampleKey]schema.Sample{}
	for i := 0; i < 32; i++ {
		items[types.IntKey(int64(i))] = schema.ArraySample(
			schema.UInt8, []int64{4}, []byte{byte(i), byte(i), byte(i), byte(i)})
	}
	// 混入一个坏样本
	items[types.IntKey(99)] = schema.ArraySample(schema.UInt8, []int64{3}, []byte{1, 2, 3})

	results, err := s.SetBatch(ctx, "images", items)
	require.NoError(t, err)
	require.Len(t, results, 33)

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			assert.Equal(t, types.IntKey(99), r.Key)
			assert.ErrorIs(t, r.Err, schema.ErrViolation)
		} else {
			assert.True(t, r.Digest.IsValid())
		}
	}
	assert.Equal(t, 1, failed)

	// 成功的保持生效
	working := s.Working()
	assert.Len(t, working.Columns["images"].Samples, 32)

	got, err := s.Get(ctx, "images", types.IntKey(5))
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 5, 5, 5}, got.Data)
}

func TestStage_SetBatch_UnknownColumn(t *testing.T) {
	s := newTestStage(t)
	_, err := s.SetBatch(context.Background(), "missing", map[types.SampleKey]schema.Sample{
		types.IntKey(0): schema.StrSample("x"),
	})
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

package manifest

import (
	"testing"

	"gridvault/pkg/codec"
	"gridvault/pkg/objstore"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(name string) schema.Schema {
	return schema.Schema{
		Name:    name,
		Layout:  schema.DefaultLayout,
		Kind:    schema.KindArray,
		Policy:  schema.PolicyFixed,
		DType:   schema.UInt8,
		Shape:   []int64{4},
		Backend: schema.BackendBulkDir,
	}
}

func sampleDigest(seed string) types.Digest {
	return codec.DigestBytes([]byte(seed))
}

func buildManifest(t *testing.T, samples map[types.SampleKey]string) *Manifest {
	t.Helper()
	m := New()
	col := ColumnManifest{
		Schema:  testSchema("images"),
		Samples: make(map[types.SampleKey]types.Digest),
	}
	for k, seed := range samples {
		col.Samples[k] = sampleDigest(seed)
	}
	m.Columns["images"] = col
	return m
}

func TestManifest_DigestDeterminism(t *testing.T) {
	a := buildManifest(t, map[types.SampleKey]string{
		types.IntKey(0): "s0",
		types.IntKey(1): "s1",
	})
	b := buildManifest(t, map[types.SampleKey]string{
		types.IntKey(1): "s1",
		types.IntKey(0): "s0",
	})

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db, "插入顺序不能影响清单摘要")

	eq, err := a.Equal(b)
	require.NoError(t, err)
	assert.True(t, eq)

	// 内容不同 -> 摘要不同
	c := buildManifest(t, map[types.SampleKey]string{types.IntKey(0): "other"})
	dc, err := c.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestManifest_CloneIsolation(t *testing.T) {
	a := buildManifest(t, map[types.SampleKey]string{types.IntKey(0): "s0"})
	b := a.Clone()

	b.Columns["images"].Samples[types.IntKey(9)] = sampleDigest("new")

	assert.Equal(t, 1, a.SampleCount())
	assert.Equal(t, 2, b.SampleCount())
}

func TestStore_SaveLoad_RootManifest(t *testing.T) {
	objects, err := objstore.New(t.TempDir())
	require.NoError(t, err)
	store := NewStore(objects)

	m := buildManifest(t, map[types.SampleKey]string{
		types.IntKey(0): "s0",
		types.IntKey(1): "s1",
	})

	digest, err := store.Save(m, nil, "")
	require.NoError(t, err)

	loaded, err := store.Load(digest)
	require.NoError(t, err)

	eq, err := loaded.Equal(m)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestStore_DeltaChain(t *testing.T) {
	objects, err := objstore.New(t.TempDir())
	require.NoError(t, err)
	store := NewStore(objects)

	// 根清单
	m1 := buildManifest(t, map[types.SampleKey]string{types.IntKey(0): "s0"})
	d1, err := store.Save(m1, nil, "")
	require.NoError(t, err)

	// 第二代: 改一个样本、加一个样本、加一个列
	m2 := m1.Clone()
	m2.Columns["images"].Samples[types.IntKey(0)] = sampleDigest("s0-v2")
	m2.Columns["images"].Samples[types.IntKey(1)] = sampleDigest("s1")
	m2.Columns["labels"] = ColumnManifest{
		Schema:  schema.Schema{Name: "labels", Layout: schema.DefaultLayout, Kind: schema.KindStr, Backend: schema.BackendStrKV},
		Samples: map[types.SampleKey]types.Digest{types.IntKey(0): sampleDigest("cat")},
	}
	d2, err := store.Save(m2, m1, d1)
	require.NoError(t, err)

	// 第三代: 删样本、删列
	m3 := m2.Clone()
	delete(m3.Columns["images"].Samples, types.IntKey(0))
	delete(m3.Columns, "labels")
	d3, err := store.Save(m3, m2, d2)
	require.NoError(t, err)

	// 回放整条链，逐代验证
	for _, tc := range []struct {
		digest types.Digest
		want   *Manifest
	}{
		{d1, m1}, {d2, m2}, {d3, m3},
	} {
		loaded, err := store.Load(tc.digest)
		require.NoError(t, err)
		eq, err := loaded.Equal(tc.want)
		require.NoError(t, err)
		assert.True(t, eq, "manifest %s 回放结果不一致", tc.digest)
	}
}

func TestStore_Load_Missing(t *testing.T) {
	objects, err := objstore.New(t.TempDir())
	require.NoError(t, err)
	store := NewStore(objects)

	_, err = store.Load(sampleDigest("nonexistent"))
	assert.Error(t, err)
}

func TestManifest_DigestsIteration(t *testing.T) {
	m := buildManifest(t, map[types.SampleKey]string{
		types.IntKey(0): "s0",
		types.IntKey(1): "s1",
	})

	seen := map[types.Digest]bool{}
	m.Digests(func(d types.Digest) { seen[d] = true })
	assert.Len(t, seen, 2)
	assert.True(t, seen[sampleDigest("s0")])
}

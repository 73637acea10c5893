package schema

import (
	"testing"

	"gridvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSchema() Schema {
	return Schema{
		Name:    "images",
		Layout:  DefaultLayout,
		Kind:    KindArray,
		Policy:  PolicyFixed,
		DType:   UInt8,
		Shape:   []int64{2, 3},
		Backend: BackendBulkDir,
	}
}

func variableSchema() Schema {
	s := fixedSchema()
	s.Name = "captions_embedding"
	s.Policy = PolicyVariable
	s.DType = Float32
	s.Shape = []int64{4, 8}
	return s
}

func TestSchema_Check(t *testing.T) {
	require.NoError(t, fixedSchema().Check())

	bad := fixedSchema()
	bad.DType = "complex128"
	assert.ErrorIs(t, bad.Check(), ErrConflict)

	bad = fixedSchema()
	bad.Shape = []int64{0, 3}
	assert.ErrorIs(t, bad.Check(), ErrConflict)

	bad = fixedSchema()
	bad.Backend = "7"
	assert.ErrorIs(t, bad.Check(), ErrConflict)

	str := Schema{Name: "labels", Layout: DefaultLayout, Kind: KindStr, Backend: BackendStrKV}
	require.NoError(t, str.Check())

	str.Shape = []int64{3}
	assert.ErrorIs(t, str.Check(), ErrConflict)
}

func TestValidate_FixedShape(t *testing.T) {
	sch := fixedSchema()

	ok := ArraySample(UInt8, []int64{2, 3}, make([]byte, 6))
	require.NoError(t, Validate(sch, ok))

	// 形状超出固定声明 -> SchemaViolation
	tooBig := ArraySample(UInt8, []int64{2, 4}, make([]byte, 8))
	assert.ErrorIs(t, Validate(sch, tooBig), ErrViolation)

	// 秩不匹配
	wrongRank := ArraySample(UInt8, []int64{6}, make([]byte, 6))
	assert.ErrorIs(t, Validate(sch, wrongRank), ErrViolation)

	// dtype 不匹配
	wrongDType := ArraySample(Int32, []int64{2, 3}, make([]byte, 24))
	assert.ErrorIs(t, Validate(sch, wrongDType), ErrViolation)

	// 字节数与形状不符
	short := ArraySample(UInt8, []int64{2, 3}, make([]byte, 5))
	assert.ErrorIs(t, Validate(sch, short), ErrViolation)
}

func TestValidate_VariableShape(t *testing.T) {
	sch := variableSchema()

	// 每一维 <= 上界即可
	ok := ArraySample(Float32, []int64{3, 8}, make([]byte, 3*8*4))
	require.NoError(t, Validate(sch, ok))

	// 任何一维超界都拒绝
	over := ArraySample(Float32, []int64{4, 9}, make([]byte, 4*9*4))
	assert.ErrorIs(t, Validate(sch, over), ErrViolation)

	// 秩必须一致
	flat := ArraySample(Float32, []int64{8}, make([]byte, 8*4))
	assert.ErrorIs(t, Validate(sch, flat), ErrViolation)
}

func TestValidate_Str(t *testing.T) {
	sch := Schema{Name: "labels", Layout: DefaultLayout, Kind: KindStr, Backend: BackendStrKV}

	require.NoError(t, Validate(sch, StrSample("猫")))

	// 非法 UTF-8
	assert.ErrorIs(t, Validate(sch, Sample{Kind: KindStr, Data: []byte{0xff, 0xfe}}), ErrViolation)

	// kind 不匹配
	arr := ArraySample(UInt8, []int64{1}, []byte{0})
	assert.ErrorIs(t, Validate(sch, arr), ErrViolation)
}

func TestSample_EncodeDigest(t *testing.T) {
	a := ArraySample(UInt8, []int64{2}, []byte{1, 2})
	b := ArraySample(UInt8, []int64{2}, []byte{1, 2})

	da, rawA, err := a.Encode()
	require.NoError(t, err)
	db, _, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, da, db, "相同样本必须产生相同摘要")

	// 相同字节、不同形状 -> 不同摘要 (形状参与信封编码)
	c := ArraySample(UInt8, []int64{1, 2}, []byte{1, 2})
	dc, _, err := c.Encode()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)

	back, err := DecodeSample(rawA)
	require.NoError(t, err)
	assert.Equal(t, a, back)
}

func TestBackendHeuristics(t *testing.T) {
	assert.Equal(t, BackendStrKV, BackendFromHeuristics(StrSample("x"), false))

	small := ArraySample(Float32, []int64{10}, make([]byte, 40))
	assert.Equal(t, BackendBulkDir, BackendFromHeuristics(small, false))

	big := ArraySample(Float32, []int64{512, 512}, nil)
	assert.Equal(t, BackendZBlob, BackendFromHeuristics(big, false))

	// 变形数组即便很小也进压缩容器, 不走平铺文件
	assert.Equal(t, BackendZBlob, BackendFromHeuristics(small, true))

	assert.True(t, KnownBackend(BackendS3))
	assert.False(t, KnownBackend(types.BackendCode("99")))
}

func TestSchema_Equal(t *testing.T) {
	a := fixedSchema()
	b := fixedSchema()
	assert.True(t, a.Equal(b))

	b.Shape = []int64{2, 4}
	assert.False(t, a.Equal(b))

	c := fixedSchema()
	c.BackendOpts = map[string]string{"complib": "zstd"}
	assert.False(t, a.Equal(c))
}

package checkout

import (
	"context"
	"fmt"

	"gridvault/pkg/cas"
	"gridvault/pkg/manifest"
	"gridvault/pkg/schema"
	"gridvault/pkg/stage"
	"gridvault/pkg/types"
)

// ReadHandle 是钉在单个提交上的只读视图
// 打开之后看到的内容永远不变，和并发写者、GC 互不干扰。
// 读会话数量不限，也不需要 Close。
type ReadHandle struct {
	commit   types.Digest
	manifest *manifest.Manifest
	cas      *cas.Store
}

// Commit 返回会话钉住的提交摘要
func (r *ReadHandle) Commit() types.Digest { return r.commit }

// Tagged 返回提交的外部渲染形式
func (r *ReadHandle) Tagged() string { return types.Tagged(types.TagCommit, r.commit) }

// Columns 返回排序后的列名
func (r *ReadHandle) Columns() []string { return r.manifest.ColumnNames() }

// Schema 返回某列的 schema
func (r *ReadHandle) Schema(column string) (schema.Schema, error) {
	col, ok := r.manifest.Column(column)
	if !ok {
		return schema.Schema{}, fmt.Errorf("%w: %q", stage.ErrColumnNotFound, column)
	}
	return col.Schema, nil
}

// Keys 返回某列的全部样本键
func (r *ReadHandle) Keys(column string) ([]types.SampleKey, error) {
	col, ok := r.manifest.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", stage.ErrColumnNotFound, column)
	}
	keys := make([]types.SampleKey, 0, len(col.Samples))
	for k := range col.Samples {
		keys = append(keys, k)
	}
	return keys, nil
}

// Get 读回一个样本
func (r *ReadHandle) Get(ctx context.Context, column string, key types.SampleKey) (schema.Sample, error) {
	col, ok := r.manifest.Column(column)
	if !ok {
		return schema.Sample{}, fmt.Errorf("%w: %q", stage.ErrColumnNotFound, column)
	}
	digest, ok := col.Samples[key]
	if !ok {
		return schema.Sample{}, fmt.Errorf("%w: %s/%s", stage.ErrKeyNotFound, column, key)
	}

	raw, err := r.cas.Get(ctx, digest)
	if err != nil {
		return schema.Sample{}, err
	}
	return schema.DecodeSample(raw)
}

// Manifest 返回清单快照
func (r *ReadHandle) Manifest() *manifest.Manifest { return r.manifest.Clone() }

// Package diff 计算清单之间的结构化差异与三路合并。
// 全部是对不可变清单的纯函数：不碰存储，不产生副作用，
// 冲突是数据不是错误。
package diff

import (
	"sort"

	"gridvault/pkg/manifest"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"
)

// DigestPair 一个样本在新旧两侧的摘要
type DigestPair struct {
	Old types.Digest
	New types.Digest
}

// SchemaPair 一个列在新旧两侧的 schema
type SchemaPair struct {
	Old schema.Schema
	New schema.Schema
}

// KeyChanges 单个列内的样本级差异
type KeyChanges struct {
	Added   map[types.SampleKey]types.Digest
	Removed map[types.SampleKey]types.Digest
	Changed map[types.SampleKey]DigestPair
}

func (k KeyChanges) Empty() bool {
	return len(k.Added) == 0 && len(k.Removed) == 0 && len(k.Changed) == 0
}

// Result 是 new 相对 old 的完整差异
type Result struct {
	AddedColumns   map[string]schema.Schema
	RemovedColumns map[string]schema.Schema
	SchemaChanged  map[string]SchemaPair

	// Samples 按列组织；新增列的全部样本记为 Added，
	// 删除列的全部样本记为 Removed。
	Samples map[string]KeyChanges
}

// Empty 判断两个清单是否内容相同
func (r Result) Empty() bool {
	if len(r.AddedColumns) != 0 || len(r.RemovedColumns) != 0 || len(r.SchemaChanged) != 0 {
		return false
	}
	for _, kc := range r.Samples {
		if !kc.Empty() {
			return false
		}
	}
	return true
}

// Columns 返回差异涉及的列名 (排序后)
func (r Result) Columns() []string {
	seen := map[string]bool{}
	for name := range r.AddedColumns {
		seen[name] = true
	}
	for name := range r.RemovedColumns {
		seen[name] = true
	}
	for name := range r.SchemaChanged {
		seen[name] = true
	}
	for name, kc := range r.Samples {
		if !kc.Empty() {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Diff 计算 new 相对 old 的差异
// 样本比较只看摘要：摘要相等即内容相等，不需要取回字节。
func Diff(old, new *manifest.Manifest) Result {
	r := Result{
		AddedColumns:   map[string]schema.Schema{},
		RemovedColumns: map[string]schema.Schema{},
		SchemaChanged:  map[string]SchemaPair{},
		Samples:        map[string]KeyChanges{},
	}

	for name, oldCol := range old.Columns {
		newCol, ok := new.Columns[name]
		if !ok {
			r.RemovedColumns[name] = oldCol.Schema
			kc := newKeyChanges()
			for key, d := range oldCol.Samples {
				kc.Removed[key] = d
			}
			r.Samples[name] = kc
			continue
		}

		if !oldCol.Schema.Equal(newCol.Schema) {
			r.SchemaChanged[name] = SchemaPair{Old: oldCol.Schema, New: newCol.Schema}
		}

		kc := newKeyChanges()
		for key, oldDigest := range oldCol.Samples {
			newDigest, ok := newCol.Samples[key]
			switch {
			case !ok:
				kc.Removed[key] = oldDigest
			case newDigest != oldDigest:
				kc.Changed[key] = DigestPair{Old: oldDigest, New: newDigest}
			}
		}
		for key, newDigest := range newCol.Samples {
			if _, ok := oldCol.Samples[key]; !ok {
				kc.Added[key] = newDigest
			}
		}
		if !kc.Empty() {
			r.Samples[name] = kc
		}
	}

	for name, newCol := range new.Columns {
		if _, ok := old.Columns[name]; ok {
			continue
		}
		r.AddedColumns[name] = newCol.Schema
		kc := newKeyChanges()
		for key, d := range newCol.Samples {
			kc.Added[key] = d
		}
		r.Samples[name] = kc
	}

	return r
}

func newKeyChanges() KeyChanges {
	return KeyChanges{
		Added:   map[types.SampleKey]types.Digest{},
		Removed: map[types.SampleKey]types.Digest{},
		Changed: map[types.SampleKey]DigestPair{},
	}
}

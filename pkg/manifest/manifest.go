// Package manifest 定义列/样本清单：提交的不可变快照结构。
//
// 清单在内存里是普通的嵌套 map；持久化时不做深拷贝，而是相对父清单
// 存一个结构共享的增量对象 (delta + parent link)，按需回放父链重建
// 完整清单 —— 提交创建的开销正比于改动量，而不是整个数据集。
package manifest

import (
	"maps"
	"sort"

	"gridvault/pkg/codec"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"
)

// ColumnManifest 是单个列在某一时刻的完整状态
type ColumnManifest struct {
	Schema  schema.Schema                   `cbor:"s"`
	Samples map[types.SampleKey]types.Digest `cbor:"m"`
}

// Clone 深拷贝 (schema 是值类型，只有 Samples 需要复制)
func (c ColumnManifest) Clone() ColumnManifest {
	out := ColumnManifest{
		Schema:  c.Schema,
		Samples: make(map[types.SampleKey]types.Digest, len(c.Samples)),
	}
	maps.Copy(out.Samples, c.Samples)
	return out
}

// Manifest 是某一时刻仓库全部列的快照
// 提交持有的清单是只读的；唯一可变的清单在暂存区。
type Manifest struct {
	Columns map[string]ColumnManifest
}

// New 创建空清单
func New() *Manifest {
	return &Manifest{Columns: make(map[string]ColumnManifest)}
}

// Clone 深拷贝整个清单
func (m *Manifest) Clone() *Manifest {
	out := &Manifest{Columns: make(map[string]ColumnManifest, len(m.Columns))}
	for name, col := range m.Columns {
		out.Columns[name] = col.Clone()
	}
	return out
}

// Column 返回指定列，second 返回值表示是否存在
func (m *Manifest) Column(name string) (ColumnManifest, bool) {
	c, ok := m.Columns[name]
	return c, ok
}

// ColumnNames 返回排序后的列名 (遍历顺序确定)
func (m *Manifest) ColumnNames() []string {
	names := make([]string, 0, len(m.Columns))
	for name := range m.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleCount 返回全部列的样本总数
func (m *Manifest) SampleCount() int {
	n := 0
	for _, col := range m.Columns {
		n += len(col.Samples)
	}
	return n
}

// Digests 遍历清单引用的全部内容摘要 (GC 的 mark 输入)
func (m *Manifest) Digests(fn func(types.Digest)) {
	for _, col := range m.Columns {
		for _, d := range col.Samples {
			fn(d)
		}
	}
}

// canonical 是参与摘要计算的规范化形式
// TypeVal 防止清单和其它对象种类的编码产生碰撞。
type canonical struct {
	TypeVal string                     `cbor:"t"`
	Columns map[string]ColumnManifest  `cbor:"c"`
}

const typeManifest = "manifest"

// Digest 计算清单的内容摘要
// 两个清单相等当且仅当摘要相等 (规范化编码排序了所有 map key)。
func (m *Manifest) Digest() (types.Digest, error) {
	d, _, err := codec.HashObject(canonical{TypeVal: typeManifest, Columns: m.Columns})
	return d, err
}

// Equal 通过摘要比较两个清单
func (m *Manifest) Equal(other *Manifest) (bool, error) {
	a, err := m.Digest()
	if err != nil {
		return false, err
	}
	b, err := other.Digest()
	if err != nil {
		return false, err
	}
	return a == b, nil
}

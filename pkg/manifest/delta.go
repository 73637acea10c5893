package manifest

import (
	"fmt"
	"sort"

	"gridvault/pkg/codec"
	"gridvault/pkg/objstore"
	"gridvault/pkg/types"

	"gridvault/pkg/schema"
)

// deltaObject 是清单的持久化形式：相对父清单的结构共享增量。
// 对象库里以子清单的摘要为 key 存储；Parent 指向父清单摘要。
type deltaObject struct {
	TypeVal     string                                       `cbor:"t"`
	Parent      *codec.Link                                  `cbor:"p,omitempty"`
	SetColumns  map[string]schema.Schema                     `cbor:"sc,omitempty"` // 新增或重定义的列 schema
	DropColumns []string                                     `cbor:"dc,omitempty"`
	SetSamples  map[string]map[types.SampleKey]types.Digest  `cbor:"ss,omitempty"`
	DropSamples map[string][]types.SampleKey                 `cbor:"ds,omitempty"`
}

const typeDelta = "mdelta"

// computeDelta 计算 child 相对 base 的增量
// base 为 nil 表示根清单 (相对空清单)。
func computeDelta(base, child *Manifest, parentDigest types.Digest) deltaObject {
	d := deltaObject{TypeVal: typeDelta}
	if !parentDigest.IsZero() {
		link := codec.NewLink(parentDigest)
		d.Parent = &link
	}

	baseCols := map[string]ColumnManifest{}
	if base != nil {
		baseCols = base.Columns
	}

	// 删除的列
	for name := range baseCols {
		if _, ok := child.Columns[name]; !ok {
			d.DropColumns = append(d.DropColumns, name)
		}
	}
	sort.Strings(d.DropColumns)

	for name, col := range child.Columns {
		baseCol, existed := baseCols[name]

		// 新列或 schema 变化
		if !existed || !col.Schema.Equal(baseCol.Schema) {
			if d.SetColumns == nil {
				d.SetColumns = make(map[string]schema.Schema)
			}
			d.SetColumns[name] = col.Schema
		}

		// 样本级增量
		var set map[types.SampleKey]types.Digest
		var dropped []types.SampleKey

		for key, digest := range col.Samples {
			if !existed || baseCol.Samples[key] != digest {
				if set == nil {
					set = make(map[types.SampleKey]types.Digest)
				}
				set[key] = digest
			}
		}
		if existed {
			for key := range baseCol.Samples {
				if _, ok := col.Samples[key]; !ok {
					dropped = append(dropped, key)
				}
			}
		}

		if set != nil {
			if d.SetSamples == nil {
				d.SetSamples = make(map[string]map[types.SampleKey]types.Digest)
			}
			d.SetSamples[name] = set
		}
		if len(dropped) > 0 {
			sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
			if d.DropSamples == nil {
				d.DropSamples = make(map[string][]types.SampleKey)
			}
			d.DropSamples[name] = dropped
		}
	}
	return d
}

// apply 把增量应用到 base 之上 (base 被原地修改)
func apply(base *Manifest, d deltaObject) *Manifest {
	for _, name := range d.DropColumns {
		delete(base.Columns, name)
	}
	for name, sch := range d.SetColumns {
		col, ok := base.Columns[name]
		if !ok {
			col = ColumnManifest{Samples: make(map[types.SampleKey]types.Digest)}
		}
		col.Schema = sch
		base.Columns[name] = col
	}
	for name, set := range d.SetSamples {
		col, ok := base.Columns[name]
		if !ok {
			// 防御：delta 自洽时不会走到这里
			col = ColumnManifest{Samples: make(map[types.SampleKey]types.Digest)}
		}
		for key, digest := range set {
			col.Samples[key] = digest
		}
		base.Columns[name] = col
	}
	for name, dropped := range d.DropSamples {
		col, ok := base.Columns[name]
		if !ok {
			continue
		}
		for _, key := range dropped {
			delete(col.Samples, key)
		}
		base.Columns[name] = col
	}
	return base
}

// Store 负责清单的持久化与重建
type Store struct {
	objects *objstore.Store
}

func NewStore(objects *objstore.Store) *Store {
	return &Store{objects: objects}
}

// Save 持久化 child 清单，返回其摘要
// base/parentDigest 是 child 的父清单 (根清单传 nil / 零值)。
func (s *Store) Save(child *Manifest, base *Manifest, parentDigest types.Digest) (types.Digest, error) {
	digest, err := child.Digest()
	if err != nil {
		return "", err
	}

	// 内容寻址：同摘要已存在就不用再写
	if ok, err := s.objects.Has(digest); err != nil {
		return "", err
	} else if ok {
		return digest, nil
	}

	delta := computeDelta(base, child, parentDigest)
	raw, err := codec.Marshal(delta)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest delta: %w", err)
	}
	if err := s.objects.Put(digest, raw); err != nil {
		return "", fmt.Errorf("failed to store manifest delta: %w", err)
	}
	return digest, nil
}

// Load 按摘要重建完整清单 (回放父链)
func (s *Store) Load(digest types.Digest) (*Manifest, error) {
	// 1. 收集从 child 到根的增量链
	var chain []deltaObject
	cursor := digest
	for !cursor.IsZero() {
		raw, err := s.objects.Get(cursor)
		if err != nil {
			return nil, fmt.Errorf("manifest %s unreadable: %w", cursor, err)
		}
		var d deltaObject
		if err := codec.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("manifest %s corrupted: %w", cursor, err)
		}
		if d.TypeVal != typeDelta {
			return nil, fmt.Errorf("object %s is not a manifest delta (type %q)", cursor, d.TypeVal)
		}
		chain = append(chain, d)
		if d.Parent == nil {
			break
		}
		cursor = d.Parent.Digest
	}

	// 2. 从根开始正向回放
	m := New()
	for i := len(chain) - 1; i >= 0; i-- {
		m = apply(m, chain[i])
	}

	// 3. 重建结果必须匹配请求的摘要 (完整性校验)
	got, err := m.Digest()
	if err != nil {
		return nil, err
	}
	if got != digest {
		return nil, fmt.Errorf("manifest %s failed digest re-verification (got %s)", digest, got)
	}
	return m, nil
}

// Has 检查清单对象是否存在
func (s *Store) Has(digest types.Digest) (bool, error) {
	return s.objects.Has(digest)
}

package diff

import (
	"errors"
	"fmt"
	"maps"
	"sort"

	"gridvault/pkg/manifest"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"
)

// ConflictKind 区分冲突的层级
type ConflictKind int

const (
	// ConflictSchema 两侧对同一列做了不同的 schema 变更 (或一侧删列一侧改列)
	ConflictSchema ConflictKind = iota
	// ConflictSample 两侧对同一个键做了不同的变更
	ConflictSample
)

func (k ConflictKind) String() string {
	if k == ConflictSchema {
		return "schema"
	}
	return "sample"
}

// Conflict 描述一个需要人工裁决的分歧点
// Ours/Theirs 零值表示"该侧删除了它"。
type Conflict struct {
	Kind   ConflictKind
	Column string

	// 键级冲突
	Key    types.SampleKey
	Ours   types.Digest
	Theirs types.Digest

	// schema 级冲突
	OursSchema   *schema.Schema
	TheirsSchema *schema.Schema

	// schema 级冲突挂起的键级合并结果: Samples 是键级三路合并中
	// 已定的部分, SampleConflicts 是被压制的键级分歧 —— 两者都在
	// schema 裁决落定后由 Apply 恢复/裁决。
	Samples         map[types.SampleKey]types.Digest
	SampleConflicts ConflictSet
}

// ConflictSet 合并产生的全部冲突；空集表示合并干净
type ConflictSet []Conflict

func (cs ConflictSet) HasConflicts() bool { return len(cs) > 0 }

// Columns 返回有冲突的列名 (排序后)
func (cs ConflictSet) Columns() []string {
	seen := map[string]bool{}
	for _, c := range cs {
		seen[c.Column] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Merge3 对三个清单做三路合并
//
// 列级规则:
//   - 只有一侧改动 (含增删列、改 schema) -> 采纳改动侧
//   - 两侧做了相同改动 -> 采纳，不算冲突
//   - 两侧分歧 (不同 schema / 一侧删一侧改) -> schema 冲突；
//     该列的键级合并照常进行, 但结果和键级分歧都挂在冲突上压制,
//     等 schema 裁决落定后再由 Apply 恢复 —— 样本不会因此丢失
//
// 键级规则 (列已定):
//   - 两侧摘要相同 -> 采纳
//   - 一侧等于 base -> 采纳另一侧 (含删除)
//   - 其余 (双改分歧 / 双增分歧 / 一删一改) -> 样本冲突
//
// 有冲突时返回的清单只包含已定部分，不能直接提交。
func Merge3(base, ours, theirs *manifest.Manifest) (*manifest.Manifest, ConflictSet) {
	merged := manifest.New()
	var conflicts ConflictSet

	names := map[string]bool{}
	for name := range ours.Columns {
		names[name] = true
	}
	for name := range theirs.Columns {
		names[name] = true
	}
	for name := range base.Columns {
		names[name] = true
	}

	for name := range names {
		baseCol, inBase := base.Columns[name]
		oursCol, inOurs := ours.Columns[name]
		theirsCol, inTheirs := theirs.Columns[name]

		sch, dropped, conflict := mergeColumnSchema(name, baseCol, inBase, oursCol, inOurs, theirsCol, inTheirs)
		if conflict != nil {
			// 键级合并照常做, 结果挂起; 一侧删列时只有幸存侧有样本,
			// 三路规则会把"删除侧缺席"误判成逐键删除, 所以直接采纳幸存侧。
			pending := manifest.ColumnManifest{Samples: map[types.SampleKey]types.Digest{}}
			switch {
			case inOurs && inTheirs:
				conflict.SampleConflicts = mergeSamples(name, &pending,
					colSamples(baseCol, inBase), oursCol.Samples, theirsCol.Samples)
				sortConflicts(conflict.SampleConflicts)
			case inOurs:
				maps.Copy(pending.Samples, oursCol.Samples)
			case inTheirs:
				maps.Copy(pending.Samples, theirsCol.Samples)
			}
			conflict.Samples = pending.Samples
			conflicts = append(conflicts, *conflict)
			continue
		}
		if dropped {
			continue
		}

		col := manifest.ColumnManifest{
			Schema:  sch,
			Samples: map[types.SampleKey]types.Digest{},
		}
		sampleConflicts := mergeSamples(name, &col,
			colSamples(baseCol, inBase), colSamples(oursCol, inOurs), colSamples(theirsCol, inTheirs))
		conflicts = append(conflicts, sampleConflicts...)
		merged.Columns[name] = col
	}

	sortConflicts(conflicts)
	return merged, conflicts
}

func sortConflicts(cs ConflictSet) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Column != cs[j].Column {
			return cs[i].Column < cs[j].Column
		}
		return cs[i].Key < cs[j].Key
	})
}

func colSamples(col manifest.ColumnManifest, present bool) map[types.SampleKey]types.Digest {
	if !present {
		return nil
	}
	return col.Samples
}

// mergeColumnSchema 裁决单个列的存在性与 schema
// 返回 (采纳的 schema, 列被删除, 冲突)
func mergeColumnSchema(
	name string,
	baseCol manifest.ColumnManifest, inBase bool,
	oursCol manifest.ColumnManifest, inOurs bool,
	theirsCol manifest.ColumnManifest, inTheirs bool,
) (schema.Schema, bool, *Conflict) {
	switch {
	case inOurs && inTheirs:
		if oursCol.Schema.Equal(theirsCol.Schema) {
			return oursCol.Schema, false, nil
		}
		// 一侧没动，采纳动了的那侧
		if inBase && oursCol.Schema.Equal(baseCol.Schema) {
			return theirsCol.Schema, false, nil
		}
		if inBase && theirsCol.Schema.Equal(baseCol.Schema) {
			return oursCol.Schema, false, nil
		}
		// 双增分歧或双改分歧
		o, t := oursCol.Schema, theirsCol.Schema
		return schema.Schema{}, false, &Conflict{
			Kind: ConflictSchema, Column: name, OursSchema: &o, TheirsSchema: &t,
		}

	case inOurs: // theirs 侧没有
		if !inBase {
			return oursCol.Schema, false, nil // 我们新增的列
		}
		// theirs 删了列；我们这侧有改动就是冲突
		if oursCol.Schema.Equal(baseCol.Schema) && samplesEqual(oursCol.Samples, baseCol.Samples) {
			return schema.Schema{}, true, nil
		}
		o := oursCol.Schema
		return schema.Schema{}, false, &Conflict{Kind: ConflictSchema, Column: name, OursSchema: &o}

	case inTheirs: // ours 侧没有
		if !inBase {
			return theirsCol.Schema, false, nil
		}
		if theirsCol.Schema.Equal(baseCol.Schema) && samplesEqual(theirsCol.Samples, baseCol.Samples) {
			return schema.Schema{}, true, nil
		}
		t := theirsCol.Schema
		return schema.Schema{}, false, &Conflict{Kind: ConflictSchema, Column: name, TheirsSchema: &t}

	default: // 两侧都删了
		return schema.Schema{}, true, nil
	}
}

func samplesEqual(a, b map[types.SampleKey]types.Digest) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// mergeSamples 对单个列做键级三路合并，结果写入 col
func mergeSamples(
	name string,
	col *manifest.ColumnManifest,
	base, ours, theirs map[types.SampleKey]types.Digest,
) ConflictSet {
	var conflicts ConflictSet

	keys := map[types.SampleKey]bool{}
	for k := range base {
		keys[k] = true
	}
	for k := range ours {
		keys[k] = true
	}
	for k := range theirs {
		keys[k] = true
	}

	for key := range keys {
		b := base[key] // 缺席时为零值
		o := ours[key]
		t := theirs[key]

		switch {
		case o == t:
			if !o.IsZero() {
				col.Samples[key] = o
			}
		case o == b:
			if !t.IsZero() {
				col.Samples[key] = t
			}
		case t == b:
			if !o.IsZero() {
				col.Samples[key] = o
			}
		default:
			conflicts = append(conflicts, Conflict{
				Kind: ConflictSample, Column: name, Key: key, Ours: o, Theirs: t,
			})
		}
	}
	return conflicts
}

// Resolution 是对一个冲突的人工裁决
type Resolution struct {
	Column string
	// Key 零值表示这是 schema 级裁决
	Key types.SampleKey

	// 键级: 选定的样本摘要，零值表示删除该键
	Digest types.Digest
	// schema 级: 选定的 schema；nil 表示删除该列
	Schema *schema.Schema
}

var ErrUnresolved = errors.New("merge conflicts remain unresolved")

// Apply 把裁决应用到 Merge3 的结果上
// 每个冲突都必须有对应裁决，否则返回 ErrUnresolved；schema 冲突
// 压制的键级分歧也要在同一批裁决里给出。
func Apply(merged *manifest.Manifest, conflicts ConflictSet, resolutions []Resolution) (*manifest.Manifest, error) {
	type slot struct {
		column string
		key    types.SampleKey
	}
	index := map[slot]Resolution{}
	for _, r := range resolutions {
		index[slot{r.Column, r.Key}] = r
	}

	out := merged.Clone()
	for _, c := range conflicts {
		r, ok := index[slot{c.Column, c.Key}]
		if !ok {
			return nil, fmt.Errorf("%w: %s conflict in column %q key %q",
				ErrUnresolved, c.Kind, c.Column, c.Key)
		}

		if c.Kind == ConflictSchema {
			if r.Schema == nil {
				delete(out.Columns, c.Column)
				continue
			}
			// schema 定了, 恢复被压制的键级合并结果
			col := manifest.ColumnManifest{
				Schema:  *r.Schema,
				Samples: make(map[types.SampleKey]types.Digest, len(c.Samples)),
			}
			maps.Copy(col.Samples, c.Samples)

			// 压制的键级分歧必须在同一批裁决里一并落定
			for _, sc := range c.SampleConflicts {
				sr, ok := index[slot{sc.Column, sc.Key}]
				if !ok {
					return nil, fmt.Errorf("%w: %s conflict in column %q key %q",
						ErrUnresolved, sc.Kind, sc.Column, sc.Key)
				}
				if sr.Digest.IsZero() {
					delete(col.Samples, sc.Key)
				} else {
					col.Samples[sc.Key] = sr.Digest
				}
			}
			out.Columns[c.Column] = col
			continue
		}

		col, ok := out.Columns[c.Column]
		if !ok {
			return nil, fmt.Errorf("resolution targets unknown column %q", c.Column)
		}
		if r.Digest.IsZero() {
			delete(col.Samples, c.Key)
		} else {
			col.Samples[c.Key] = r.Digest
		}
		out.Columns[c.Column] = col
	}
	return out, nil
}

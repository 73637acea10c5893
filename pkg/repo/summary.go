package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gridvault/pkg/backend"
	"gridvault/pkg/refs"
	"gridvault/pkg/types"

	"github.com/docker/go-units"
)

// ColumnSummary 是单个列的概览
type ColumnSummary struct {
	Key         types.SchemaKey
	Kind        string
	DType       string
	Shape       []int64
	Backend     types.BackendCode
	SampleCount int
}

// Summary 是仓库的概览视图 (gv summary)
type Summary struct {
	Branch    string       // HEAD 附着的分支; detached 时为空
	Commit    types.Digest // HEAD 提交
	Message   string
	Author    string
	Timestamp int64 // 提交时间 (unix 秒)

	Branches int
	Columns  []ColumnSummary

	// LogicalBytes 是全部内容记录的逻辑字节总量 (去重后)
	LogicalBytes int64
	// StoredBytes 按后端统计的物理占用；不支持统计的后端不出现
	StoredBytes map[types.BackendCode]int64
	// Dirty 表示暂存区有未提交变更
	Dirty bool
}

// Summarize 汇总仓库当前状态
func (r *Repo) Summarize(ctx context.Context) (Summary, error) {
	var s Summary

	head, err := r.Refs.Head(ctx)
	if err != nil && !errors.Is(err, refs.ErrNoHead) {
		return s, err
	}
	s.Branch = head.Branch
	s.Commit = head.Commit

	if !head.Commit.IsZero() {
		c, err := r.Graph.Get(ctx, head.Commit)
		if err != nil {
			return s, err
		}
		s.Message = c.Message
		s.Author = c.Author
		s.Timestamp = c.Timestamp

		mf, err := r.Manifests.Load(c.ManifestDigest())
		if err != nil {
			return s, err
		}
		for _, name := range mf.ColumnNames() {
			col := mf.Columns[name]
			s.Columns = append(s.Columns, ColumnSummary{
				Key:         col.Schema.Key(),
				Kind:        string(col.Schema.Kind),
				DType:       string(col.Schema.DType),
				Shape:       col.Schema.Shape,
				Backend:     col.Schema.Backend,
				SampleCount: len(col.Samples),
			})
		}
	}

	branches, err := r.Refs.ListBranches(ctx)
	if err != nil {
		return s, err
	}
	s.Branches = len(branches)

	s.LogicalBytes, err = r.Meta.SumContentBytes(ctx)
	if err != nil {
		return s, err
	}

	s.StoredBytes = map[types.BackendCode]int64{}
	for code, be := range r.backends {
		u, ok := be.(backend.Usage)
		if !ok {
			continue
		}
		n, err := u.StoredBytes(ctx)
		if err != nil {
			r.Logger.Warn("backend usage unavailable", "backend", code, "err", err)
			continue
		}
		s.StoredBytes[code] = n
	}

	s.Dirty, err = r.Stage.Dirty()
	if err != nil {
		return s, err
	}
	return s, nil
}

// Render 把概览格式化成人类可读的多行文本
func (s Summary) Render() string {
	var b strings.Builder

	if s.Commit.IsZero() {
		b.WriteString("empty repository (no commits yet)\n")
	} else {
		if s.Branch != "" {
			fmt.Fprintf(&b, "on branch %s at %s\n", s.Branch, types.Tagged(types.TagCommit, s.Commit))
		} else {
			fmt.Fprintf(&b, "detached at %s\n", types.Tagged(types.TagCommit, s.Commit))
		}
		fmt.Fprintf(&b, "last commit: %q by %s on %s\n", s.Message, s.Author,
			time.Unix(s.Timestamp, 0).Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "branches: %d\n", s.Branches)
	if s.Dirty {
		b.WriteString("staging area: dirty (uncommitted changes)\n")
	} else {
		b.WriteString("staging area: clean\n")
	}

	fmt.Fprintf(&b, "logical data: %s (deduplicated)\n", units.BytesSize(float64(s.LogicalBytes)))

	codes := make([]string, 0, len(s.StoredBytes))
	for code := range s.StoredBytes {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(&b, "backend %s: %s on disk\n", code,
			units.BytesSize(float64(s.StoredBytes[types.BackendCode(code)])))
	}

	if len(s.Columns) > 0 {
		b.WriteString("columns:\n")
		for _, col := range s.Columns {
			if col.Kind == "str" {
				fmt.Fprintf(&b, "  %-24s str       backend=%s samples=%d\n",
					col.Key.Column, col.Backend, col.SampleCount)
			} else {
				fmt.Fprintf(&b, "  %-24s %-9s %v backend=%s samples=%d\n",
					col.Key.Column, col.DType, col.Shape, col.Backend, col.SampleCount)
			}
		}
	}
	return b.String()
}

package commitgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gridvault/pkg/manifest"
	"gridvault/pkg/meta"
	"gridvault/pkg/objstore"
	"gridvault/pkg/types"
)

var (
	ErrNotFound = errors.New("commit not found")
	// ErrDanglingRef 导入的提交引用了本地不存在的对象
	ErrDanglingRef = errors.New("commit references missing object")
)

// Graph 聚合提交的三个落点：对象库 (真身)、SQL 索引 (查询)、清单库 (内容)
type Graph struct {
	objects   *objstore.Store
	manifests *manifest.Store
	meta      *meta.Repository
}

func NewGraph(objects *objstore.Store, manifests *manifest.Store, metaRepo *meta.Repository) *Graph {
	return &Graph{objects: objects, manifests: manifests, meta: metaRepo}
}

// Write 持久化提交：真身进对象库，投影进 SQL 索引
// 两处写入都是幂等的，重复写同一个提交无害。
func (g *Graph) Write(ctx context.Context, c *Commit) error {
	if err := g.objects.Put(c.Digest(), c.Bytes()); err != nil {
		return fmt.Errorf("failed to store commit object: %w", err)
	}

	parents := c.ParentDigests()
	parentStrs := make([]string, len(parents))
	for i, p := range parents {
		parentStrs[i] = string(p)
	}
	parentsJSON, err := json.Marshal(parentStrs)
	if err != nil {
		return err
	}

	return g.meta.IndexCommit(ctx, &meta.CommitModel{
		Hash:         string(c.Digest()),
		Author:       c.Author,
		Email:        c.Email,
		Message:      c.Message,
		Timestamp:    c.Timestamp,
		ManifestHash: string(c.ManifestDigest()),
		Parents:      parentsJSON,
	})
}

// Get 按摘要取回提交 (从对象库读真身并复验)
func (g *Graph) Get(ctx context.Context, digest types.Digest) (*Commit, error) {
	raw, err := g.objects.Get(digest)
	if errors.Is(err, objstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if err != nil {
		return nil, err
	}

	c, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("commit %s corrupted: %w", digest, err)
	}
	if c.Digest() != digest {
		return nil, fmt.Errorf("commit %s failed digest re-verification (got %s)", digest, c.Digest())
	}
	return c, nil
}

// Has 检查提交对象是否存在
func (g *Graph) Has(ctx context.Context, digest types.Digest) (bool, error) {
	return g.objects.Has(digest)
}

// Manifest 取回某提交的完整清单
func (g *Graph) Manifest(ctx context.Context, commitDigest types.Digest) (*manifest.Manifest, error) {
	c, err := g.Get(ctx, commitDigest)
	if err != nil {
		return nil, err
	}
	return g.manifests.Load(c.ManifestDigest())
}

// Log 从 from 开始沿第一父链回溯历史，最多 limit 条 (limit <= 0 不限)
// 合并提交正常出现在链上，第二父分支的提交不展开 —— 和 git log
// --first-parent 一个语义。
func (g *Graph) Log(ctx context.Context, from types.Digest, limit int) ([]*Commit, error) {
	var out []*Commit
	cursor := from
	for !cursor.IsZero() {
		if limit > 0 && len(out) >= limit {
			break
		}
		c, err := g.Get(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, c)

		parents := c.ParentDigests()
		if len(parents) == 0 {
			break
		}
		cursor = parents[0]
	}
	return out, nil
}

// IsAncestor 判断 ancestor 是否在 descendant 的祖先闭包里 (含自身)
func (g *Graph) IsAncestor(ctx context.Context, ancestor, descendant types.Digest) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	seen := map[types.Digest]bool{}
	queue := []types.Digest{descendant}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		c, err := g.Get(ctx, cur)
		if err != nil {
			return false, err
		}
		for _, p := range c.ParentDigests() {
			if p == ancestor {
				return true, nil
			}
			if !seen[p] {
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// MergeBase 寻找 a、b 的最近公共祖先
// 先收集 a 的完整祖先闭包，再从 b 逐层 BFS；第一层出现交集的
// 候选里取字典序最小的一个，保证结果确定。
// 没有公共祖先 (无关历史) 时返回 ErrNotFound。
func (g *Graph) MergeBase(ctx context.Context, a, b types.Digest) (types.Digest, error) {
	ancestorsOfA := map[types.Digest]bool{}
	stack := []types.Digest{a}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if ancestorsOfA[cur] {
			continue
		}
		ancestorsOfA[cur] = true

		c, err := g.Get(ctx, cur)
		if err != nil {
			return "", err
		}
		stack = append(stack, c.ParentDigests()...)
	}

	seen := map[types.Digest]bool{}
	level := []types.Digest{b}
	for len(level) > 0 {
		var hits []types.Digest
		var next []types.Digest
		for _, cur := range level {
			if seen[cur] {
				continue
			}
			seen[cur] = true
			if ancestorsOfA[cur] {
				hits = append(hits, cur)
				continue
			}
			c, err := g.Get(ctx, cur)
			if err != nil {
				return "", err
			}
			next = append(next, c.ParentDigests()...)
		}
		if len(hits) > 0 {
			sort.Slice(hits, func(i, j int) bool { return hits[i] < hits[j] })
			return hits[0], nil
		}
		level = next
	}
	return "", fmt.Errorf("%w: no common ancestor of %s and %s", ErrNotFound, a, b)
}

// Import 接收一个外来提交的规范化字节并登记进本地图
// 解码复验摘要之后，要求父提交和清单在本地都已存在 —— 远端同步
// 必须按拓扑序先传祖先再传后代。
func (g *Graph) Import(ctx context.Context, raw []byte) (*Commit, error) {
	c, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	for _, p := range c.ParentDigests() {
		ok, err := g.objects.Has(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrDanglingRef, p)
		}
	}
	ok, err := g.manifests.Has(c.ManifestDigest())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: manifest %s", ErrDanglingRef, c.ManifestDigest())
	}

	if err := g.Write(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Reachable 收集 from 可达的全部提交摘要 (含自身)
// GC 的 mark 阶段和远端同步的差集计算都用它。
func (g *Graph) Reachable(ctx context.Context, from types.Digest) (map[types.Digest]struct{}, error) {
	out := map[types.Digest]struct{}{}
	stack := []types.Digest{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := out[cur]; ok {
			continue
		}
		out[cur] = struct{}{}

		c, err := g.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		stack = append(stack, c.ParentDigests()...)
	}
	return out, nil
}

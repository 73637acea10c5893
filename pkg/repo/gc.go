package repo

import (
	"context"
	"errors"
	"fmt"

	"gridvault/pkg/cas"
	"gridvault/pkg/refs"
	"gridvault/pkg/types"
)

// GC 执行一次完整的垃圾回收
//
// mark: 从全部分支 (以及 detached HEAD) 走提交图，收集每个可达提交的
// 清单引用的样本摘要；暂存区的工作清单和基线清单也算活。
// sweep: 交给 CAS 层做 —— 没有引用者的内容记录连同物理数据一起删除。
//
// 引用计数是推导出来的，不落库；一个摘要只要出现在任何可达清单里
// 就绝不会被删。
func (r *Repo) GC(ctx context.Context) (cas.Report, error) {
	live := map[types.Digest]struct{}{}

	tips := map[types.Digest]bool{}
	branches, err := r.Refs.ListBranches(ctx)
	if err != nil {
		return cas.Report{}, err
	}
	for _, tip := range branches {
		if !tip.IsZero() {
			tips[tip] = true
		}
	}
	head, err := r.Refs.Head(ctx)
	if err != nil && !errors.Is(err, refs.ErrNoHead) {
		return cas.Report{}, err
	}
	if err == nil && !head.Commit.IsZero() {
		tips[head.Commit] = true
	}

	marked := map[types.Digest]bool{}
	for tip := range tips {
		commits, err := r.Graph.Reachable(ctx, tip)
		if err != nil {
			return cas.Report{}, fmt.Errorf("gc mark failed at %s: %w", tip, err)
		}
		for c := range commits {
			if marked[c] {
				continue
			}
			marked[c] = true
			mf, err := r.Graph.Manifest(ctx, c)
			if err != nil {
				return cas.Report{}, fmt.Errorf("gc mark: manifest of %s unreadable: %w", c, err)
			}
			mf.Digests(func(d types.Digest) { live[d] = struct{}{} })
		}
	}

	// 暂存区现场
	r.Stage.Working().Digests(func(d types.Digest) { live[d] = struct{}{} })
	r.Stage.Base().Digests(func(d types.Digest) { live[d] = struct{}{} })

	r.Logger.Info("gc mark complete", "commits", len(marked), "live_digests", len(live))
	return r.CAS.GC(ctx, live)
}

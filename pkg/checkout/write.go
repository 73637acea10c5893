package checkout

import (
	"context"
	"errors"
	"fmt"

	"gridvault/pkg/commitgraph"
	"gridvault/pkg/diff"
	"gridvault/pkg/manifest"
	"gridvault/pkg/refs"
	"gridvault/pkg/stage"
	"gridvault/pkg/types"
)

// WriteHandle 是独占的写会话
// 所有暂存区变更都通过它进行；Close 释放锁但保留未提交的变更。
type WriteHandle struct {
	manager *Manager
	token   string
	head    refs.Head
	closed  bool

	// pending 记录一次有冲突的合并，等待 CompleteMerge
	pending *pendingMerge
}

type pendingMerge struct {
	theirs    types.Digest
	merged    *manifest.Manifest
	conflicts diff.ConflictSet
}

// Stage 返回本会话的暂存区
func (w *WriteHandle) Stage() *stage.Stage { return w.manager.stage }

// Head 返回会话打开时的 HEAD 状态
func (w *WriteHandle) Head() refs.Head { return w.head }

// Close 释放写锁；暂存区里未提交的变更原样保留
func (w *WriteHandle) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.manager.mu.Lock()
	w.manager.held = false
	w.manager.mu.Unlock()
	return w.manager.releaseLock(w.token)
}

func (w *WriteHandle) ensureOpen() error {
	if w.closed {
		return ErrWriterClosed
	}
	return nil
}

// Commit 把暂存区封口成一个新提交并推进 HEAD
// 暂存区和基线完全一致时拒绝 —— 空提交没有意义。
func (w *WriteHandle) Commit(ctx context.Context, author, email, message string) (*commitgraph.Commit, error) {
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}

	stg := w.manager.stage
	dirty, err := stg.Dirty()
	if err != nil {
		return nil, err
	}
	if !dirty {
		return nil, ErrNothingToCommit
	}

	working := stg.Working()
	base := stg.Base()
	baseCommit := stg.BaseCommit()

	var parents []types.Digest
	if !baseCommit.IsZero() {
		parents = append(parents, baseCommit)
	}

	return w.seal(ctx, working, base, baseCommit, parents, author, email, message)
}

// seal 持久化清单与提交，推进引用，重置暂存区基线
func (w *WriteHandle) seal(ctx context.Context, working, base *manifest.Manifest,
	baseCommit types.Digest, parents []types.Digest, author, email, message string) (*commitgraph.Commit, error) {

	m := w.manager

	var baseDigest types.Digest
	var baseForDelta *manifest.Manifest
	if !baseCommit.IsZero() {
		d, err := base.Digest()
		if err != nil {
			return nil, err
		}
		baseDigest = d
		baseForDelta = base
	}

	manifestDigest, err := m.manifests.Save(working, baseForDelta, baseDigest)
	if err != nil {
		return nil, fmt.Errorf("failed to persist manifest: %w", err)
	}

	c, err := commitgraph.New(manifestDigest, parents, author, email, message)
	if err != nil {
		return nil, err
	}
	if err := m.graph.Write(ctx, c); err != nil {
		return nil, err
	}

	// 推进引用: 附着分支走 CAS 推进；detached 直接钉 HEAD
	if w.head.Branch != "" {
		err = m.refs.AdvanceBranch(ctx, w.head.Branch, w.head.Commit, c.Digest())
		if errors.Is(err, refs.ErrBranchNotFound) && w.head.Commit.IsZero() {
			err = m.refs.CreateBranch(ctx, w.head.Branch, c.Digest())
		}
		if err != nil {
			return nil, err
		}
	} else {
		if err := m.refs.SetHeadDetached(ctx, c.Digest()); err != nil {
			return nil, err
		}
	}
	w.head.Commit = c.Digest()

	// 暂存区整体落到新提交的清单上: 普通提交时 working 就是暂存区
	// 现状, 合并提交时 working 是合并结果 —— 两种情况都以它为准。
	if err := m.stage.Reset(c.Digest(), working); err != nil {
		return nil, err
	}
	return c, nil
}

// MergeOutcome 描述一次合并的结局
type MergeOutcome struct {
	// AlreadyUpToDate: 对方历史已经包含在我们这侧
	AlreadyUpToDate bool
	// FastForward: 我们这侧没有独有提交，直接把指针推到对方
	FastForward bool
	// Commit 是产生的合并提交 (快进和冲突时为 nil)
	Commit *commitgraph.Commit
	// Conflicts 非空时合并被挂起，等待 CompleteMerge
	Conflicts diff.ConflictSet
}

// Merge 把 rev 指向的历史合并进当前 HEAD
// 暂存区必须干净 —— 合并结果会整体落进暂存区。
func (w *WriteHandle) Merge(ctx context.Context, rev, author, email, message string) (MergeOutcome, error) {
	if err := w.ensureOpen(); err != nil {
		return MergeOutcome{}, err
	}

	m := w.manager
	dirty, err := m.stage.Dirty()
	if err != nil {
		return MergeOutcome{}, err
	}
	if dirty {
		return MergeOutcome{}, ErrDirtyStage
	}

	theirs, err := m.Resolve(ctx, rev)
	if err != nil {
		return MergeOutcome{}, err
	}
	ours := w.head.Commit
	if ours.IsZero() {
		return MergeOutcome{}, fmt.Errorf("cannot merge into an empty history")
	}

	// 对方已经在我们的祖先闭包里: 无事可做
	if ok, err := m.graph.IsAncestor(ctx, theirs, ours); err != nil {
		return MergeOutcome{}, err
	} else if ok {
		return MergeOutcome{AlreadyUpToDate: true}, nil
	}

	// 我们在对方的祖先闭包里: 快进
	if ok, err := m.graph.IsAncestor(ctx, ours, theirs); err != nil {
		return MergeOutcome{}, err
	} else if ok {
		if w.head.Branch != "" {
			if err := m.refs.AdvanceBranch(ctx, w.head.Branch, ours, theirs); err != nil {
				return MergeOutcome{}, err
			}
		} else {
			if err := m.refs.SetHeadDetached(ctx, theirs); err != nil {
				return MergeOutcome{}, err
			}
		}
		w.head.Commit = theirs
		theirManifest, err := m.graph.Manifest(ctx, theirs)
		if err != nil {
			return MergeOutcome{}, err
		}
		if err := m.stage.Reset(theirs, theirManifest); err != nil {
			return MergeOutcome{}, err
		}
		return MergeOutcome{FastForward: true}, nil
	}

	// 真三路合并
	baseDigest, err := m.graph.MergeBase(ctx, ours, theirs)
	if err != nil {
		return MergeOutcome{}, err
	}
	baseMf, err := m.graph.Manifest(ctx, baseDigest)
	if err != nil {
		return MergeOutcome{}, err
	}
	oursMf, err := m.graph.Manifest(ctx, ours)
	if err != nil {
		return MergeOutcome{}, err
	}
	theirsMf, err := m.graph.Manifest(ctx, theirs)
	if err != nil {
		return MergeOutcome{}, err
	}

	merged, conflicts := diff.Merge3(baseMf, oursMf, theirsMf)
	if conflicts.HasConflicts() {
		w.pending = &pendingMerge{theirs: theirs, merged: merged, conflicts: conflicts}
		return MergeOutcome{Conflicts: conflicts}, nil
	}

	c, err := w.seal(ctx, merged, oursMf, ours, []types.Digest{ours, theirs}, author, email, message)
	if err != nil {
		return MergeOutcome{}, err
	}
	return MergeOutcome{Commit: c}, nil
}

// CompleteMerge 用裁决完成一次挂起的冲突合并
func (w *WriteHandle) CompleteMerge(ctx context.Context, resolutions []diff.Resolution,
	author, email, message string) (*commitgraph.Commit, error) {
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	if w.pending == nil {
		return nil, fmt.Errorf("no merge in progress")
	}

	resolved, err := diff.Apply(w.pending.merged, w.pending.conflicts, resolutions)
	if err != nil {
		return nil, err
	}

	ours := w.head.Commit
	oursMf, err := w.manager.graph.Manifest(ctx, ours)
	if err != nil {
		return nil, err
	}

	c, err := w.seal(ctx, resolved, oursMf, ours,
		[]types.Digest{ours, w.pending.theirs}, author, email, message)
	if err != nil {
		return nil, err
	}
	w.pending = nil
	return c, nil
}

// AbortMerge 丢弃挂起的合并
func (w *WriteHandle) AbortMerge() {
	w.pending = nil
}

// Package refs 管理可变指针：分支与 HEAD。
// 真正的历史都是不可变对象，仓库里唯一"会动"的就是这里 ——
// 所有更新都走数据库的乐观锁 CAS，读者要么看到旧指向要么看到新指向。
package refs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gridvault/pkg/meta"
	"gridvault/pkg/types"
)

var (
	ErrNoHead           = errors.New("HEAD not found (empty repo)")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrBranchExists     = errors.New("branch already exists")
	ErrBranchCheckedOut = errors.New("branch is currently checked out")
	// ErrInvalidName 分支名不合法
	ErrInvalidName = errors.New("invalid branch name")
)

const (
	headRef      = "HEAD"
	branchPrefix = "refs/heads/"
	// HEAD 的符号引用形式: "branch:<name>"；否则是 40 hex 提交摘要 (detached)
	symbolicPrefix = "branch:"
)

// Head 描述 HEAD 的当前状态
type Head struct {
	// Branch 非空表示 HEAD 附着在分支上；空表示 detached
	Branch string
	// Commit 是解析后的提交摘要；空仓库的新分支上为零值
	Commit types.Digest
}

func (h Head) Detached() bool { return h.Branch == "" }

// Manager 基于元数据库实现分支与 HEAD 的原子更新
type Manager struct {
	meta *meta.Repository
}

func NewManager(metaRepo *meta.Repository) *Manager {
	return &Manager{meta: metaRepo}
}

// validName 分支名只允许 [a-zA-Z0-9._/-]，且不能为空、不能像摘要
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '/', r == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	if types.Digest(name).IsValid() {
		return fmt.Errorf("%w: %q is indistinguishable from a commit digest", ErrInvalidName, name)
	}
	return nil
}

// CreateBranch 在 target 上创建新分支
func (m *Manager) CreateBranch(ctx context.Context, name string, target types.Digest) error {
	if err := validName(name); err != nil {
		return err
	}
	err := m.meta.UpdateRef(ctx, branchPrefix+name, string(target), 0)
	if errors.Is(err, meta.ErrConcurrentUpdate) {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	return err
}

// GetBranch 解析分支当前指向的提交
func (m *Manager) GetBranch(ctx context.Context, name string) (types.Digest, error) {
	ref, err := m.meta.GetRef(ctx, branchPrefix+name)
	if errors.Is(err, meta.ErrRefNotFound) {
		return "", fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if err != nil {
		return "", err
	}
	return types.Digest(ref.Target), nil
}

// AdvanceBranch 原子推进分支指针
// expected 是调用方上次读到的指向；数据库里的现值不等于它时返回
// meta.ErrConcurrentUpdate，调用方要重读重试。
func (m *Manager) AdvanceBranch(ctx context.Context, name string, expected, next types.Digest) error {
	ref, err := m.meta.GetRef(ctx, branchPrefix+name)
	if errors.Is(err, meta.ErrRefNotFound) {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if err != nil {
		return err
	}
	if types.Digest(ref.Target) != expected {
		return meta.ErrConcurrentUpdate
	}
	return m.meta.UpdateRef(ctx, branchPrefix+name, string(next), ref.Version)
}

// DeleteBranch 删除分支；HEAD 正附着其上时拒绝
func (m *Manager) DeleteBranch(ctx context.Context, name string) error {
	head, err := m.Head(ctx)
	if err != nil && !errors.Is(err, ErrNoHead) {
		return err
	}
	if err == nil && head.Branch == name {
		return fmt.Errorf("%w: %s", ErrBranchCheckedOut, name)
	}

	err = m.meta.DeleteRef(ctx, branchPrefix+name)
	if errors.Is(err, meta.ErrRefNotFound) {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return err
}

// ListBranches 按名称序返回全部分支
func (m *Manager) ListBranches(ctx context.Context) (map[string]types.Digest, error) {
	rows, err := m.meta.ListRefs(ctx, branchPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Digest, len(rows))
	for _, r := range rows {
		out[strings.TrimPrefix(r.Name, branchPrefix)] = types.Digest(r.Target)
	}
	return out, nil
}

// Head 读取并解析 HEAD
func (m *Manager) Head(ctx context.Context) (Head, error) {
	ref, err := m.meta.GetRef(ctx, headRef)
	if errors.Is(err, meta.ErrRefNotFound) {
		return Head{}, ErrNoHead
	}
	if err != nil {
		return Head{}, err
	}

	if name, ok := strings.CutPrefix(ref.Target, symbolicPrefix); ok {
		commit, err := m.GetBranch(ctx, name)
		if errors.Is(err, ErrBranchNotFound) {
			// 未出生的分支: HEAD 已附着，第一次提交时才创建分支
			return Head{Branch: name}, nil
		}
		if err != nil {
			return Head{}, err
		}
		return Head{Branch: name, Commit: commit}, nil
	}
	return Head{Commit: types.Digest(ref.Target)}, nil
}

// SetHeadBranch 把 HEAD 附着到分支上
// 允许指向尚不存在的分支 (未出生)：第一次提交时分支才被创建。
func (m *Manager) SetHeadBranch(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	return m.setHead(ctx, symbolicPrefix+name)
}

// SetHeadDetached 把 HEAD 直接钉在某个提交上
func (m *Manager) SetHeadDetached(ctx context.Context, commit types.Digest) error {
	return m.setHead(ctx, string(commit))
}

func (m *Manager) setHead(ctx context.Context, target string) error {
	ref, err := m.meta.GetRef(ctx, headRef)
	if errors.Is(err, meta.ErrRefNotFound) {
		return m.meta.UpdateRef(ctx, headRef, target, 0)
	}
	if err != nil {
		return err
	}
	return m.meta.UpdateRef(ctx, headRef, target, ref.Version)
}

// Package checkout 实现会话模型：单写者多读者。
// 写会话持有仓库级写锁 (文件锁 + 进程内互斥)，独占暂存区；
// 读会话无限制，钉在某个提交的不可变清单上，永远不会看到半成品。
package checkout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gridvault/pkg/cas"
	"gridvault/pkg/commitgraph"
	"gridvault/pkg/manifest"
	"gridvault/pkg/refs"
	"gridvault/pkg/stage"
	"gridvault/pkg/types"

	"github.com/google/uuid"
)

var (
	ErrWriterLockHeld  = errors.New("another writer holds the repository lock")
	ErrWriterRequired  = errors.New("no write checkout is open")
	ErrWriterClosed    = errors.New("write session is closed")
	ErrNothingToCommit = errors.New("nothing to commit (staging area is clean)")
	ErrDirtyStage      = errors.New("staging area has uncommitted changes")
	ErrBadRevision     = errors.New("cannot resolve revision")
)

// Manager 打开读写会话的入口
type Manager struct {
	lockPath  string
	graph     *commitgraph.Graph
	manifests *manifest.Store
	refs      *refs.Manager
	stage     *stage.Stage
	cas       *cas.Store

	// mu 挡住同进程内的第二个写者；跨进程靠 lockPath 文件
	mu   sync.Mutex
	held bool
}

func NewManager(lockPath string, graph *commitgraph.Graph, manifests *manifest.Store,
	refManager *refs.Manager, stg *stage.Stage, casStore *cas.Store) *Manager {
	m := &Manager{
		lockPath:  lockPath,
		graph:     graph,
		manifests: manifests,
		refs:      refManager,
		stage:     stg,
		cas:       casStore,
	}
	// 暂存区修改只允许发生在打开的写会话里
	stg.SetGuard(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.held {
			return ErrWriterRequired
		}
		return nil
	})
	return m
}

// acquireLock 拿仓库写锁
// O_EXCL 创建锁文件并写入本次会话的令牌；block 为真时轮询等待。
func (m *Manager) acquireLock(ctx context.Context, block bool) (string, error) {
	token := uuid.NewString()
	for {
		f, err := os.OpenFile(m.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(token)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(m.lockPath)
				return "", werr
			}
			return token, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to acquire writer lock: %w", err)
		}
		if !block {
			return "", ErrWriterLockHeld
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// releaseLock 只删除自己令牌的锁文件
func (m *Manager) releaseLock(token string) error {
	data, err := os.ReadFile(m.lockPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) != token {
		return fmt.Errorf("writer lock is held by someone else, refusing to release")
	}
	return os.Remove(m.lockPath)
}

// WriteOptions 控制写会话的打开方式
type WriteOptions struct {
	// Block 为真时等待其它写者释放锁，否则立即返回 ErrWriterLockHeld
	Block bool
}

// OpenWrite 打开写会话
// 暂存区是干净的就重置到 HEAD 的清单上；有未提交变更 (上个会话
// 崩溃或没提交) 就原样接手，绝不丢弃。
func (m *Manager) OpenWrite(ctx context.Context, opts WriteOptions) (*WriteHandle, error) {
	m.mu.Lock()
	if m.held {
		if !opts.Block {
			m.mu.Unlock()
			return nil, ErrWriterLockHeld
		}
	}
	// 简化：同进程阻塞等待也走文件锁轮询
	m.mu.Unlock()

	token, err := m.acquireLock(ctx, opts.Block)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.held = true
	m.mu.Unlock()

	cleanupOnErr := func() {
		m.releaseLock(token)
		m.mu.Lock()
		m.held = false
		m.mu.Unlock()
	}

	head, err := m.refs.Head(ctx)
	if err != nil && !errors.Is(err, refs.ErrNoHead) {
		cleanupOnErr()
		return nil, err
	}

	dirty, err := m.stage.Dirty()
	if err != nil {
		cleanupOnErr()
		return nil, err
	}

	if !dirty && m.stage.BaseCommit() != head.Commit {
		base := manifest.New()
		if !head.Commit.IsZero() {
			base, err = m.graph.Manifest(ctx, head.Commit)
			if err != nil {
				cleanupOnErr()
				return nil, err
			}
		}
		if err := m.stage.Reset(head.Commit, base); err != nil {
			cleanupOnErr()
			return nil, err
		}
	}

	return &WriteHandle{
		manager: m,
		token:   token,
		head:    head,
	}, nil
}

// OpenRead 打开读会话，钉在 rev 解析出的提交上
// rev 可以是分支名、40 hex 摘要、"a=<hex>" 形式，或空串 (HEAD)。
func (m *Manager) OpenRead(ctx context.Context, rev string) (*ReadHandle, error) {
	commit, err := m.Resolve(ctx, rev)
	if err != nil {
		return nil, err
	}
	mf, err := m.graph.Manifest(ctx, commit)
	if err != nil {
		return nil, err
	}
	return &ReadHandle{commit: commit, manifest: mf, cas: m.cas}, nil
}

// Resolve 把修订说明符解析成提交摘要
func (m *Manager) Resolve(ctx context.Context, rev string) (types.Digest, error) {
	if rev == "" || rev == "HEAD" {
		head, err := m.refs.Head(ctx)
		if err != nil {
			return "", err
		}
		if head.Commit.IsZero() {
			return "", fmt.Errorf("%w: HEAD has no commits yet", ErrBadRevision)
		}
		return head.Commit, nil
	}

	if strings.Contains(rev, "=") {
		tag, d, err := types.ParseTagged(rev)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadRevision, err)
		}
		if tag != types.TagCommit {
			return "", fmt.Errorf("%w: %q does not name a commit", ErrBadRevision, rev)
		}
		return d, nil
	}

	if d := types.Digest(rev); d.IsValid() {
		if ok, err := m.graph.Has(ctx, d); err != nil {
			return "", err
		} else if ok {
			return d, nil
		}
	}

	commit, err := m.refs.GetBranch(ctx, rev)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadRevision, rev)
	}
	return commit, nil
}

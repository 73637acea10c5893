// Package cas 是内容寻址存储：digest -> (backend, location) 的唯一真源。
// 与列身份完全无关 —— 不同列/键下写入的相同字节只占一份物理拷贝。
package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"gridvault/pkg/backend"
	"gridvault/pkg/codec"
	"gridvault/pkg/meta"
	"gridvault/pkg/types"

	"github.com/charmbracelet/log"
)

var (
	// ErrNotFound 摘要没有对应的内容记录
	ErrNotFound = errors.New("digest not found in store")
	// ErrCorruptStore 后端返回的字节没通过摘要复验，或记录的位置不可读
	// 对受影响的摘要是致命的；仓库的其它数据不受影响。
	ErrCorruptStore = errors.New("corrupt store")
	// ErrNoBackend 内容记录指向一个没有打开的后端
	ErrNoBackend = errors.New("backend not available")
)

// Presence 是可选的摘要存在性缓存 (Redis 装饰)
// 任何失败都只能降级，不能让写入路径挂掉。
type Presence interface {
	Seen(ctx context.Context, digest types.Digest) bool
	Mark(ctx context.Context, digest types.Digest)
}

// Store 把去重、复验、引用簿记聚合在一个入口后面
type Store struct {
	meta     *meta.Repository
	backends map[types.BackendCode]backend.Backend
	presence Presence // 可以为 nil
	logger   *log.Logger

	// staged 记录暂存区尚未进入任何提交的引用
	// 引用计数不落库：提交里的引用由 GC 走提交图推导，
	// 这里只需要保护"已 put 但还没 commit"的窗口期。
	mu     sync.Mutex
	staged map[types.Digest]int
}

// Option 配置可选能力
type Option func(*Store)

func WithPresence(p Presence) Option {
	return func(s *Store) { s.presence = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New 组装 CAS
func New(metaRepo *meta.Repository, backends map[types.BackendCode]backend.Backend, opts ...Option) *Store {
	s := &Store{
		meta:     metaRepo,
		backends: backends,
		logger:   log.New(io.Discard), // 默认丢弃；app 层会注入真 logger
		staged:   make(map[types.Digest]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put 写入一段样本字节，返回内容摘要
// 摘要已存在时直接增加暂存引用并返回，不触碰后端 —— 这就是去重。
func (s *Store) Put(ctx context.Context, code types.BackendCode, data []byte) (types.Digest, error) {
	digest := codec.DigestBytes(data)

	// 1. 快路径: 存在性缓存
	known := s.presence != nil && s.presence.Seen(ctx, digest)

	// 2. 慢路径: 元数据记录
	if !known {
		exists, err := s.meta.HasContent(ctx, digest)
		if err != nil {
			return "", fmt.Errorf("content lookup failed: %w", err)
		}
		known = exists
	}

	if !known {
		be, ok := s.backends[code]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrNoBackend, code)
		}
		loc, err := be.Write(ctx, data)
		if err != nil {
			return "", fmt.Errorf("backend %q write failed: %w", code, err)
		}
		if err := s.meta.PutContent(ctx, &meta.ContentRecord{
			Digest:    string(digest),
			Backend:   string(code),
			Location:  string(loc),
			SizeBytes: int64(len(data)),
		}); err != nil {
			return "", err
		}
	}

	if s.presence != nil {
		s.presence.Mark(ctx, digest)
	}

	s.mu.Lock()
	s.staged[digest]++
	s.mu.Unlock()
	return digest, nil
}

// Get 按摘要取回字节，并对照摘要复验
func (s *Store) Get(ctx context.Context, digest types.Digest) ([]byte, error) {
	rec, err := s.meta.GetContent(ctx, digest)
	if errors.Is(err, meta.ErrContentNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if err != nil {
		return nil, err
	}

	be, ok := s.backends[types.BackendCode(rec.Backend)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (digest %s)", ErrNoBackend, rec.Backend, digest)
	}

	data, err := be.Read(ctx, types.Location(rec.Location))
	if err != nil {
		// 记录的位置不可读 -> 对这个摘要是 CorruptStore
		return nil, fmt.Errorf("%w: digest %s location unreadable: %v", ErrCorruptStore, digest, err)
	}

	// 摘要复验：后端必须逐字节复原
	if got := codec.DigestBytes(data); got != digest {
		return nil, fmt.Errorf("%w: digest %s re-verified as %s", ErrCorruptStore, digest, got)
	}
	return data, nil
}

// Has 检查摘要是否在库中
func (s *Store) Has(ctx context.Context, digest types.Digest) (bool, error) {
	if s.presence != nil && s.presence.Seen(ctx, digest) {
		return true, nil
	}
	return s.meta.HasContent(ctx, digest)
}

// Release 释放一个暂存引用
// 只做簿记；物理删除永远推迟到 GC —— 引用计数非零的摘要绝不会被删。
func (s *Store) Release(digest types.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staged[digest] <= 1 {
		delete(s.staged, digest)
		return
	}
	s.staged[digest]--
}

// ResetStaged 清空暂存引用 (提交之后调用：引用已经由提交图接管)
func (s *Store) ResetStaged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = make(map[types.Digest]int)
}

// stagedDigests 返回当前暂存引用的快照
func (s *Store) stagedDigests() map[types.Digest]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.Digest]struct{}, len(s.staged))
	for d := range s.staged {
		out[d] = struct{}{}
	}
	return out
}

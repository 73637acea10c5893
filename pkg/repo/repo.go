// Package repo 把所有子系统组装成一个仓库：
// .gv/ 目录布局、初始化/打开/销毁，以及跨子系统的操作 (GC、摘要视图)。
package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gridvault/pkg/backend"
	"gridvault/pkg/backend/registry"
	"gridvault/pkg/backend/s3be"
	"gridvault/pkg/cas"
	"gridvault/pkg/cas/cache"
	"gridvault/pkg/checkout"
	"gridvault/pkg/commitgraph"
	"gridvault/pkg/manifest"
	"gridvault/pkg/meta"
	"gridvault/pkg/objstore"
	"gridvault/pkg/refs"
	"gridvault/pkg/stage"
	"gridvault/pkg/types"

	"github.com/charmbracelet/log"
)

const (
	// DirName 是仓库目录名
	DirName = ".gv"

	DefaultBranch = "main"
)

var (
	ErrNotARepo      = errors.New("not a gridvault repository")
	ErrAlreadyExists = errors.New("repository already exists")
)

// Layout 是 .gv/ 目录的物理布局
type Layout struct {
	Root string // 仓库目录本身, 例如 /data/project/.gv
}

func NewLayout(workdir string) Layout {
	return Layout{Root: filepath.Join(workdir, DirName)}
}

func (l Layout) ObjectsDir() string { return filepath.Join(l.Root, "objects") }
func (l Layout) DataDir() string    { return filepath.Join(l.Root, "data") }
func (l Layout) MetaPath() string   { return filepath.Join(l.Root, "meta.db") }
func (l Layout) StagePath() string  { return filepath.Join(l.Root, "stage.json") }
func (l Layout) LockPath() string   { return filepath.Join(l.Root, "LOCK") }

// Options 控制仓库打开时的可选能力
type Options struct {
	// Meta 为空时使用仓库内置的 sqlite
	Meta *meta.Config
	// Redis 非空时启用摘要存在性缓存
	Redis *cache.Config
	// S3 非空时启用远端后端 "50"
	S3 *s3be.Config
	// Complib 是 zblob 后端的压缩算法 ("zstd" | "lz4")
	Complib string

	Logger *log.Logger
}

// Repo 聚合仓库的全部子系统
type Repo struct {
	Layout
	Logger *log.Logger

	DB        *meta.DB
	Meta      *meta.Repository
	Objects   *objstore.Store
	Manifests *manifest.Store
	Graph     *commitgraph.Graph
	CAS       *cas.Store
	Refs      *refs.Manager
	Stage     *stage.Stage
	Checkouts *checkout.Manager

	backends map[types.BackendCode]backend.Backend
	presence *cache.Presence
}

// Init 在 workdir 下创建一个新仓库
func Init(ctx context.Context, workdir string, opts Options) (*Repo, error) {
	layout := NewLayout(workdir)
	if _, err := os.Stat(layout.Root); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, layout.Root)
	}

	for _, dir := range []string{layout.Root, layout.ObjectsDir(), layout.DataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create repository directory: %w", err)
		}
	}

	r, err := Open(ctx, workdir, opts)
	if err != nil {
		return nil, err
	}

	// HEAD 附着到未出生的 main 分支；第一次提交时分支才被创建
	if err := r.Refs.SetHeadBranch(ctx, DefaultBranch); err != nil {
		r.Close()
		return nil, err
	}
	r.Logger.Info("initialized empty repository", "path", layout.Root)
	return r, nil
}

// Open 打开一个已存在的仓库
func Open(ctx context.Context, workdir string, opts Options) (*Repo, error) {
	layout := NewLayout(workdir)
	if _, err := os.Stat(layout.Root); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotARepo, layout.Root)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	metaCfg := meta.Config{Driver: "sqlite", Path: layout.MetaPath()}
	if opts.Meta != nil {
		metaCfg = *opts.Meta
	}
	db, err := meta.NewDB(ctx, metaCfg)
	if err != nil {
		return nil, err
	}
	metaRepo := meta.NewRepository(db)

	backends, err := registry.OpenLocal(ctx, registry.Config{
		DataRoot: layout.DataDir(),
		Complib:  opts.Complib,
		S3:       opts.S3,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	casOpts := []cas.Option{cas.WithLogger(logger)}
	var presence *cache.Presence
	if opts.Redis != nil {
		presence, err = cache.New(*opts.Redis, logger)
		if err != nil {
			// 缓存只是加速器: 连不上降级运行，不拦路
			logger.Warn("presence cache disabled", "err", err)
		} else {
			casOpts = append(casOpts, cas.WithPresence(presence))
		}
	}
	casStore := cas.New(metaRepo, backends, casOpts...)

	objects, err := objstore.New(layout.ObjectsDir())
	if err != nil {
		db.Close()
		return nil, err
	}
	manifests := manifest.NewStore(objects)
	graph := commitgraph.NewGraph(objects, manifests, metaRepo)
	refManager := refs.NewManager(metaRepo)

	stg, err := stage.Load(layout.StagePath(), casStore)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Repo{
		Layout:    layout,
		Logger:    logger,
		DB:        db,
		Meta:      metaRepo,
		Objects:   objects,
		Manifests: manifests,
		Graph:     graph,
		CAS:       casStore,
		Refs:      refManager,
		Stage:     stg,
		Checkouts: checkout.NewManager(layout.LockPath(), graph, manifests, refManager, stg, casStore),
		backends:  backends,
		presence:  presence,
	}, nil
}

// Close 释放全部句柄 (badger 文件锁、sqlite 连接、redis 连接)
func (r *Repo) Close() error {
	var firstErr error
	for _, be := range r.backends {
		if err := be.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.presence != nil {
		if err := r.presence.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Remove 销毁仓库 (删除整个 .gv 目录)
// 不可恢复；调用方负责确认。
func Remove(workdir string) error {
	layout := NewLayout(workdir)
	if _, err := os.Stat(layout.Root); err != nil {
		return fmt.Errorf("%w: %s", ErrNotARepo, layout.Root)
	}
	return os.RemoveAll(layout.Root)
}

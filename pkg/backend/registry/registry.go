// Package registry 是后端格式码到具体实现的封闭式路由。
// 新后端只能通过扩展这里的 switch 接入 —— 保持穷举匹配的安全性，
// 而不是开放式的运行时插件加载。
package registry

import (
	"context"
	"fmt"
	"path/filepath"

	"gridvault/pkg/backend"
	"gridvault/pkg/backend/bulkdir"
	"gridvault/pkg/backend/s3be"
	"gridvault/pkg/backend/strkv"
	"gridvault/pkg/backend/zblob"
	"gridvault/pkg/types"
)

// Config 汇总所有后端可能需要的初始化参数
type Config struct {
	// DataRoot 是本地后端的根目录 (每个格式码一个子目录)
	DataRoot string

	// ZBlob 选项来自列 schema 的 backend_opts
	Complib string

	// S3 远端配置；为空表示未启用 "50"
	S3 *s3be.Config
}

// Open 按格式码实例化后端
func Open(ctx context.Context, code types.BackendCode, cfg Config) (backend.Backend, error) {
	switch code {
	case bulkdir.Code:
		return bulkdir.New(filepath.Join(cfg.DataRoot, string(code)))
	case zblob.Code:
		return zblob.New(filepath.Join(cfg.DataRoot, string(code)), zblob.Options{Complib: cfg.Complib})
	case strkv.Code:
		return strkv.New(filepath.Join(cfg.DataRoot, string(code)))
	case s3be.Code:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("backend %q requested but no s3 configuration present", code)
		}
		return s3be.New(ctx, *cfg.S3)
	default:
		return nil, fmt.Errorf("unknown backend format code %q", code)
	}
}

// OpenLocal 实例化全部本地后端 (仓库打开时的默认集合)
func OpenLocal(ctx context.Context, cfg Config) (map[types.BackendCode]backend.Backend, error) {
	out := make(map[types.BackendCode]backend.Backend, 3)
	for _, code := range []types.BackendCode{bulkdir.Code, zblob.Code, strkv.Code} {
		be, err := Open(ctx, code, cfg)
		if err != nil {
			// 已经打开的要关掉，避免泄漏 badger 的文件锁
			for _, opened := range out {
				opened.Close()
			}
			return nil, fmt.Errorf("failed to open backend %q: %w", code, err)
		}
		out[code] = be
	}
	if cfg.S3 != nil {
		be, err := Open(ctx, s3be.Code, cfg)
		if err != nil {
			for _, opened := range out {
				opened.Close()
			}
			return nil, fmt.Errorf("failed to open backend %q: %w", s3be.Code, err)
		}
		out[s3be.Code] = be
	}
	return out, nil
}

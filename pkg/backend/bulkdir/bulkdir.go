// Package bulkdir 实现格式码 "10"：每个样本一个平铺文件。
// 适合小型行数据，读路径就是一次 os.ReadFile，没有任何解码开销。
package bulkdir

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gridvault/pkg/backend"
	"gridvault/pkg/types"

	"github.com/google/uuid"
)

const Code types.BackendCode = "10"

// Store 实现了 backend.Backend 接口
type Store struct {
	rootPath string // 比如: <repo>/.gv/data/10
}

// New 创建一个平铺文件后端
func New(root string) (*Store, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bulkdir root: %w", err)
	}
	return &Store{rootPath: root}, nil
}

// layout 返回令牌对应的物理路径
// 策略：令牌前 2 个字符作为子目录 (Sharding)
func (s *Store) layout(loc types.Location) string {
	token := string(loc)
	if len(token) < 2 {
		return filepath.Join(s.rootPath, token)
	}
	return filepath.Join(s.rootPath, token[:2], token[2:])
}

func (s *Store) Write(ctx context.Context, data []byte) (types.Location, error) {
	// 定位令牌由后端自己签发；上层的 digest -> location 映射由 CAS 记录
	loc := types.Location(uuid.NewString())
	targetPath := s.layout(loc)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", err
	}

	// 原子写入: 先写临时文件再 Rename
	// 保证要么文件不存在，要么文件是完整的。
	tempFile, err := os.CreateTemp(filepath.Dir(targetPath), "temp-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return "", err
	}
	return loc, nil
}

func (s *Store) Read(ctx context.Context, loc types.Location) ([]byte, error) {
	data, err := os.ReadFile(s.layout(loc))
	if os.IsNotExist(err) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, loc types.Location) error {
	err := os.Remove(s.layout(loc))
	if os.IsNotExist(err) {
		return backend.ErrNotFound
	}
	return err
}

func (s *Store) Code() types.BackendCode { return Code }

func (s *Store) Close() error { return nil }

// StoredBytes 汇总目录下所有样本文件的大小
func (s *Store) StoredBytes(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

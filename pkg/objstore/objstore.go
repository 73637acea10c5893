// Package objstore 是哈希寻址对象 (提交、清单增量) 的 append-only 存储。
// 对象一旦写入就不可变；同一摘要的重复写入直接跳过。
package objstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gridvault/pkg/types"
)

var ErrNotFound = errors.New("object not found")

// Store 把规范化编码的对象按摘要落在分片目录里
type Store struct {
	rootPath string // 比如: <repo>/.gv/objects
}

// New 创建一个对象库
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &Store{rootPath: root}, nil
}

// layout 返回摘要对应的物理路径
// 策略：使用前 2 个字符作为子目录 (Sharding)
// Example: digest "aabbcc..." -> root/aa/bbcc...
func (s *Store) layout(digest types.Digest) string {
	h := string(digest)
	if len(h) < 2 {
		return filepath.Join(s.rootPath, h)
	}
	return filepath.Join(s.rootPath, h[:2], h[2:])
}

// Put 持久化一个对象 (幂等)
func (s *Store) Put(digest types.Digest, data []byte) error {
	targetPath := s.layout(digest)

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil // 内容寻址：已经存在就是同一份
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 3. 原子写入 (Atomic Write)
	// 先写到临时文件，然后 Rename。保证要么文件不存在，要么文件是完整的
	// —— 提交创建对读者而言是原子的。
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// 4. 移动到最终位置
	return os.Rename(tempFile.Name(), targetPath)
}

// Get 按摘要读回对象字节
func (s *Store) Get(digest types.Digest) ([]byte, error) {
	data, err := os.ReadFile(s.layout(digest))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Has 检查对象是否存在
func (s *Store) Has(digest types.Digest) (bool, error) {
	_, err := os.Stat(s.layout(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

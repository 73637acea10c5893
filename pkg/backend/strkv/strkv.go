// Package strkv 实现格式码 "30"：嵌入式 KV 存储。
// 大量的小字符串样本如果一个一个落成文件，inode 开销会非常难看；
// Badger 把它们合并进 LSM，读写都是一次事务。
package strkv

import (
	"context"
	"errors"
	"fmt"

	"gridvault/pkg/backend"
	"gridvault/pkg/types"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const Code types.BackendCode = "30"

// Store 实现了 backend.Backend 接口
type Store struct {
	db *badger.DB
}

// New 打开 (或创建) Badger 库
func New(root string) (*Store, error) {
	opts := badger.DefaultOptions(root)
	// 后端自己不打日志，诊断信息统一走上层 logger
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open strkv store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Write(ctx context.Context, data []byte) (types.Location, error) {
	loc := types.Location(uuid.NewString())
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(loc), data)
	})
	if err != nil {
		return "", fmt.Errorf("strkv write failed: %w", err)
	}
	return loc, nil
}

func (s *Store) Read(ctx context.Context, loc types.Location) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(loc))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, loc types.Location) error {
	// Badger 的 Delete 对不存在的 key 也返回 nil，这里先显式探测
	// 以满足 delete(location) -> ok|NotFound 的契约。
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(loc))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return backend.ErrNotFound
	}
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(loc))
	})
}

func (s *Store) Code() types.BackendCode { return Code }

func (s *Store) Close() error { return s.db.Close() }

// StoredBytes 报告 LSM + vlog 的物理占用
func (s *Store) StoredBytes(ctx context.Context) (int64, error) {
	lsm, vlog := s.db.Size()
	return lsm + vlog, nil
}

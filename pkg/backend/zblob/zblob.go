// Package zblob 实现格式码 "01"：压缩 blob 容器。
// 每个样本压缩后独立落盘，压缩算法 (complib) 随 schema 选项决定，
// 并编进定位令牌里 —— 读路径不需要回查 schema 就知道怎么解压。
package zblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gridvault/pkg/backend"
	"gridvault/pkg/types"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const Code types.BackendCode = "01"

// 支持的 complib
const (
	CompZstd = "zstd"
	CompLZ4  = "lz4"
)

// Store 实现了 backend.Backend 接口
type Store struct {
	rootPath string
	complib  string

	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// Options 来自列 schema 的 backend_opts
type Options struct {
	Complib string // "zstd" (默认) 或 "lz4"
}

// New 创建压缩 blob 后端
func New(root string, opts Options) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create zblob root: %w", err)
	}

	complib := opts.Complib
	if complib == "" {
		complib = CompZstd
	}
	if complib != CompZstd && complib != CompLZ4 {
		return nil, fmt.Errorf("unknown complib %q", complib)
	}

	s := &Store{rootPath: root, complib: complib}

	// zstd 的编解码器可以全程复用 (并发安全)
	var err error
	s.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	s.zdec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// 定位令牌格式: "<complib>:<token>"
// 令牌自带压缩算法，历史数据在 complib 切换后依然可读。
func splitLoc(loc types.Location) (complib, token string, err error) {
	parts := strings.SplitN(string(loc), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed zblob location %q", loc)
	}
	return parts[0], parts[1], nil
}

func (s *Store) layout(token string) string {
	if len(token) < 2 {
		return filepath.Join(s.rootPath, token)
	}
	return filepath.Join(s.rootPath, token[:2], token[2:])
}

func (s *Store) compress(data []byte) ([]byte, error) {
	switch s.complib {
	case CompZstd:
		return s.zenc.EncodeAll(data, nil), nil
	case CompLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown complib %q", s.complib)
}

func decompress(complib string, data []byte, zdec *zstd.Decoder) ([]byte, error) {
	switch complib {
	case CompZstd:
		return zdec.DecodeAll(data, nil)
	case CompLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("unknown complib %q in location", complib)
}

func (s *Store) Write(ctx context.Context, data []byte) (types.Location, error) {
	compressed, err := s.compress(data)
	if err != nil {
		return "", fmt.Errorf("zblob compress failed: %w", err)
	}

	token := uuid.NewString()
	targetPath := s.layout(token)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", err
	}

	// 原子写入 (temp + rename)，同 bulkdir
	tempFile, err := os.CreateTemp(filepath.Dir(targetPath), "temp-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(compressed); err != nil {
		tempFile.Close()
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return "", err
	}

	return types.Location(s.complib + ":" + token), nil
}

func (s *Store) Read(ctx context.Context, loc types.Location) ([]byte, error) {
	complib, token, err := splitLoc(loc)
	if err != nil {
		return nil, err
	}

	compressed, err := os.ReadFile(s.layout(token))
	if os.IsNotExist(err) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	data, err := decompress(complib, compressed, s.zdec)
	if err != nil {
		return nil, fmt.Errorf("zblob decompress failed: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, loc types.Location) error {
	_, token, err := splitLoc(loc)
	if err != nil {
		return err
	}
	err = os.Remove(s.layout(token))
	if os.IsNotExist(err) {
		return backend.ErrNotFound
	}
	return err
}

func (s *Store) Code() types.BackendCode { return Code }

func (s *Store) Close() error {
	s.zenc.Close()
	s.zdec.Close()
	return nil
}

// StoredBytes 汇总压缩后的物理占用
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

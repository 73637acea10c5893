package backend

import (
	"context"
	"errors"

	"gridvault/pkg/types"
)

var (
	ErrNotFound = errors.New("location not found")
)

// Backend is the uniform contract every storage engine must satisfy.
// Implementations can be a flat sample-per-file directory, a compressed
// blob container, an embedded KV store, or a remote object store.
//
// 保证: Write 返回后，对返回 Location 的 Read 必须逐字节复原数据，
// 直到 Delete 被调用且不再有其它引用为止。
type Backend interface {
	// Write 持久化一段字节，返回只有本后端能解释的定位令牌
	Write(ctx context.Context, data []byte) (types.Location, error)

	// Read 按定位令牌取回字节
	// 位置不存在时返回 ErrNotFound。
	Read(ctx context.Context, loc types.Location) ([]byte, error)

	// Delete 删除定位令牌指向的数据
	// 只允许 GC 在确认引用计数为零后调用。
	Delete(ctx context.Context, loc types.Location) error

	// Code 返回本后端的两字符格式码
	Code() types.BackendCode

	// Close 释放后端持有的资源 (文件句柄、连接池等)
	Close() error
}

// Usage 是可选能力：后端可以报告自己占用的物理字节数 (用于仓库摘要视图)
type Usage interface {
	StoredBytes(ctx context.Context) (int64, error)
}

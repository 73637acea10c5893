package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Ref 存储可变指针：分支 (例如 "refs/heads/main") 和 HEAD
// Target 要么是 40 hex 的提交摘要，要么是 "branch:<name>" 形式的符号引用 (仅 HEAD)。
type Ref struct {
	// Name 是主键，例如 "HEAD" 或 "refs/heads/main"
	Name string `gorm:"primaryKey;type:varchar(255)"`

	// Target 指向当前的 Commit 摘要或符号引用
	Target string `gorm:"type:varchar(255);not null"`

	// Version 用于乐观锁并发控制 (CAS)
	// 每次更新时 +1，防止并发覆盖 —— 读者要么看到旧值要么看到新值。
	Version int64 `gorm:"default:1"`

	UpdatedAt time.Time
}

// CommitModel 是提交对象在关系型数据库中的投影 (索引)
// 真身 (规范化 CBOR) 永远在 append-only 对象库里；这张表只为
// 快速查询历史 (gv log)，支持按作者、时间搜索。
type CommitModel struct {
	// Hash 是主键 (40 hex 内容摘要)
	Hash string `gorm:"primaryKey;type:char(40)"`

	// 基础元数据 (B-Tree 索引，适合排序和精确查找)
	Author    string `gorm:"index;type:varchar(100)"`
	Email     string `gorm:"type:varchar(255)"`
	Message   string `gorm:"type:text"`
	Timestamp int64  `gorm:"index"` // int64 时间戳，方便范围查询

	// 清单指针
	ManifestHash string `gorm:"type:char(40);not null"`

	// Parents: JSON 数组 ["hash1", "hash2"]，合并提交有两个父节点
	Parents datatypes.JSON

	CreatedAt time.Time
}

// TableName 强制指定表名
func (CommitModel) TableName() string {
	return "commits"
}

// ContentRecord 记录 digest -> (backend, location) 的物理映射
// 引用计数不落库：活性由 GC 走提交图 + 暂存区现场推导。
type ContentRecord struct {
	// Digest 是主键 (40 hex 内容摘要)
	Digest string `gorm:"primaryKey;type:char(40)"`

	// Backend 是两字符格式码；随记录持久化，
	// 读路径不需要回查在线 schema 就能路由。
	Backend string `gorm:"type:char(2);not null"`

	// Location 是后端签发的不透明定位令牌
	Location string `gorm:"type:text;not null"`

	// SizeBytes 是样本信封的逻辑字节数 (摘要所覆盖的字节)
	SizeBytes int64

	CreatedAt time.Time
}

func (ContentRecord) TableName() string {
	return "content_records"
}

package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gridvault/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRefNotFound      = errors.New("reference not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
	ErrCommitNotFound   = errors.New("commit not found in metadata")
	ErrContentNotFound  = errors.New("content record not found")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 引用管理 (Refs / Branches / HEAD)
// -----------------------------------------------------------------------------

// GetRef 获取引用的当前指向 (例如 "refs/heads/main" -> Ref)
func (r *Repository) GetRef(ctx context.Context, name string) (*Ref, error) {
	var ref Ref
	err := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		First(&ref).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// UpdateRef 原子更新引用 (CAS - Compare And Swap)
// oldVersion: 之前读到的版本号。数据库里现在的版本号不等于它时说明有人抢先改了，更新失败。
// oldVersion == 0 表示第一次创建。
func (r *Repository) UpdateRef(ctx context.Context, name, target string, oldVersion int64) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 场景 A: 第一次创建 (Create)
		if oldVersion == 0 {
			ref := Ref{
				Name:    name,
				Target:  target,
				Version: 1,
			}
			if err := tx.Create(&ref).Error; err != nil {
				// 兼容性: 处理不同数据库 (PG 与 SQLite) 的唯一约束错误
				if errors.Is(err, gorm.ErrDuplicatedKey) ||
					strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return ErrConcurrentUpdate
				}
				return fmt.Errorf("failed to create ref: %w", err)
			}
			return nil
		}

		// 场景 B: 更新现有引用 (Update with CAS)
		result := tx.Model(&Ref{}).
			Where("name = ? AND version = ?", name, oldVersion).
			Updates(map[string]any{
				"target":     target,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})

		if result.Error != nil {
			return result.Error
		}
		// 影响行数为 0 说明 version 不匹配 (被人抢先改了)
		if result.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		return nil
	})
}

// DeleteRef 删除引用
func (r *Repository) DeleteRef(ctx context.Context, name string) error {
	result := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		Delete(&Ref{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefNotFound
	}
	return nil
}

// ListRefs 按名称前缀列出引用 (例如 "refs/heads/")
func (r *Repository) ListRefs(ctx context.Context, prefix string) ([]Ref, error) {
	var refs []Ref
	err := r.db.GetConn().WithContext(ctx).
		Where("name LIKE ?", prefix+"%").
		Order("name ASC").
		Find(&refs).Error
	return refs, err
}

// -----------------------------------------------------------------------------
// 2. 提交索引 (Commit Indexing)
// -----------------------------------------------------------------------------

// IndexCommit 把提交对象“投影”到 SQL 数据库中 (幂等写入)
func (r *Repository) IndexCommit(ctx context.Context, model *CommitModel) error {
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true, // Hash 已存在时忽略：提交是内容寻址的，重复索引无害
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to index commit: %w", err)
	}
	return nil
}

func (r *Repository) GetCommit(ctx context.Context, hash types.Digest) (*CommitModel, error) {
	var commit CommitModel
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", string(hash)).
		First(&commit).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommitNotFound
	}
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// FindCommitsByAuthor 利用 SQL 能力按作者查询历史
func (r *Repository) FindCommitsByAuthor(ctx context.Context, author string, limit int) ([]CommitModel, error) {
	if limit <= 0 {
		limit = -1 // gorm: 取消 LIMIT 子句
	}
	var commits []CommitModel
	err := r.db.GetConn().WithContext(ctx).
		Where("author = ?", author).
		Order("timestamp DESC").
		Limit(limit).
		Find(&commits).Error
	return commits, err
}

// -----------------------------------------------------------------------------
// 3. 内容记录 (CAS digest -> backend/location)
// -----------------------------------------------------------------------------

// PutContent 登记一条内容记录 (幂等)
func (r *Repository) PutContent(ctx context.Context, rec *ContentRecord) error {
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest"}},
			DoNothing: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to record content: %w", err)
	}
	return nil
}

func (r *Repository) GetContent(ctx context.Context, digest types.Digest) (*ContentRecord, error) {
	var rec ContentRecord
	err := r.db.GetConn().WithContext(ctx).
		Where("digest = ?", string(digest)).
		First(&rec).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasContent 只做存在性探测，避免把整行捞出来
func (r *Repository) HasContent(ctx context.Context, digest types.Digest) (bool, error) {
	var count int64
	err := r.db.GetConn().WithContext(ctx).
		Model(&ContentRecord{}).
		Where("digest = ?", string(digest)).
		Count(&count).Error
	return count > 0, err
}

// DeleteContent 删除内容记录 (GC sweep 阶段调用)
func (r *Repository) DeleteContent(ctx context.Context, digest types.Digest) error {
	result := r.db.GetConn().WithContext(ctx).
		Where("digest = ?", string(digest)).
		Delete(&ContentRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrContentNotFound
	}
	return nil
}

// ForEachContent 逐批遍历全部内容记录 (GC 的 sweep 输入)
// fn 返回 error 时中止遍历。
func (r *Repository) ForEachContent(ctx context.Context, fn func(ContentRecord) error) error {
	const batchSize = 512
	var batch []ContentRecord
	result := r.db.GetConn().WithContext(ctx).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			for _, rec := range batch {
				if err := fn(rec); err != nil {
					return err
				}
			}
			return nil
		})
	return result.Error
}

// SumContentBytes 返回全部内容记录的逻辑字节总量 (仓库摘要视图)
func (r *Repository) SumContentBytes(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.GetConn().WithContext(ctx).
		Model(&ContentRecord{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	return total, err
}

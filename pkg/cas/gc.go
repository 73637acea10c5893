package cas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridvault/pkg/backend"
	"gridvault/pkg/meta"
	"gridvault/pkg/types"
)

// Report 汇总一次回收的结果
type Report struct {
	Scanned    int           // 扫描的内容记录数
	Live       int           // 仍被引用的记录数
	Deleted    int           // 删除的记录数
	BytesFreed int64         // 释放的逻辑字节
	Elapsed    time.Duration
}

// GC 执行一次 mark-sweep 回收
//
// live 是 mark 阶段的结果：每个可达提交的清单 + 暂存区引用的全部摘要，
// 由调用方 (repo 层) 走提交图算出 —— CAS 自己不认识提交。
// 当前暂存引用 (已 put 未 commit 的窗口期) 在这里额外并入。
//
// 读者持有的是不可变提交，活提交引用的摘要必然在 live 里，
// 所以和并发读是安全的。每个被删位置的 backend delete 恰好调用一次。
func (s *Store) GC(ctx context.Context, live map[types.Digest]struct{}) (Report, error) {
	start := time.Now()
	var report Report

	// 暂存窗口期的引用也算活
	for d := range s.stagedDigests() {
		live[d] = struct{}{}
	}

	// sweep: 遍历全部内容记录，没有引用者的删掉
	var garbage []meta.ContentRecord
	err := s.meta.ForEachContent(ctx, func(rec meta.ContentRecord) error {
		report.Scanned++
		if _, ok := live[types.Digest(rec.Digest)]; ok {
			report.Live++
			return nil
		}
		garbage = append(garbage, rec)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("gc sweep scan failed: %w", err)
	}

	for _, rec := range garbage {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		be, ok := s.backends[types.BackendCode(rec.Backend)]
		if !ok {
			// 后端没打开 (比如 s3 未配置)；跳过，下次再收
			s.logger.Warn("gc: backend unavailable, skipping digest",
				"backend", rec.Backend, "digest", rec.Digest)
			continue
		}

		// 先删物理数据，再删记录：中途崩溃会留下悬空记录，
		// 下一轮 GC 的 Delete 会拿到 NotFound 并把记录补删掉。
		if err := be.Delete(ctx, types.Location(rec.Location)); err != nil && !errors.Is(err, backend.ErrNotFound) {
			s.logger.Warn("gc: backend delete failed",
				"backend", rec.Backend, "digest", rec.Digest, "err", err)
			continue
		}
		if err := s.meta.DeleteContent(ctx, types.Digest(rec.Digest)); err != nil &&
			!errors.Is(err, meta.ErrContentNotFound) {
			return report, fmt.Errorf("gc: failed to drop content record %s: %w", rec.Digest, err)
		}

		report.Deleted++
		report.BytesFreed += rec.SizeBytes
	}

	report.Elapsed = time.Since(start)
	s.logger.Info("gc finished",
		"scanned", report.Scanned, "live", report.Live,
		"deleted", report.Deleted, "elapsed", report.Elapsed)
	return report, nil
}

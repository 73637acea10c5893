package stage

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"gridvault/pkg/schema"
	"gridvault/pkg/types"

	"golang.org/x/sync/errgroup"
)

// BatchResult 是批量写入中单个样本的结局
type BatchResult struct {
	Key    types.SampleKey
	Digest types.Digest
	Err    error
}

// SetBatch 并发写入一批样本
//
// 语义是"尽力而为，成功的保持生效": 每个样本独立校验、独立入库，
// 某个样本失败不回滚其它样本，失败记录在它自己的 BatchResult.Err 里。
// 返回的 error 只报告整体性故障 (比如列不存在)。
//
// CAS put 是并发的 (受 CPU 数限流)，工作清单的更新和落盘在全部
// put 结束后一次完成。
func (s *Stage) SetBatch(ctx context.Context, column string, items map[types.SampleKey]schema.Sample) ([]BatchResult, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	col, ok := s.st.Working.Columns[column]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	sch := col.Schema

	var (
		resMu   sync.Mutex
		results = make([]BatchResult, 0, len(items))
		applied = make(map[types.SampleKey]types.Digest, len(items))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for key, sample := range items {
		g.Go(func() error {
			digest, err := s.putOne(gctx, sch, sample)

			resMu.Lock()
			defer resMu.Unlock()
			results = append(results, BatchResult{Key: key, Digest: digest, Err: err})
			if err == nil {
				applied[key] = digest
			}
			return nil // 单样本失败不取消整批
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 一次性应用全部成功样本
	if len(applied) > 0 {
		s.mu.Lock()
		col, ok := s.st.Working.Columns[column]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %q (dropped during batch)", ErrColumnNotFound, column)
		}
		for key, digest := range applied {
			if old, ok := col.Samples[key]; ok && old != digest {
				s.cas.Release(old)
			}
			col.Samples[key] = digest
		}
		s.st.Working.Columns[column] = col
		err := s.save()
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

// putOne 校验并写入单个样本 (不触碰工作清单)
func (s *Stage) putOne(ctx context.Context, sch schema.Schema, sample schema.Sample) (types.Digest, error) {
	if err := schema.Validate(sch, sample); err != nil {
		return "", err
	}
	_, raw, err := sample.Encode()
	if err != nil {
		return "", err
	}
	return s.cas.Put(ctx, sch.Backend, raw)
}

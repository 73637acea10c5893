package repo

import (
	"context"
	"fmt"

	"gridvault/pkg/codec"
	"gridvault/pkg/commitgraph"
	"gridvault/pkg/types"
)

// Exchange 是对象级的同步接口：把提交、清单、样本数据在仓库之间
// 搬运所需要的最小操作集。所有对象都是内容寻址的，接收端永远复验
// 摘要，所以传输层不需要额外的完整性机制。
type Exchange struct {
	repo *Repo
}

func (r *Repo) Exchange() *Exchange { return &Exchange{repo: r} }

// ExportCommit 导出提交的规范化字节
func (e *Exchange) ExportCommit(ctx context.Context, digest types.Digest) ([]byte, error) {
	c, err := e.repo.Graph.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}

// ImportCommit 导入一个外来提交
// 父提交与清单必须已经在本地 —— 按拓扑序先传祖先。
func (e *Exchange) ImportCommit(ctx context.Context, raw []byte) (*commitgraph.Commit, error) {
	return e.repo.Graph.Import(ctx, raw)
}

// ExportObject 导出任意哈希寻址对象 (清单增量等) 的原始字节
func (e *Exchange) ExportObject(ctx context.Context, digest types.Digest) ([]byte, error) {
	return e.repo.Objects.Get(digest)
}

// ImportObject 导入一个哈希寻址对象；摘要不匹配时拒绝
func (e *Exchange) ImportObject(ctx context.Context, digest types.Digest, raw []byte) error {
	if got := codec.DigestBytes(raw); got != digest {
		return fmt.Errorf("object digest mismatch: claimed %s, got %s", digest, got)
	}
	return e.repo.Objects.Put(digest, raw)
}

// HasContent 探测样本数据是否已在本地 (同步时跳过已有内容)
func (e *Exchange) HasContent(ctx context.Context, digest types.Digest) (bool, error) {
	return e.repo.CAS.Has(ctx, digest)
}

// ExportContent 导出样本数据的规范化字节
func (e *Exchange) ExportContent(ctx context.Context, digest types.Digest) ([]byte, error) {
	return e.repo.CAS.Get(ctx, digest)
}

// ImportContent 导入样本数据到指定后端
// CAS put 自带去重与摘要计算，重复导入无害。
func (e *Exchange) ImportContent(ctx context.Context, code types.BackendCode, raw []byte) (types.Digest, error) {
	return e.repo.CAS.Put(ctx, code, raw)
}

// KnownCommits 返回 tips 中本地已有部分的可达提交集合，
// 供推送方计算需要传输的差集。
func (e *Exchange) KnownCommits(ctx context.Context, tips []types.Digest) (map[types.Digest]struct{}, error) {
	known := map[types.Digest]struct{}{}
	for _, tip := range tips {
		ok, err := e.repo.Graph.Has(ctx, tip)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		reach, err := e.repo.Graph.Reachable(ctx, tip)
		if err != nil {
			return nil, err
		}
		for d := range reach {
			known[d] = struct{}{}
		}
	}
	return known, nil
}

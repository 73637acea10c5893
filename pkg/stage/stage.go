// Package stage 实现暂存区：仓库里唯一可变的清单。
// 所有写操作 (定义列、写样本、删样本) 都先落在这里，commit 时整体
// 封口成不可变清单。状态持久化为 JSON，崩溃后可以原样恢复。
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"gridvault/pkg/cas"
	"gridvault/pkg/diff"
	"gridvault/pkg/manifest"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"
)

var (
	ErrColumnNotFound = errors.New("column not found in staging area")
	ErrKeyNotFound    = errors.New("sample key not found")
)

// state 是落盘的部分
type state struct {
	// BaseCommit 是暂存区基于的提交；空仓库为零值
	BaseCommit types.Digest `json:"base_commit,omitempty"`
	// Base 是 BaseCommit 的清单快照 (diff 的左侧)
	Base *manifest.Manifest `json:"base"`
	// Working 是正在累积变更的清单 (diff 的右侧)
	Working *manifest.Manifest `json:"working"`
}

// WriteGuard 在每次暂存区修改前被询问一次
// 返回非 nil 错误时修改被拒绝，错误原样透传给调用方。会话层用它
// 保证所有修改都发生在打开的写 checkout 里。
type WriteGuard func() error

// Stage 管理暂存区状态
type Stage struct {
	path string // 物理文件路径 (.gv/stage.json)
	cas  *cas.Store

	mu    sync.RWMutex
	st    state
	guard WriteGuard
}

// SetGuard 注册写入门禁；nil 表示不设防 (库内测试用)
func (s *Stage) SetGuard(g WriteGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = g
}

func (s *Stage) checkWritable() error {
	s.mu.RLock()
	g := s.guard
	s.mu.RUnlock()
	if g != nil {
		return g()
	}
	return nil
}

// Load 加载或创建暂存区
func Load(path string, casStore *cas.Store) (*Stage, error) {
	s := &Stage{
		path: path,
		cas:  casStore,
		st:   state{Base: manifest.New(), Working: manifest.New()},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staging area: %w", err)
	}
	if err := json.Unmarshal(data, &s.st); err != nil {
		return nil, fmt.Errorf("corrupted staging area file: %w", err)
	}
	if s.st.Base == nil {
		s.st.Base = manifest.New()
	}
	if s.st.Working == nil {
		s.st.Working = manifest.New()
	}
	return s, nil
}

// save 持久化当前状态；调用方必须持有写锁
func (s *Stage) save() error {
	data, err := json.MarshalIndent(&s.st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Reset 把暂存区重置到指定提交的清单上，丢弃全部未提交变更
func (s *Stage) Reset(baseCommit types.Digest, base *manifest.Manifest) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.BaseCommit = baseCommit
	s.st.Base = base.Clone()
	s.st.Working = base.Clone()
	s.cas.ResetStaged()
	return s.save()
}

// Rebase 把暂存区的基线换到新提交上，保留 working 不变
// commit 之后调用：working 刚刚变成了新提交的清单。
func (s *Stage) Rebase(baseCommit types.Digest) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.BaseCommit = baseCommit
	s.st.Base = s.st.Working.Clone()
	s.cas.ResetStaged()
	return s.save()
}

// BaseCommit 返回暂存区基于的提交摘要
func (s *Stage) BaseCommit() types.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.BaseCommit
}

// Working 返回工作清单的快照
func (s *Stage) Working() *manifest.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Working.Clone()
}

// Base 返回基线清单的快照
func (s *Stage) Base() *manifest.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Base.Clone()
}

// Dirty 判断是否有未提交变更
func (s *Stage) Dirty() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eq, err := s.st.Working.Equal(s.st.Base)
	return !eq, err
}

// Status 返回工作清单相对基线的差异
func (s *Stage) Status() diff.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return diff.Diff(s.st.Base, s.st.Working)
}

// DefineColumn 在暂存区定义 (或重定义) 一个列
// 列已存在时，只有逐字段一致的重定义会被接受 —— 这是幂等操作，
// 其它任何差异都是 schema.ErrConflict。
func (s *Stage) DefineColumn(sch schema.Schema) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := sch.Check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.st.Working.Columns[sch.Name]; ok {
		if !existing.Schema.Equal(sch) {
			return fmt.Errorf("%w: column %q is already defined with a different schema",
				schema.ErrConflict, sch.Name)
		}
		return nil
	}

	// 列在本会话被 drop 过但仍存在于基准提交里: 换一个不兼容的
	// schema 重建同名列会让历史 diff 无法解读，拒绝。
	if historic, ok := s.st.Base.Columns[sch.Name]; ok && !historic.Schema.Equal(sch) {
		return fmt.Errorf("%w: column %q exists in the base commit with a different schema",
			schema.ErrConflict, sch.Name)
	}

	s.st.Working.Columns[sch.Name] = manifest.ColumnManifest{
		Schema:  sch,
		Samples: map[types.SampleKey]types.Digest{},
	}
	return s.save()
}

// DropColumn 从工作清单里移除整个列
func (s *Stage) DropColumn(name string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.st.Working.Columns[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}

	// 本次会话新增的引用要释放掉
	baseCol, inBase := s.st.Base.Columns[name]
	for key, digest := range col.Samples {
		if !inBase || baseCol.Samples[key] != digest {
			s.cas.Release(digest)
		}
	}

	delete(s.st.Working.Columns, name)
	return s.save()
}

// Set 校验并写入一个样本，返回内容摘要
// 校验失败时不会有任何存储写入发生。
func (s *Stage) Set(ctx context.Context, column string, key types.SampleKey, sample schema.Sample) (types.Digest, error) {
	if err := s.checkWritable(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ctx, column, key, sample)
}

func (s *Stage) setLocked(ctx context.Context, column string, key types.SampleKey, sample schema.Sample) (types.Digest, error) {
	col, ok := s.st.Working.Columns[column]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	if err := schema.Validate(col.Schema, sample); err != nil {
		return "", err
	}

	_, raw, err := sample.Encode()
	if err != nil {
		return "", err
	}
	digest, err := s.cas.Put(ctx, col.Schema.Backend, raw)
	if err != nil {
		return "", err
	}

	if old, ok := col.Samples[key]; ok && old != digest {
		s.cas.Release(old)
	}
	col.Samples[key] = digest
	s.st.Working.Columns[column] = col
	return digest, s.save()
}

// Get 从暂存区读回一个样本
func (s *Stage) Get(ctx context.Context, column string, key types.SampleKey) (schema.Sample, error) {
	s.mu.RLock()
	col, ok := s.st.Working.Columns[column]
	if !ok {
		s.mu.RUnlock()
		return schema.Sample{}, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	digest, ok := col.Samples[key]
	s.mu.RUnlock()
	if !ok {
		return schema.Sample{}, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, column, key)
	}

	raw, err := s.cas.Get(ctx, digest)
	if err != nil {
		return schema.Sample{}, err
	}
	return schema.DecodeSample(raw)
}

// Remove 从工作清单里删掉一个样本键
func (s *Stage) Remove(column string, key types.SampleKey) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.st.Working.Columns[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	digest, ok := col.Samples[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrKeyNotFound, column, key)
	}

	s.cas.Release(digest)
	delete(col.Samples, key)
	s.st.Working.Columns[column] = col
	return s.save()
}

// Clean 丢弃全部未提交变更，工作清单回到基线
func (s *Stage) Clean() error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Working = s.st.Base.Clone()
	s.cas.ResetStaged()
	return s.save()
}

// Package commitgraph 实现提交对象与提交图遍历。
// 提交是内容寻址的不可变对象：摘要覆盖清单指针、父提交、作者与消息，
// 所以历史一旦写入就无法篡改。
package commitgraph

import (
	"fmt"
	"time"

	"gridvault/pkg/codec"
	"gridvault/pkg/types"
)

const typeCommit = "commit"

// Commit 是一次提交的真身 (规范化 CBOR 编码)
type Commit struct {
	digest   types.Digest `cbor:"-"`
	rawBytes []byte       `cbor:"-"`

	TypeVal string `cbor:"t"`

	// Manifest 指向本提交的完整清单
	Manifest codec.Link `cbor:"mf"`

	// Parents: 普通提交 1 个，合并提交 2 个，根提交 0 个
	Parents []codec.Link `cbor:"p"`

	Author  string `cbor:"a"`
	Email   string `cbor:"e"`
	Message string `cbor:"m"`

	// Unix 时间戳
	Timestamp int64 `cbor:"ts"`
}

// New 构造并封口一个提交对象
func New(manifestDigest types.Digest, parents []types.Digest, author, email, msg string) (*Commit, error) {
	parentLinks := make([]codec.Link, len(parents))
	for i, p := range parents {
		parentLinks[i] = codec.NewLink(p)
	}

	c := &Commit{
		TypeVal:   typeCommit,
		Manifest:  codec.NewLink(manifestDigest),
		Parents:   parentLinks,
		Author:    author,
		Email:     email,
		Message:   msg,
		Timestamp: time.Now().Unix(),
	}
	if err := c.seal(); err != nil {
		return nil, err
	}
	return c, nil
}

// seal 计算并缓存摘要与规范化字节
func (c *Commit) seal() error {
	d, b, err := codec.HashObject(c)
	if err != nil {
		return fmt.Errorf("failed to seal commit: %w", err)
	}
	c.digest = d
	c.rawBytes = b
	return nil
}

// Decode 从规范化字节重建提交并复验摘要
func Decode(raw []byte) (*Commit, error) {
	var c Commit
	if err := codec.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode commit: %w", err)
	}
	if c.TypeVal != typeCommit {
		return nil, fmt.Errorf("object is not a commit (type %q)", c.TypeVal)
	}
	if err := c.seal(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Commit) Digest() types.Digest { return c.digest }
func (c *Commit) Bytes() []byte        { return c.rawBytes }

// Tagged 返回外部渲染形式 "a=<40 hex>"
func (c *Commit) Tagged() string { return types.Tagged(types.TagCommit, c.digest) }

// ManifestDigest 返回清单摘要
func (c *Commit) ManifestDigest() types.Digest { return c.Manifest.Digest }

// ParentDigests 返回父提交摘要 (保序)
func (c *Commit) ParentDigests() []types.Digest {
	out := make([]types.Digest, len(c.Parents))
	for i, p := range c.Parents {
		out[i] = p.Digest
	}
	return out
}

// IsMerge 判断是不是合并提交
func (c *Commit) IsMerge() bool { return len(c.Parents) > 1 }

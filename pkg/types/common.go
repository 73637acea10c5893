// pkg/types/common.go
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Digest 代表一份内容的唯一标识符 (BLAKE3-160 Hex String, 40 字符)
// 这是一个“值对象”，应当是不可变的。
type Digest string

func (d Digest) String() string { return string(d) }

// 验证 Digest 合法性
func (d Digest) IsZero() bool  { return d == "" }
func (d Digest) IsValid() bool { return len(d) == 40 } // 简单的长度检查

// ObjectTag 区分不同类型的哈希寻址对象
// 渲染格式: <tag>=<40 hex>，例如 "a=1f9a..."
type ObjectTag byte

const (
	TagCommit   ObjectTag = 'a' // 普通/合并提交
	TagManifest ObjectTag = 'm' // 清单 (manifest) 摘要
)

// Tagged 把 Digest 渲染为带类型标记的外部形式
func Tagged(tag ObjectTag, d Digest) string {
	return string(tag) + "=" + string(d)
}

// ParseTagged 解析 "<tag>=<hex>" 形式的外部标识符
func ParseTagged(s string) (ObjectTag, Digest, error) {
	if len(s) < 3 || s[1] != '=' {
		return 0, "", fmt.Errorf("malformed tagged digest %q", s)
	}
	tag := ObjectTag(s[0])
	d := Digest(s[2:])
	if !d.IsValid() {
		return 0, "", fmt.Errorf("malformed tagged digest %q: bad hex length", s)
	}
	switch tag {
	case TagCommit, TagManifest:
		return tag, d, nil
	default:
		return 0, "", fmt.Errorf("unknown object tag %q", string(tag))
	}
}

// BackendCode 是两字符的存储后端格式码
// 约定 (沿用既有记录格式，禁止更改已分配的码):
//   - 首字符为小写字母或 '0'..'4' -> 本地存储
//   - 首字符为大写字母或 '5'..'9' -> 远端存储
type BackendCode string

func (c BackendCode) IsValid() bool { return len(c) == 2 }

func (c BackendCode) IsLocal() bool {
	if !c.IsValid() {
		return false
	}
	ch := c[0]
	return (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '4')
}

// Location 是后端内部的定位令牌，对上层完全不透明
// 只有签发它的后端知道如何解释它。
type Location string

func (l Location) String() string { return string(l) }

// SampleKey 标识列内的一个样本。键要么是整数，要么是字符串。
// 内部编码: 整数键渲染为 "#<decimal>"，字符串键原样存储 (不允许以 '#' 开头)，
// 这样同一个 map 即可容纳两种键且排序稳定。
type SampleKey string

// IntKey 构造整数样本键
func IntKey(i int64) SampleKey {
	return SampleKey("#" + strconv.FormatInt(i, 10))
}

// StrKey 构造字符串样本键
// 拒绝空串与 '#' 前缀，防止和整数键的编码空间冲突。
func StrKey(s string) (SampleKey, error) {
	if s == "" {
		return "", fmt.Errorf("sample key cannot be empty")
	}
	if strings.HasPrefix(s, "#") {
		return "", fmt.Errorf("string sample key cannot start with '#'")
	}
	return SampleKey(s), nil
}

// IsInt 判断这是不是一个整数键
func (k SampleKey) IsInt() bool { return strings.HasPrefix(string(k), "#") }

// Int 返回整数键的数值，非整数键返回 false
func (k SampleKey) Int() (int64, bool) {
	if !k.IsInt() {
		return 0, false
	}
	v, err := strconv.ParseInt(string(k[1:]), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (k SampleKey) String() string { return string(k) }

// SchemaKey 在一个提交的清单内唯一命名一个列
type SchemaKey struct {
	Column string `json:"column" cbor:"c"`
	Layout string `json:"layout" cbor:"l"`
}

func (k SchemaKey) String() string {
	return fmt.Sprintf("(%s, %s)", k.Column, k.Layout)
}

type RepoPath string

package codec

import (
	"encoding/hex"
	"fmt"

	"gridvault/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// 定义符合 DAG-CBOR 规范的编码选项
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	// 保证相同的对象生成唯一的 Digest
	Sort: cbor.SortCanonical,

	// 2. 浮点数必须使用 64 位表示
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间格式化为 Unix 整数
	// 禁止自动生成 Tag 0/1 (RFC 3339 字符串)
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码 (Indefinite Length)
	// 数组和 Map 必须在头部声明长度
	IndefLength: cbor.IndefLengthForbidden,

	// 5. 大整数使用最短编码
	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

// 定义符合 DAG-CBOR 规范的解码选项
var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS) ---
	// 限制容器元素数量和嵌套深度
	MaxArrayElements: 131072,
	MaxMapPairs:      131072,
	MaxNestedLevels:  100,

	// --- 规范性配置 ---
	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// digestSize 是内容摘要的字节长度 (BLAKE3 截断至 160 bit，渲染为 40 hex 字符)
const digestSize = 20

// DigestBytes 计算原始字节的内容摘要
func DigestBytes(data []byte) types.Digest {
	sum := blake3.Sum256(data)
	return types.Digest(hex.EncodeToString(sum[:digestSize]))
}

// HashObject 计算对象的 Digest 和规范化序列化数据
// 同一个对象的编码字节与 Digest 必须永远一致。
func HashObject(v any) (types.Digest, []byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return DigestBytes(data), data, nil
}

// Marshal 以规范化形式编码对象 (不计算摘要)
func Marshal(v any) ([]byte, error) {
	return em.Marshal(v)
}

// Unmarshal 通用的严格解码函数
func Unmarshal(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}

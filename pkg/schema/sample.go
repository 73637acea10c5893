package schema

import (
	"fmt"
	"unicode/utf8"

	"gridvault/pkg/codec"
	"gridvault/pkg/types"
)

// Sample 是进入 CAS 之前的样本信封
// 摘要基于它的规范化编码计算，因此相同的 (kind, dtype, shape, data)
// 必然产生相同的 Digest —— 这是去重与 diff 的基础。
type Sample struct {
	Kind  Kind    `cbor:"k"`
	DType DType   `cbor:"d,omitempty"`
	Shape []int64 `cbor:"s,omitempty"`
	Data  []byte  `cbor:"b"`
}

// ArraySample 构造一个数组样本信封
func ArraySample(dtype DType, shape []int64, data []byte) Sample {
	return Sample{Kind: KindArray, DType: dtype, Shape: shape, Data: data}
}

// StrSample 构造一个字符串样本信封
func StrSample(s string) Sample {
	return Sample{Kind: KindStr, Data: []byte(s)}
}

// Str 返回字符串样本的内容
func (s Sample) Str() string { return string(s.Data) }

// NumElements 返回形状声明的元素总数
func (s Sample) NumElements() int64 {
	n := int64(1)
	for _, dim := range s.Shape {
		n *= dim
	}
	return n
}

// Encode 返回样本的规范化字节与内容摘要
func (s Sample) Encode() (types.Digest, []byte, error) {
	return codec.HashObject(s)
}

// DecodeSample 从规范化字节还原样本信封
func DecodeSample(data []byte) (Sample, error) {
	var s Sample
	if err := codec.Unmarshal(data, &s); err != nil {
		return Sample{}, fmt.Errorf("corrupted sample envelope: %w", err)
	}
	return s, nil
}

// Validate 检查候选样本是否精确满足列 schema
// 纯函数，无副作用；必须在任何 CAS put 之前执行。
func Validate(sch Schema, sample Sample) error {
	if sample.Kind != sch.Kind {
		return fmt.Errorf("%w: column %q expects kind %q, got %q",
			ErrViolation, sch.Name, sch.Kind, sample.Kind)
	}

	if sch.Kind == KindStr {
		if !utf8.Valid(sample.Data) {
			return fmt.Errorf("%w: column %q: str sample is not valid UTF-8", ErrViolation, sch.Name)
		}
		if len(sample.Shape) != 0 || sample.DType != "" {
			return fmt.Errorf("%w: column %q: str sample cannot carry dtype/shape", ErrViolation, sch.Name)
		}
		return nil
	}

	// array 列
	if sample.DType != sch.DType {
		return fmt.Errorf("%w: column %q expects dtype %q, got %q",
			ErrViolation, sch.Name, sch.DType, sample.DType)
	}
	if len(sample.Shape) != len(sch.Shape) {
		return fmt.Errorf("%w: column %q expects rank %d, got rank %d",
			ErrViolation, sch.Name, len(sch.Shape), len(sample.Shape))
	}
	for i, dim := range sample.Shape {
		if dim <= 0 {
			return fmt.Errorf("%w: column %q: dimension %d must be positive, got %d",
				ErrViolation, sch.Name, i, dim)
		}
		switch sch.Policy {
		case PolicyFixed:
			// 固定形状: 逐维精确匹配
			if dim != sch.Shape[i] {
				return fmt.Errorf("%w: column %q expects fixed shape %v, got %v",
					ErrViolation, sch.Name, sch.Shape, sample.Shape)
			}
		case PolicyVariable:
			// 可变形状: 每一维 <= 声明的上界
			if dim > sch.Shape[i] {
				return fmt.Errorf("%w: column %q: dimension %d exceeds bound %d (got %d)",
					ErrViolation, sch.Name, i, sch.Shape[i], dim)
			}
		}
	}

	// 字节长度必须与 dtype * 元素个数严格一致
	want := sample.NumElements() * int64(sch.DType.Size())
	if int64(len(sample.Data)) != want {
		return fmt.Errorf("%w: column %q: payload is %d bytes, shape %v with dtype %q requires %d",
			ErrViolation, sch.Name, len(sample.Data), sample.Shape, sch.DType, want)
	}
	return nil
}

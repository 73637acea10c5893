package schema

import (
	"errors"
	"fmt"
	"slices"

	"gridvault/pkg/types"
)

var (
	// ErrViolation 样本不满足列 schema (总是在任何存储写入之前检测到)
	ErrViolation = errors.New("schema violation")
	// ErrConflict 列重定义与既有 schema 不兼容
	ErrConflict = errors.New("schema conflict")
)

// Kind 区分列的取值类别
type Kind string

const (
	KindArray Kind = "array" // 数值数组样本
	KindStr   Kind = "str"   // 字符串样本
)

// Policy 区分形状策略
type Policy string

const (
	PolicyFixed    Policy = "fixed"    // 每个样本形状必须与 Shape 完全一致
	PolicyVariable Policy = "variable" // 秩一致，每一维 <= Shape 声明的上界
)

// DType 是数组元素类型
type DType string

const (
	UInt8   DType = "uint8"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size 返回元素的字节宽度，未知类型返回 0
func (d DType) Size() int {
	switch d {
	case UInt8:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Schema 是一个列的完整定义
// 一旦某个可达提交里存在该列的样本，schema 即不可变。
type Schema struct {
	Name        string            `json:"name" cbor:"n"`
	Layout      string            `json:"layout" cbor:"l"` // 目前只有 "flat"
	Kind        Kind              `json:"kind" cbor:"k"`
	Policy      Policy            `json:"policy,omitempty" cbor:"p,omitempty"` // 仅 array 有意义
	DType       DType             `json:"dtype,omitempty" cbor:"d,omitempty"`  // 仅 array 有意义
	Shape       []int64           `json:"shape,omitempty" cbor:"s,omitempty"`  // fixed: 精确形状; variable: 每维上界
	Backend     types.BackendCode `json:"backend" cbor:"b"`
	BackendOpts map[string]string `json:"backend_opts,omitempty" cbor:"o,omitempty"`
}

const DefaultLayout = "flat"

// Key 返回此列在清单内的结构化标识符
func (s Schema) Key() types.SchemaKey {
	return types.SchemaKey{Column: s.Name, Layout: s.Layout}
}

// Equal 判断两个 schema 是否逐字段一致
// 列重定义只有在完全一致时才被接受。
func (s Schema) Equal(other Schema) bool {
	if s.Name != other.Name || s.Layout != other.Layout ||
		s.Kind != other.Kind || s.Policy != other.Policy ||
		s.DType != other.DType || s.Backend != other.Backend {
		return false
	}
	if !slices.Equal(s.Shape, other.Shape) {
		return false
	}
	if len(s.BackendOpts) != len(other.BackendOpts) {
		return false
	}
	for k, v := range s.BackendOpts {
		if other.BackendOpts[k] != v {
			return false
		}
	}
	return true
}

// Check 校验 schema 自身定义的合法性 (在 Define 时调用一次)
func (s Schema) Check() error {
	if s.Name == "" {
		return fmt.Errorf("%w: column name cannot be empty", ErrConflict)
	}
	if s.Layout == "" {
		return fmt.Errorf("%w: layout cannot be empty", ErrConflict)
	}
	if !s.Backend.IsValid() {
		return fmt.Errorf("%w: invalid backend code %q", ErrConflict, s.Backend)
	}
	switch s.Kind {
	case KindStr:
		if len(s.Shape) != 0 || s.DType != "" {
			return fmt.Errorf("%w: str column cannot declare dtype/shape", ErrConflict)
		}
	case KindArray:
		if s.DType.Size() == 0 {
			return fmt.Errorf("%w: unknown dtype %q", ErrConflict, s.DType)
		}
		if s.Policy != PolicyFixed && s.Policy != PolicyVariable {
			return fmt.Errorf("%w: unknown shape policy %q", ErrConflict, s.Policy)
		}
		if len(s.Shape) == 0 {
			return fmt.Errorf("%w: array column requires a shape", ErrConflict)
		}
		for _, dim := range s.Shape {
			if dim <= 0 {
				return fmt.Errorf("%w: shape dimensions must be positive, got %v", ErrConflict, s.Shape)
			}
		}
	default:
		return fmt.Errorf("%w: unknown value kind %q", ErrConflict, s.Kind)
	}
	return nil
}

package schema

import "gridvault/pkg/types"

// 后端格式码分配表 (已分配的码是永久且不可变的):
//
//	"10" bulkdir — 每样本一个平铺文件，适合小型表格类行数据
//	"01" zblob   — 压缩 blob 容器，适合较大的固定形状数组
//	"30" strkv   — 嵌入式 KV，适合小字符串样本
//	"50" s3      — 远端 S3 兼容存储
const (
	BackendBulkDir types.BackendCode = "10"
	BackendZBlob   types.BackendCode = "01"
	BackendStrKV   types.BackendCode = "30"
	BackendS3      types.BackendCode = "50"
)

// KnownBackend 判断格式码是否已分配
func KnownBackend(code types.BackendCode) bool {
	switch code {
	case BackendBulkDir, BackendZBlob, BackendStrKV, BackendS3:
		return true
	default:
		return false
	}
}

// BackendFromHeuristics 根据原型样本推断合适的后端
// 未显式指定后端时由 Define 调用。
func BackendFromHeuristics(proto Sample, variable bool) types.BackendCode {
	if proto.Kind == KindStr {
		return BackendStrKV
	}
	// 小型一维定形数据 (CSV 之类的行数据) 用平铺文件最划算
	if !variable && len(proto.Shape) == 1 && proto.NumElements() < 400 {
		return BackendBulkDir
	}
	// 其余 (大数组、变形数组) 都走压缩容器
	return BackendZBlob
}

// DefaultBackendOpts 给出后端的默认选项
func DefaultBackendOpts(code types.BackendCode) map[string]string {
	switch code {
	case BackendZBlob:
		// zstd 是默认压缩；lz4 作为低延迟备选
		return map[string]string{"complib": "zstd", "complevel": "3"}
	default:
		return nil
	}
}

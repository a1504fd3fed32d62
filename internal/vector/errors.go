package vector

import "errors"

// 向量库错误分类，调用方使用 errors.Is 判断
var (
	// ErrStoreUnavailable 向量库不可达，本轮同步失败，下一轮可恢复
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrSchemaConflict 已有集合维度与配置不一致，需要人工处理
	ErrSchemaConflict = errors.New("vector collection schema conflict")
	// ErrWriteFailed 批量写入失败，整批视为未写入
	ErrWriteFailed = errors.New("vector write failed")
)

// IsFatal reports whether err needs operator intervention rather than a retry on the next run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSchemaConflict)
}

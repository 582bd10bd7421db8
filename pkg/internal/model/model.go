// Package model 定义持久化到元数据库的 gorm 模型.
package model

// AllModels 返回需要迁移的全部模型.
func AllModels() []any {
	return []any{
		&UploadSession{},
		&UploadPart{},
		&File{},
		&FileShare{},
		&StorageUsage{},
		&FileChange{},
	}
}

package model

import "time"

// ChangeOp 文件变更类型.
type ChangeOp string

const (
	ChangeInsert  ChangeOp = "insert"
	ChangeUpdate  ChangeOp = "update"
	ChangeDelete  ChangeOp = "delete"
	ChangeReplace ChangeOp = "replace"
)

// FileChange outbox 记录，与它描述的变更在同一事务内写入.
type FileChange struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID    string    `gorm:"size:36;index"            json:"file_id"`
	UserID    string    `gorm:"size:255"                 json:"user_id"`
	Op        ChangeOp  `gorm:"size:16"                  json:"op"`
	CreatedAt time.Time `gorm:"index"                    json:"created_at"`
}

package model

import (
	"time"

	"gorm.io/gorm"
)

// File 上传完成后的文件记录.
//
// Path 只是逻辑标签，不对应目录层级；WholeFingerprint 预留给跨文件去重.
type File struct {
	ID               string         `gorm:"primaryKey;size:36"                            json:"id"`
	UserID           string         `gorm:"size:255;index"                                json:"user_id"`
	Filename         string         `gorm:"size:512;index"                                json:"filename"`
	Path             string         `gorm:"size:1024"                                     json:"path"`
	Size             int64          `json:"size"`
	MimeType         string         `gorm:"size:255"                                      json:"mime_type"`
	StorageKey       string         `gorm:"size:1024;uniqueIndex"                         json:"-"`
	WholeFingerprint string         `gorm:"size:64"                                       json:"whole_fingerprint"`
	Status           SessionStatus  `gorm:"size:16"                                       json:"status"`
	Version          int64          `gorm:"not null;default:1"                            json:"version"`
	Shares           []FileShare    `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index"                                         json:"deleted_at,omitempty"`
}

// IsDeleted 是否已软删除.
func (f *File) IsDeleted() bool {
	return f.DeletedAt.Valid
}

// FileShare 文件的只读共享.
type FileShare struct {
	FileID    string    `gorm:"primaryKey;size:36"  json:"file_id"`
	UserID    string    `gorm:"primaryKey;size:255" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

package model

import "time"

// SessionStatus 上传会话状态，只会按 pending → uploading → completed|failed 单向流转.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionUploading SessionStatus = "uploading"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal 是否为终态.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// UploadSession 一次分片上传会话，ID 同时作为最终文件 ID.
//
// ChunkSize 在创建时固定，配置变更不影响进行中的会话.
// UploadHandle 是对象存储的 multipart upload id，完成后清空.
// ClaimToken 非空表示 Complete 正在进行，此时 Abort 不能抢占.
type UploadSession struct {
	ID               string        `gorm:"primaryKey;size:36"          json:"id"`
	UserID           string        `gorm:"size:255;index"              json:"user_id"`
	Filename         string        `gorm:"size:512"                    json:"filename"`
	Path             string        `gorm:"size:1024"                   json:"path"`
	Size             int64         `json:"size"`
	MimeType         string        `gorm:"size:255"                    json:"mime_type"`
	ChunkSize        int64         `json:"chunk_size"`
	PartCount        int           `json:"part_count"`
	StorageKey       string        `gorm:"size:1024;uniqueIndex"       json:"-"`
	UploadHandle     string        `gorm:"size:1024"                   json:"upload_handle"`
	Status           SessionStatus `gorm:"size:16;index"               json:"status"`
	WholeFingerprint string        `gorm:"size:64"                     json:"whole_fingerprint,omitempty"`
	ClaimToken       string        `gorm:"size:36;not null;default:''" json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `gorm:"index"                       json:"updated_at"`
}

// UploadPart 已确认写入对象存储的分片，(SessionID, PartNumber) 唯一.
type UploadPart struct {
	SessionID   string    `gorm:"primaryKey;size:36;autoIncrement:false" json:"session_id"`
	PartNumber  int       `gorm:"primaryKey;autoIncrement:false"         json:"part_number"`
	Fingerprint string    `gorm:"size:64"                                json:"fingerprint"`
	Checksum    string    `gorm:"size:128"                               json:"checksum"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

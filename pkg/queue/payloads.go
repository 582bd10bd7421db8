package queue

import "time"

// EventHeader 定义所有事件的通用头部元数据.
type EventHeader struct {
	// Topic 冗余记录消息主题，便于离线处理时定位来源.
	Topic string `json:"topic"`
	// TraceID 分布式追踪 ID.
	TraceID string `json:"trace_id,omitempty"`
	// Producer 生产者节点标识.
	Producer string `json:"producer,omitempty"`
	// OccurredAt 事件发生时间（UTC）.
	OccurredAt time.Time `json:"occurred_at"`
	// Version 负载版本.
	Version string `json:"version,omitempty"`
}

// Message 是统一的消息封装，Header + Payload.
type Message[T any] struct {
	Header  EventHeader `json:"header"`
	Payload T           `json:"payload"`
}

// FileDoc 变更后的完整文件文档，包含不可下发给客户端的字段.
type FileDoc struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Filename         string     `json:"filename"`
	Path             string     `json:"path"`
	Size             int64      `json:"size"`
	MimeType         string     `json:"mime_type"`
	StorageKey       string     `json:"storage_key"`
	WholeFingerprint string     `json:"whole_fingerprint"`
	Status           string     `json:"status"`
	Version          int64      `json:"version"`
	SharedWith       []string   `json:"shared_with,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// FileChangedPayload sv.file.changed 的负载.
// Document 在 delete 时为空，此时 OwnerID 来自 outbox 记录.
type FileChangedPayload struct {
	ChangeID uint64   `json:"change_id"`
	Op       string   `json:"op"`
	FileID   string   `json:"file_id"`
	OwnerID  string   `json:"owner_id"`
	Document *FileDoc `json:"document,omitempty"`
}

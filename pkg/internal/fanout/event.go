package fanout

import (
	"time"

	"github.com/yeisme/syncvault/pkg/internal/feed"
	"github.com/yeisme/syncvault/pkg/internal/model"
)

// ChangeEvent 下发给客户端的变更，只含可以离开服务端的字段.
type ChangeEvent struct {
	Type string    `json:"type"`
	File FileState `json:"file"`
}

// FileState 变更后的文件状态.Status 与 UploadStatus 相同，均为上传状态；回收站由 IsDeleted 表示.
// delete 事件只带 ID.
type FileState struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename,omitempty"`
	Size         int64      `json:"size,omitempty"`
	MimeType     string     `json:"mimeType,omitempty"`
	Path         string     `json:"path,omitempty"`
	Status       string     `json:"status,omitempty"`
	UploadStatus string     `json:"uploadStatus,omitempty"`
	IsDeleted    *bool      `json:"isDeleted,omitempty"`
	Version      int64      `json:"version,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// Sanitize 将变更转换为事件并解析所有者；无法确定所有者时 ok 为 false.
func Sanitize(m feed.Mutation) (ev ChangeEvent, owner string, ok bool) {
	if m.Op == string(model.ChangeDelete) {
		if m.FileID == "" || m.OwnerID == "" {
			return ChangeEvent{}, "", false
		}

		return ChangeEvent{Type: m.Op, File: FileState{ID: m.FileID}}, m.OwnerID, true
	}

	doc := m.Document
	if doc == nil || doc.UserID == "" {
		return ChangeEvent{}, "", false
	}

	deleted := doc.DeletedAt != nil
	created, updated := doc.CreatedAt, doc.UpdatedAt

	return ChangeEvent{
		Type: m.Op,
		File: FileState{
			ID:           doc.ID,
			Filename:     doc.Filename,
			Size:         doc.Size,
			MimeType:     doc.MimeType,
			Path:         doc.Path,
			Status:       doc.Status,
			UploadStatus: doc.Status,
			IsDeleted:    &deleted,
			Version:      doc.Version,
			CreatedAt:    &created,
			UpdatedAt:    &updated,
		},
	}, doc.UserID, true
}

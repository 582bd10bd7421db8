package types

import "time"

// FileView 文件记录的对外视图，不含存储位置.
type FileView struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimeType"`
	Status     string    `json:"status"`
	Version    int64     `json:"version"`
	IsDeleted  bool      `json:"isDeleted"`
	SharedWith []string  `json:"sharedWith,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// FileListQuery 列表分页参数.
type FileListQuery struct {
	Limit  int `form:"limit"  rule:"omitempty,min=1,max=500"`
	Offset int `form:"offset" rule:"omitempty,min=0"`
}

// FileListResponse 文件列表.
type FileListResponse struct {
	Files  []FileView `json:"files"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// RenameFileRequest 修改文件名或逻辑路径，至少提供一项.
type RenameFileRequest struct {
	Filename *string `json:"filename,omitempty" rule:"omitempty,min=1,max=512"`
	Path     *string `json:"path,omitempty"     rule:"omitempty,max=1024"`
}

// ShareFileRequest 共享给其他用户.
type ShareFileRequest struct {
	UserID string `json:"userId" rule:"required,max=255"`
}

// DownloadResponse 预签名下载地址.
type DownloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UsageResponse 存储用量.
type UsageResponse struct {
	UserID    string `json:"userId"`
	Consumed  int64  `json:"consumed"`
	Quota     int64  `json:"quota"`
	Remaining int64  `json:"remaining"`
}

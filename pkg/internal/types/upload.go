package types

import "time"

// BeginUploadRequest 开始分片上传.
type BeginUploadRequest struct {
	Filename string `json:"filename" rule:"required,max=512"`
	Size     int64  `json:"size"     rule:"gt=0"`
	MimeType string `json:"mimeType" rule:"omitempty,max=255"`
	Path     string `json:"path"     rule:"omitempty,max=1024"`
}

// BeginUploadResponse 会话信息，chunkSize 决定客户端的分片边界.
type BeginUploadResponse struct {
	SessionID    string `json:"sessionId"`
	UploadHandle string `json:"uploadHandle"`
	StoragePath  string `json:"storagePath"`
	ChunkSize    int64  `json:"chunkSize"`
	PartCount    int    `json:"partCount"`
}

// PartCapabilityRequest 申请单个分片的上传凭证.
type PartCapabilityRequest struct {
	SessionID    string `json:"sessionId,omitempty"`
	PartNumber   int    `json:"partNumber"            rule:"gte=1"`
	UploadHandle string `json:"uploadHandle"          rule:"required"`
	Fingerprint  string `json:"fingerprint,omitempty" rule:"omitempty,sha256hex"`
}

// PartCapabilityResponse 预签名分片 URL，客户端需携带 Headers 发起 PUT.
type PartCapabilityResponse struct {
	CapabilityURL string            `json:"capabilityUrl"`
	Method        string            `json:"method"`
	PartNumber    int               `json:"partNumber"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// CommitPartRequest 客户端上传完成后登记分片回执.
type CommitPartRequest struct {
	PartNumber  int    `json:"partNumber"  rule:"gte=1"`
	Checksum    string `json:"checksum"    rule:"required"`
	Size        int64  `json:"size"        rule:"gt=0"`
	Fingerprint string `json:"fingerprint" rule:"required,sha256hex"`
}

// CommittedPart 已登记的分片.
type CommittedPart struct {
	PartNumber  int    `json:"partNumber"`
	Fingerprint string `json:"fingerprint"`
	Checksum    string `json:"checksum"`
	Size        int64  `json:"size"`
}

// CommitPartResponse 登记结果，Superseded 表示替换了指纹不同的旧分片.
type CommitPartResponse struct {
	CommittedPart
	Superseded bool `json:"superseded"`
}

// ResumeState 断点续传所需的会话状态.
type ResumeState struct {
	SessionID      string          `json:"sessionId"`
	Status         string          `json:"status"`
	UploadHandle   string          `json:"uploadHandle"`
	ChunkSize      int64           `json:"chunkSize"`
	Size           int64           `json:"size"`
	PartCount      int             `json:"partCount"`
	CommittedParts []CommittedPart `json:"committedParts"`
}

// CompletePart Complete 请求中的分片.
type CompletePart struct {
	PartNumber  int    `json:"partNumber"            rule:"gte=1"`
	Checksum    string `json:"checksum"              rule:"required"`
	Size        int64  `json:"size"                  rule:"gt=0"`
	Fingerprint string `json:"fingerprint,omitempty" rule:"omitempty,sha256hex"`
}

// CompleteUploadRequest 完成上传.
type CompleteUploadRequest struct {
	SessionID        string         `json:"sessionId,omitempty"`
	UploadHandle     string         `json:"uploadHandle"`
	Parts            []CompletePart `json:"parts"                      rule:"required,min=1,dive"`
	WholeFingerprint string         `json:"wholeFingerprint,omitempty" rule:"omitempty,sha256hex"`
}

// CompleteUploadResponse 新建的文件记录.
type CompleteUploadResponse struct {
	FileID    string    `json:"fileId"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
}

// AbortUploadResponse 中止结果.
type AbortUploadResponse struct {
	Status string `json:"status"`
}

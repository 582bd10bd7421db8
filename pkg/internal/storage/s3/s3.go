// Package s3 封装对象存储的分片上传与预签名操作.
//
// 默认使用 minio-go（兼容 MinIO 与大多数 S3 实现），s3.type=aws 时使用 aws-sdk-go-v2.
// 分片字节由客户端通过预签名 URL 直接写入对象存储，服务端不代理数据.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yeisme/syncvault/pkg/configs"
)

// ErrNoSuchUpload 分片上传会话在对象存储中不存在（已完成或已中止）.
var ErrNoSuchUpload = errors.New("s3: no such upload")

const (
	// HeaderChecksumSHA256 分片校验请求头，值为 base64 编码的 SHA-256.
	HeaderChecksumSHA256 = "x-amz-checksum-sha256"
	// HeaderChecksumAlgorithm 声明校验算法.
	HeaderChecksumAlgorithm = "x-amz-sdk-checksum-algorithm"
)

// PresignedRequest 预签名请求，客户端需原样携带 Headers.
type PresignedRequest struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// PartInfo 对象存储中已写入的分片.
type PartInfo struct {
	PartNumber     int
	ETag           string
	Size           int64
	ChecksumSHA256 string
}

// CompletedPart 完成分片上传时提交的分片.
type CompletedPart struct {
	PartNumber     int
	ETag           string
	ChecksumSHA256 string // base64，会话以校验模式创建时必填
}

// Store 对象存储操作.
type Store interface {
	Bucket() string
	// CreateMultipart 开启分片上传，withChecksum 为 true 时要求每个分片携带 SHA-256 校验.
	CreateMultipart(ctx context.Context, key, contentType string, withChecksum bool) (uploadID string, err error)
	// PresignPart 生成单个分片的 PUT URL；checksumB64 非空时签入校验头.
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, checksumB64 string, ttl time.Duration) (PresignedRequest, error)
	ListParts(ctx context.Context, key, uploadID string) ([]PartInfo, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	// AbortMultipart 中止分片上传，会话已不存在时返回 ErrNoSuchUpload.
	AbortMultipart(ctx context.Context, key, uploadID string) error
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (PresignedRequest, error)
	RemoveObject(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// New 根据全局配置创建对象存储.
func New(ctx context.Context) (Store, error) {
	return Open(ctx, configs.GetConfig().S3)
}

// Open 根据 cfg.Type 选择实现.
func Open(ctx context.Context, cfg configs.S3Config) (Store, error) {
	switch cfg.Type {
	case configs.S3TypeAWS:
		return NewAWS(ctx, cfg)
	case configs.S3TypeMinio, "":
		return NewMinio(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported s3 type: %s", cfg.Type)
	}
}

// NormalizeETag 去掉 ETag 两侧的引号.
func NormalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// splitEndpoint 允许配置带 scheme 的 endpoint（http:// 或 https://）.
func splitEndpoint(cfg configs.S3Config) (host string, secure bool) {
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		return u.Host, u.Scheme == "https"
	}

	return cfg.Endpoint, cfg.UseSSL
}

func contentDisposition(filename string) string {
	if filename == "" {
		return ""
	}

	return fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename))
}

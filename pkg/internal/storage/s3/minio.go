package s3

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yeisme/syncvault/pkg/configs"
	nlog "github.com/yeisme/syncvault/pkg/log"
)

const listPartsPage = 1000

// MinioStore 基于 minio-go Core API 的实现.
type MinioStore struct {
	client *minio.Client
	core   *minio.Core
	bucket string
}

var _ Store = (*MinioStore)(nil)

// NewMinio 创建 MinIO 客户端，cfg.CreateBucket 为 true 时确保 bucket 存在.
func NewMinio(ctx context.Context, cfg configs.S3Config) (*MinioStore, error) {
	endpoint, secure := splitEndpoint(cfg)

	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	cli.SetAppInfo("syncvault", configs.AppVersion)

	if cfg.CreateBucket {
		exists, err := cli.BucketExists(ctx, cfg.BucketName)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", cfg.BucketName, err)
		}

		if !exists {
			if err := cli.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", cfg.BucketName, err)
			}

			nlog.Logger().Info().Str("bucket", cfg.BucketName).Msg("bucket created")
		}
	}

	nlog.Logger().Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.BucketName).Msg("s3 connected")

	return &MinioStore{client: cli, core: &minio.Core{Client: cli}, bucket: cfg.BucketName}, nil
}

func (m *MinioStore) Bucket() string { return m.bucket }

func (m *MinioStore) CreateMultipart(ctx context.Context, key, contentType string, withChecksum bool) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if withChecksum {
		opts.UserMetadata = map[string]string{"x-amz-checksum-algorithm": "SHA256"}
	}

	uploadID, err := m.core.NewMultipartUpload(ctx, m.bucket, key, opts)
	if err != nil {
		return "", fmt.Errorf("init multipart upload: %w", err)
	}

	return uploadID, nil
}

func (m *MinioStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int, checksumB64 string, ttl time.Duration) (PresignedRequest, error) {
	params := make(url.Values)
	params.Set("partNumber", strconv.Itoa(partNumber))
	params.Set("uploadId", uploadID)

	headers := make(http.Header)
	if checksumB64 != "" {
		headers.Set(HeaderChecksumSHA256, checksumB64)
		headers.Set(HeaderChecksumAlgorithm, "SHA256")
	}

	expiresAt := time.Now().Add(ttl)

	u, err := m.core.PresignHeader(ctx, http.MethodPut, m.bucket, key, ttl, params, headers)
	if err != nil {
		return PresignedRequest{}, fmt.Errorf("presign part %d: %w", partNumber, err)
	}

	return PresignedRequest{URL: u.String(), Method: http.MethodPut, Headers: flatten(headers), ExpiresAt: expiresAt}, nil
}

func (m *MinioStore) ListParts(ctx context.Context, key, uploadID string) ([]PartInfo, error) {
	var (
		out    []PartInfo
		marker int
	)

	for {
		res, err := m.core.ListObjectParts(ctx, m.bucket, key, uploadID, marker, listPartsPage)
		if err != nil {
			return nil, m.mapErr(fmt.Errorf("list parts: %w", err), err)
		}

		for _, p := range res.ObjectParts {
			out = append(out, PartInfo{
				PartNumber:     p.PartNumber,
				ETag:           NormalizeETag(p.ETag),
				Size:           p.Size,
				ChecksumSHA256: p.ChecksumSHA256,
			})
		}

		if !res.IsTruncated {
			return out, nil
		}

		marker = res.NextPartNumberMarker
	}
}

func (m *MinioStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{
			PartNumber:     p.PartNumber,
			ETag:           NormalizeETag(p.ETag),
			ChecksumSHA256: p.ChecksumSHA256,
		})
	}

	if _, err := m.core.CompleteMultipartUpload(ctx, m.bucket, key, uploadID, complete, minio.PutObjectOptions{}); err != nil {
		return m.mapErr(fmt.Errorf("complete multipart upload: %w", err), err)
	}

	return nil
}

func (m *MinioStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := m.core.AbortMultipartUpload(ctx, m.bucket, key, uploadID); err != nil {
		return m.mapErr(fmt.Errorf("abort multipart upload: %w", err), err)
	}

	return nil
}

func (m *MinioStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (PresignedRequest, error) {
	params := make(url.Values)
	if cd := contentDisposition(filename); cd != "" {
		params.Set("response-content-disposition", cd)
	}

	expiresAt := time.Now().Add(ttl)

	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, params)
	if err != nil {
		return PresignedRequest{}, fmt.Errorf("presign get: %w", err)
	}

	return PresignedRequest{URL: u.String(), Method: http.MethodGet, ExpiresAt: expiresAt}, nil
}

func (m *MinioStore) RemoveObject(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

// HealthCheck 通过检查 bucket 验证连接.
func (m *MinioStore) HealthCheck(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)

	return err
}

// Close 无实际操作，接口兼容.
func (m *MinioStore) Close() error { return nil }

func (m *MinioStore) mapErr(wrapped, raw error) error {
	if minio.ToErrorResponse(raw).Code == "NoSuchUpload" {
		return fmt.Errorf("%w: %v", ErrNoSuchUpload, raw)
	}

	return wrapped
}

func flatten(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}

	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}

	return out
}

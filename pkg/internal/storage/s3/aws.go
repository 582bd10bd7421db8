package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yeisme/syncvault/pkg/configs"
	nlog "github.com/yeisme/syncvault/pkg/log"
)

// AWSStore 基于 aws-sdk-go-v2 的实现.
type AWSStore struct {
	client  *awss3.Client
	presign *awss3.PresignClient
	bucket  string
}

var _ Store = (*AWSStore)(nil)

// NewAWS 创建 aws-sdk-go-v2 客户端；配置了 endpoint 时指向自建 S3 兼容服务.
func NewAWS(ctx context.Context, cfg configs.S3Config) (*AWSStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if host, _ := splitEndpoint(cfg); host == cfg.Endpoint {
				endpoint = cfg.GetEndpointURL()
			}

			o.BaseEndpoint = aws.String(endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
		// 预签名请求的 body 未知，只在调用方给出校验值时携带校验头
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	s := &AWSStore{client: client, presign: awss3.NewPresignClient(client), bucket: cfg.BucketName}

	if cfg.CreateBucket {
		if err := s.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	nlog.Logger().Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.BucketName).Msg("s3 (aws sdk) connected")

	return s, nil
}

func (s *AWSStore) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	_, err := s.client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(s.bucket)})

	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}

	return nil
}

func (s *AWSStore) Bucket() string { return s.bucket }

func (s *AWSStore) CreateMultipart(ctx context.Context, key, contentType string, withChecksum bool) (string, error) {
	in := &awss3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if withChecksum {
		in.ChecksumAlgorithm = types.ChecksumAlgorithmSha256
	}

	out, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", fmt.Errorf("init multipart upload: %w", err)
	}

	return aws.ToString(out.UploadId), nil
}

func (s *AWSStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int, checksumB64 string, ttl time.Duration) (PresignedRequest, error) {
	in := &awss3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}
	if checksumB64 != "" {
		in.ChecksumSHA256 = aws.String(checksumB64)
		in.ChecksumAlgorithm = types.ChecksumAlgorithmSha256
	}

	expiresAt := time.Now().Add(ttl)

	req, err := s.presign.PresignUploadPart(ctx, in, awss3.WithPresignExpires(ttl))
	if err != nil {
		return PresignedRequest{}, fmt.Errorf("presign part %d: %w", partNumber, err)
	}

	return PresignedRequest{URL: req.URL, Method: req.Method, Headers: signedHeaders(req.SignedHeader), ExpiresAt: expiresAt}, nil
}

func (s *AWSStore) ListParts(ctx context.Context, key, uploadID string) ([]PartInfo, error) {
	var out []PartInfo

	p := awss3.NewListPartsPaginator(s.client, &awss3.ListPartsInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})

	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapAWSErr(fmt.Errorf("list parts: %w", err))
		}

		for _, part := range page.Parts {
			out = append(out, PartInfo{
				PartNumber:     int(aws.ToInt32(part.PartNumber)),
				ETag:           NormalizeETag(aws.ToString(part.ETag)),
				Size:           aws.ToInt64(part.Size),
				ChecksumSHA256: aws.ToString(part.ChecksumSHA256),
			})
		}
	}

	return out, nil
}

func (s *AWSStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		cp := types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(NormalizeETag(p.ETag)),
		}
		if p.ChecksumSHA256 != "" {
			cp.ChecksumSHA256 = aws.String(p.ChecksumSHA256)
		}

		completed = append(completed, cp)
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return mapAWSErr(fmt.Errorf("complete multipart upload: %w", err))
	}

	return nil
}

func (s *AWSStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return mapAWSErr(fmt.Errorf("abort multipart upload: %w", err))
	}

	return nil
}

func (s *AWSStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (PresignedRequest, error) {
	in := &awss3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}
	if cd := contentDisposition(filename); cd != "" {
		in.ResponseContentDisposition = aws.String(cd)
	}

	expiresAt := time.Now().Add(ttl)

	req, err := s.presign.PresignGetObject(ctx, in, awss3.WithPresignExpires(ttl))
	if err != nil {
		return PresignedRequest{}, fmt.Errorf("presign get: %w", err)
	}

	return PresignedRequest{URL: req.URL, Method: req.Method, ExpiresAt: expiresAt}, nil
}

func (s *AWSStore) RemoveObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})

	return err
}

func (s *AWSStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(s.bucket)})

	return err
}

func (s *AWSStore) Close() error { return nil }

func mapAWSErr(err error) error {
	var nsu *types.NoSuchUpload
	if errors.As(err, &nsu) {
		return fmt.Errorf("%w: %v", ErrNoSuchUpload, err)
	}

	return err
}

// signedHeaders 去掉 Host，其余签名头客户端必须原样发送.
func signedHeaders(h http.Header) map[string]string {
	h = h.Clone()
	h.Del("Host")

	return flatten(h)
}

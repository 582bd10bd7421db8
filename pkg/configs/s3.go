package configs

import (
	"fmt"

	"github.com/spf13/viper"
)

// S3Type 对象存储客户端实现.
type S3Type string

const (
	// S3TypeMinio 使用 minio-go 客户端（兼容 MinIO 与大多数 S3 实现）.
	S3TypeMinio S3Type = "minio"
	// S3TypeAWS 使用 aws-sdk-go-v2 客户端.
	S3TypeAWS S3Type = "aws"
)

// S3Config 对象存储配置.
type S3Config struct {
	Type            S3Type `mapstructure:"type"              rule:"oneof=minio aws"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"       rule:"required"`
	Region          string `mapstructure:"region"`
	UsePathStyle    bool   `mapstructure:"use_path_style"` // 仅 aws 客户端生效
	CreateBucket    bool   `mapstructure:"create_bucket"`  // 启动时不存在则创建 bucket
}

const (
	DefaultS3Type            = S3TypeMinio
	DefaultS3Endpoint        = "localhost:9000" // 默认S3端点
	DefaultS3AccessKeyID     = "minioadmin"     // 默认访问密钥ID
	DefaultS3SecretAccessKey = "minioadmin"     // 默认秘密访问密钥
	DefaultS3UseSSL          = false            // 默认是否使用SSL
	DefaultS3BucketName      = "syncvault"      // 默认存储桶名称
	DefaultS3Region          = "us-east-1"      // 默认区域
)

// GetEndpointURL 获取完整的端点URL.
func (c *S3Config) GetEndpointURL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s", scheme, c.Endpoint)
}

// setDefaults 设置 S3 配置的默认值.
func (c *S3Config) setDefaults(v *viper.Viper) {
	v.SetDefault("s3.type", DefaultS3Type)
	v.SetDefault("s3.endpoint", DefaultS3Endpoint)
	v.SetDefault("s3.access_key_id", DefaultS3AccessKeyID)
	v.SetDefault("s3.secret_access_key", DefaultS3SecretAccessKey)
	v.SetDefault("s3.use_ssl", DefaultS3UseSSL)
	v.SetDefault("s3.bucket_name", DefaultS3BucketName)
	v.SetDefault("s3.region", DefaultS3Region)
	v.SetDefault("s3.use_path_style", true)
	v.SetDefault("s3.create_bucket", true)
}

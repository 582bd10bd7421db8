package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultChunkSize       = 5 * 1024 * 1024         // 默认分片大小 5 MiB
	DefaultCapabilityTTL   = time.Hour               // 分片上传预签名有效期
	DefaultQuota           = 10 * 1024 * 1024 * 1024 // 新用户默认配额 10 GiB
	DefaultSessionTTL      = 24 * time.Hour          // 上传会话闲置超时
	DefaultSessionCacheTTL = 10 * time.Minute        // 会话 KV 缓存时长
	DefaultTrashRetention  = 30 * 24 * time.Hour     // 回收站保留时长
	DefaultKeyPrefix       = "uploads"
)

// UploadConfig 分片上传配置.
type UploadConfig struct {
	ChunkSize       int64         `mapstructure:"chunk_size"        rule:"min=5242880"`
	CapabilityTTL   time.Duration `mapstructure:"capability_ttl"    rule:"min=1s,max=168h"`
	DefaultQuota    int64         `mapstructure:"default_quota"     rule:"min=0"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	SessionCacheTTL time.Duration `mapstructure:"session_cache_ttl"`
	TrashRetention  time.Duration `mapstructure:"trash_retention"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	// ChecksumHeader 预签名时是否要求客户端携带 x-amz-checksum-sha256.
	ChecksumHeader bool `mapstructure:"checksum_header"`
}

func (c *UploadConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("upload.chunk_size", DefaultChunkSize)
	v.SetDefault("upload.capability_ttl", DefaultCapabilityTTL)
	v.SetDefault("upload.default_quota", DefaultQuota)
	v.SetDefault("upload.session_ttl", DefaultSessionTTL)
	v.SetDefault("upload.session_cache_ttl", DefaultSessionCacheTTL)
	v.SetDefault("upload.trash_retention", DefaultTrashRetention)
	v.SetDefault("upload.key_prefix", DefaultKeyPrefix)
	v.SetDefault("upload.checksum_header", true)
}

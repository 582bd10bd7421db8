package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultResubscribeBackoff = 5 * time.Second
	DefaultSyncTopic          = "sv.file.changed"
	DefaultOutboxRetention    = 7 * 24 * time.Hour
)

// SyncConfig 文件变更推送配置.
type SyncConfig struct {
	ResubscribeBackoff time.Duration `mapstructure:"resubscribe_backoff"`
	Topic              string        `mapstructure:"topic"               rule:"required"`
	// RelayEnabled 是否在本实例运行 outbox 中继，多实例部署时只需一个实例开启.
	RelayEnabled    bool          `mapstructure:"relay_enabled"`
	RelayInterval   time.Duration `mapstructure:"relay_interval"`
	RelayBatch      int           `mapstructure:"relay_batch"         rule:"min=1,max=10000"`
	// RelayGapGrace outbox id 缺口的最长等待时间，应大于最长的写事务.
	RelayGapGrace   time.Duration `mapstructure:"relay_gap_grace"`
	SendBuffer      int           `mapstructure:"send_buffer"         rule:"min=1"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	OutboxRetention time.Duration `mapstructure:"outbox_retention"`
}

func (c *SyncConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("sync.resubscribe_backoff", DefaultResubscribeBackoff)
	v.SetDefault("sync.topic", DefaultSyncTopic)
	v.SetDefault("sync.relay_enabled", true)
	v.SetDefault("sync.relay_interval", time.Second)
	v.SetDefault("sync.relay_batch", 200)
	v.SetDefault("sync.relay_gap_grace", 15*time.Second)
	v.SetDefault("sync.send_buffer", 64)
	v.SetDefault("sync.write_timeout", 10*time.Second)
	v.SetDefault("sync.ping_interval", 30*time.Second)
	v.SetDefault("sync.outbox_retention", DefaultOutboxRetention)
}

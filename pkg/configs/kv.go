package configs

import (
	"github.com/spf13/viper"
)

// KVType 键值存储类型.
type KVType string

const (
	KVTypeMemory KVType = "memory"
	KVTypeRedis  KVType = "redis"
	KVTypeNATS   KVType = "nats"
	KVTypeBadger KVType = "badger"
)

// KVConfig 键值存储配置.
type KVConfig struct {
	Type   KVType         `mapstructure:"type"   rule:"oneof=memory redis nats badger"`
	Prefix string         `mapstructure:"prefix"`
	Redis  RedisKVConfig  `mapstructure:"redis"`
	NATS   NATSKVConfig   `mapstructure:"nats"`
	Badger BadgerKVConfig `mapstructure:"badger"`
}

// RedisKVConfig Redis KV 配置.
type RedisKVConfig struct {
	Addr     string `mapstructure:"addr"     rule:"hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       rule:"min=0,max=15"`
}

// NATSKVConfig NATS KV 配置.
type NATSKVConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Bucket   string `mapstructure:"bucket"   rule:"required"`
}

// BadgerKVConfig 嵌入式 Badger KV 配置，Path 为空时使用内存模式.
type BadgerKVConfig struct {
	Path string `mapstructure:"path"`
}

// GetKVType 返回当前配置的 KV 类型.
func (c *KVConfig) GetKVType() KVType {
	return c.Type
}

// setDefaults 设置 KV 配置的默认值.
func (c *KVConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("kv.type", KVTypeMemory)
	v.SetDefault("kv.prefix", "sv.")

	// Redis 默认值
	v.SetDefault("kv.redis.addr", "localhost:6379")
	v.SetDefault("kv.redis.password", "")
	v.SetDefault("kv.redis.db", 0)

	// NATS 默认值
	v.SetDefault("kv.nats.url", "nats://localhost:4222")
	v.SetDefault("kv.nats.user", "")
	v.SetDefault("kv.nats.password", "")
	v.SetDefault("kv.nats.bucket", "syncvault-kv")

	// Badger 默认值
	v.SetDefault("kv.badger.path", "data/kv")
}

package configs

import "github.com/spf13/viper"

const (
	DefaultRateLimitEnabled = false
	DefaultRateLimitRPS     = 50.0
	DefaultRateLimitBurst   = 100
	DefaultRateLimitKey     = RateLimitKeyUser
	// DefaultRateLimitMaxKeys 超过后淘汰最久未访问的限流桶.
	DefaultRateLimitMaxKeys = 10000

	RateLimitKeyGlobal = "global"
	RateLimitKeyIP     = "ip"
	RateLimitKeyUser   = "user"
)

// RateLimitConfig 速率限制配置.
//
// 分片凭证与回执请求量与文件大小成正比，按用户限流比按 IP 更公平.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
	// Key 限流维度：global、ip、user（X-User-ID 或 Bearer 令牌，缺失时回退到 IP）、header:Name
	Key       string   `mapstructure:"key"`
	MaxKeys   int      `mapstructure:"max_keys"`
	SkipPaths []string `mapstructure:"skip_paths"`
}

func (c *RateLimitConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("rate_limit.enabled", DefaultRateLimitEnabled)
	v.SetDefault("rate_limit.rps", DefaultRateLimitRPS)
	v.SetDefault("rate_limit.burst", DefaultRateLimitBurst)
	v.SetDefault("rate_limit.key", DefaultRateLimitKey)
	v.SetDefault("rate_limit.max_keys", DefaultRateLimitMaxKeys)
	v.SetDefault("rate_limit.skip_paths", []string{"/api/v1/health", "/api/v1/sync/ws", "/metrics"})
}

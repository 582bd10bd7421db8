package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultCBEnabled           = false
	DefaultCBFailureRate       = 0.5
	DefaultCBMinRequests       = 20
	DefaultCBInterval          = time.Minute
	DefaultCBOpenTimeout       = 30 * time.Second
	DefaultCBMaxRequestsInHalf = 5
)

// CircuitBreakerConfig 熔断器配置，每个路由模板一个熔断器.
type CircuitBreakerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	FailureRate       float64       `mapstructure:"failure_rate"         rule:"gte=0,lte=1"`
	MinRequests       uint32        `mapstructure:"min_requests"`
	Interval          time.Duration `mapstructure:"interval"`
	OpenTimeout       time.Duration `mapstructure:"open_timeout"`
	MaxRequestsInHalf uint32        `mapstructure:"max_requests_in_half"`
}

func (c *CircuitBreakerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("circuit_breaker.enabled", DefaultCBEnabled)
	v.SetDefault("circuit_breaker.failure_rate", DefaultCBFailureRate)
	v.SetDefault("circuit_breaker.min_requests", DefaultCBMinRequests)
	v.SetDefault("circuit_breaker.interval", DefaultCBInterval)
	v.SetDefault("circuit_breaker.open_timeout", DefaultCBOpenTimeout)
	v.SetDefault("circuit_breaker.max_requests_in_half", DefaultCBMaxRequestsInHalf)
}

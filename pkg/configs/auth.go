package configs

import (
	"time"

	"github.com/spf13/viper"
)

// AuthMode 身份解析方式.
type AuthMode string

const (
	// AuthModeHeader 信任网关（如 oauth2-proxy）注入的用户请求头.
	AuthModeHeader AuthMode = "header"
	// AuthModeJWT 校验 Authorization: Bearer 中的 HS256 令牌.
	AuthModeJWT AuthMode = "jwt"
	// AuthModeBoth 先尝试 JWT，失败再回退到请求头.
	AuthModeBoth AuthMode = "both"

	DefaultTokenTTL = 24 * time.Hour
)

// AuthConfig 控制统一身份认证.
type AuthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`         // 开启认证校验
	Mode          AuthMode      `mapstructure:"mode"             rule:"oneof=header jwt both"`
	SkipPaths     []string      `mapstructure:"skip_paths"`      // 跳过认证的路径前缀（如 /metrics、/api/v1/health）
	DevAllowQuery bool          `mapstructure:"dev_allow_query"` // 开发模式允许用 ?user= 便于本地调试
	JWTSecret     string        `mapstructure:"jwt_secret"       rule:"required_unless=Mode header"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	Issuer        string        `mapstructure:"issuer"`
}

func (c *AuthConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.mode", AuthModeHeader)
	v.SetDefault("auth.dev_allow_query", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", DefaultTokenTTL)
	v.SetDefault("auth.issuer", "syncvault")
	v.SetDefault("auth.skip_paths", []string{
		"/metrics",
		"/debug/pprof",
		"/api/v1/health",
	})
}

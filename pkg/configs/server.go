package configs

import (
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort              = 8080
	DefaultHost              = "0.0.0.0"
	DefaultReloadConfig      = true
	DefaultDebug             = false
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
)

type (
	// ServerConfig HTTP 服务配置.
	//
	// 不设置整体写超时：/api/v1/sync/ws 是长连接，写超时由 sync.write_timeout 按帧控制.
	ServerConfig struct {
		Port              int           `mapstructure:"port"                rule:"min=1,max=65535"`
		Host              string        `mapstructure:"host"                rule:"ip"`
		ReloadConfig      bool          `mapstructure:"reload_config"`
		Debug             bool          `mapstructure:"debug"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
		// CORSOrigins 允许的浏览器来源，为空时允许所有来源
		CORSOrigins []string `mapstructure:"cors_origins"`
	}
)

// Addr 监听地址.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s *ServerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.reload_config", DefaultReloadConfig)
	v.SetDefault("server.debug", DefaultDebug)
	v.SetDefault("server.read_header_timeout", DefaultReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{})
}

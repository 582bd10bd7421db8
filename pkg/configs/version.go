package configs

// AppVersion 应用版本，构建时通过 -ldflags "-X github.com/yeisme/syncvault/pkg/configs.AppVersion=..." 注入.
var AppVersion = "dev"

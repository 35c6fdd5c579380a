package config

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/version"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有被代理的资源共享同一份参数。
type GlobalConfig struct {
	ListenHost      string   `mapstructure:"ListenHost"`
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxCacheSize    int64    `mapstructure:"MaxCacheSize"`
	BufferSize      int      `mapstructure:"BufferSize"`
	NoCacheBarrier  float64  `mapstructure:"NoCacheBarrier"`
	HybridPlayback  bool     `mapstructure:"HybridPlayback"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UserAgent       string   `mapstructure:"UserAgent"`
	S3Region        string   `mapstructure:"S3Region"`
	S3Endpoint      string   `mapstructure:"S3Endpoint"`
	MetricsEnabled  bool     `mapstructure:"MetricsEnabled"`
}

// OriginConfig 描述回源请求需要额外注入的头部。
type OriginConfig struct {
	Headers map[string]string `mapstructure:"Headers"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Origin OriginConfig `mapstructure:"Origin"`
}

// ListenAddr 返回 host:port 形式的监听地址。
func (g GlobalConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", g.ListenHost, g.ListenPort)
}

// OriginHeaders 将配置中的头部转换为 http.Header，UserAgent 单独配置时优先生效，
// 两处都未设置时使用 version.UserAgent()。
func (c *Config) OriginHeaders() http.Header {
	headers := make(http.Header, len(c.Origin.Headers)+1)
	for key, value := range c.Origin.Headers {
		headers.Set(key, value)
	}
	if ua := strings.TrimSpace(c.Global.UserAgent); ua != "" {
		headers.Set("User-Agent", ua)
	} else if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", version.UserAgent())
	}
	return headers
}

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const minBufferSize = 1024

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if strings.TrimSpace(g.ListenHost) == "" {
		return newFieldError("Global.ListenHost", "不能为空")
	}
	if net.ParseIP(g.ListenHost) == nil && g.ListenHost != "localhost" {
		return newFieldError("Global.ListenHost", "必须是 IP 地址或 localhost")
	}
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxCacheSize < 0 {
		return newFieldError("Global.MaxCacheSize", "不能为负数")
	}
	if g.BufferSize < minBufferSize {
		return newFieldError("Global.BufferSize", fmt.Sprintf("不能小于 %d", minBufferSize))
	}
	if g.NoCacheBarrier < 0 || g.NoCacheBarrier > 1 {
		return newFieldError("Global.NoCacheBarrier", "必须在 0-1 之间")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.S3Endpoint != "" {
		if err := validateEndpoint(g.S3Endpoint); err != nil {
			return newFieldError("Global.S3Endpoint", err.Error())
		}
	}

	for key := range c.Origin.Headers {
		if strings.TrimSpace(key) == "" {
			return newFieldError(originField("Headers"), "头部名称不能为空")
		}
		if strings.EqualFold(key, "Range") || strings.EqualFold(key, "Host") {
			return newFieldError(originField("Headers"), fmt.Sprintf("不允许覆盖 %s", key))
		}
	}

	return nil
}

func validateEndpoint(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}

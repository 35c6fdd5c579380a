package server

import (
	"net"
	"net/http"
	"time"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
}

// NewUpstreamClient 返回共享 http.Client，用于所有回源请求。
// 媒体正文可能持续很久，因此只限制建连与等待响应头的时间，不设置整体 Client.Timeout。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{
		Transport: transport,
	}
}

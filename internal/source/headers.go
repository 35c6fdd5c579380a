package source

import (
	"net/http"
	"net/textproto"
)

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// controlledHeaders 由 Source 自己设置，注入的头部不能覆盖。
var controlledHeaders = map[string]struct{}{
	"Range": {},
	"Host":  {},
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 与 Range/Host。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		if _, ok := controlledHeaders[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	_, ok := hopByHopHeaders[canonical]
	return ok
}

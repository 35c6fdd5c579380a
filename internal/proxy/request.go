package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/videocache"
)

const (
	// urlParam 携带经过 QueryEscape 的源站地址。路径会被 fasthttp 规范化（%2F 解码、// 折叠），
	// 因此源站地址只能放在查询参数里。
	urlParam = "url"
	// preloadParam 标记纯预加载请求：播放器只想让代理提前缓存资源。
	preloadParam = "preload"
)

var (
	// ErrMissingURL 表示代理请求中没有目标地址。
	ErrMissingURL = errors.New("target url required")
	// ErrInvalidURL 表示目标地址无法解析或缺少协议/主机。
	ErrInvalidURL = errors.New("invalid target url")
)

// rangePattern 只提取 "bytes=N-" 中的起点，结束位置被忽略；后缀区间视为非区间请求。
var rangePattern = regexp.MustCompile(`(?i)^\s*bytes\s*=\s*(\d+)\s*-`)

// ParseRequest 从代理请求中解析目标地址、Range 起点与请求意图。
// 代理地址形如 /?url=<QueryEscape(origin)>[&preload=1]。
func ParseRequest(c fiber.Ctx) (videocache.Request, error) {
	rawURL, err := validateTarget(c.Query(urlParam))
	if err != nil {
		return videocache.Request{}, err
	}

	offset, partial := parseRangeOffset(c.Get(fiber.HeaderRange))
	req := videocache.Request{
		URL:         rawURL,
		RangeOffset: offset,
		Partial:     partial,
		Intent:      videocache.IntentPlayback,
	}
	if isPreload(c.Query(preloadParam)) {
		req.Intent = videocache.IntentPreload
	}
	return req, nil
}

// ProxyURL 构造播放器使用的代理地址。
func ProxyURL(host string, port int, rawURL string, preload bool) string {
	query := url.Values{}
	query.Set(urlParam, rawURL)
	if preload {
		query.Set(preloadParam, "1")
	}
	return fmt.Sprintf("http://%s/?%s", joinHostPort(host, port), query.Encode())
}

func joinHostPort(host string, port int) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}

func validateTarget(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrMissingURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return rawURL, nil
}

func isPreload(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// parseRangeOffset 返回 Range 起点；没有可用的起点时返回 (0, false)。
func parseRangeOffset(header string) (int64, bool) {
	if header == "" {
		return 0, false
	}
	match := rangePattern.FindStringSubmatch(header)
	if match == nil {
		return 0, false
	}
	offset, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return offset, true
}

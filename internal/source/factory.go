package source

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// FactoryOptions 汇总创建 Source 所需的共享依赖。
type FactoryOptions struct {
	Client  *http.Client
	Headers http.Header
	Storage InfoStorage
	S3      S3API
}

// Factory 按 URL 协议创建对应的 Source。
type Factory struct {
	opts FactoryOptions
}

// NewFactory 构造 Factory；S3 为空时 s3:// 源不可用。
func NewFactory(opts FactoryOptions) *Factory {
	return &Factory{opts: opts}
}

// New 为 rawURL 创建新的源句柄，每个资源调用一次，后续通过 Clone 派生私有句柄。
func (f *Factory) New(rawURL string) (Source, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		if parsed.Host == "" {
			return nil, fmt.Errorf("source url missing host: %s", rawURL)
		}
		return NewHTTPSource(rawURL, f.opts.Client, f.opts.Headers, f.opts.Storage), nil
	case "s3":
		if f.opts.S3 == nil {
			return nil, fmt.Errorf("%w: s3 client not configured", ErrUnsupportedScheme)
		}
		src, err := NewS3Source(rawURL, f.opts.S3, f.opts.Storage)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTPSource 通过 Range 请求读取 HTTP(S) 源，单个句柄只能由一个协程使用。
type HTTPSource struct {
	url     string
	client  *http.Client
	headers http.Header
	meta    *metadata

	body io.ReadCloser
}

// NewHTTPSource 创建 HTTP 源句柄；headers 会注入到每一次回源请求中。
func NewHTTPSource(rawURL string, client *http.Client, headers http.Header, storage InfoStorage) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		url:     rawURL,
		client:  client,
		headers: headers,
		meta:    newMetadata(rawURL, storage),
	}
}

func (s *HTTPSource) URL() string {
	return s.url
}

func (s *HTTPSource) Info(ctx context.Context) (Info, error) {
	info, err := s.meta.load(ctx, s.probe)
	if err != nil {
		return info, fmt.Errorf("%w: %s: %w", ErrUnavailable, s.url, err)
	}
	return info, nil
}

func (s *HTTPSource) probe(ctx context.Context) (Info, error) {
	resp, err := s.do(ctx, http.MethodHead, 0)
	if err != nil {
		return Info{}, err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = s.do(ctx, http.MethodGet, 0)
		if err != nil {
			return Info{}, err
		}
		resp.Body.Close()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Info{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return Info{Length: resp.ContentLength, Mime: resp.Header.Get("Content-Type")}, nil
}

func (s *HTTPSource) Open(ctx context.Context, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	_ = s.Close()

	resp, err := s.do(ctx, http.MethodGet, offset)
	if err != nil {
		return fmt.Errorf("open %s at %d: %w", s.url, offset, err)
	}

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// 偏移已到达资源末尾。
		resp.Body.Close()
		s.body = http.NoBody
		return nil
	case resp.StatusCode >= http.StatusBadRequest:
		resp.Body.Close()
		return fmt.Errorf("open %s at %d: unexpected status %d", s.url, offset, resp.StatusCode)
	case resp.StatusCode == http.StatusPartialContent:
		total := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if total < 0 && resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
		s.meta.learn(Info{Length: total, Mime: resp.Header.Get("Content-Type")})
	default:
		s.meta.learn(Info{Length: resp.ContentLength, Mime: resp.Header.Get("Content-Type")})
		if offset > 0 {
			// 源站忽略了 Range，跳过 offset 之前的数据。
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				resp.Body.Close()
				return fmt.Errorf("skip %d bytes of %s: %w", offset, s.url, err)
			}
		}
	}

	s.body = resp.Body
	return nil
}

func (s *HTTPSource) Read(p []byte) (int, error) {
	if s.body == nil {
		return 0, ErrNotOpened
	}
	n, err := s.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read %s: %w", s.url, err)
	}
	return n, err
}

func (s *HTTPSource) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *HTTPSource) Clone() Source {
	return &HTTPSource{
		url:     s.url,
		client:  s.client,
		headers: s.headers,
		meta:    s.meta,
	}
}

func (s *HTTPSource) do(ctx context.Context, method string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	CopyHeaders(req.Header, s.headers)
	// 显式声明 identity，避免 Transport 透明解压导致偏移错位。
	req.Header.Set("Accept-Encoding", "identity")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return s.client.Do(req)
}

// parseContentRangeTotal 解析 "bytes 100-199/1000" 中的总长度，未知时返回 -1。
func parseContentRangeTotal(value string) int64 {
	idx := strings.LastIndexByte(value, '/')
	if idx < 0 {
		return -1
	}
	total, err := strconv.ParseInt(strings.TrimSpace(value[idx+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return total
}

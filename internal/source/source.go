package source

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable 表示探测源信息（长度/MIME）失败。
	ErrUnavailable = errors.New("source unavailable")
	// ErrNotOpened 表示在 Open 之前调用了 Read。
	ErrNotOpened = errors.New("source not opened")
	// ErrUnsupportedScheme 表示无法识别的源地址协议。
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
)

// Info 描述源资源的元数据，Length 为 -1 或 Mime 为空表示未知。
type Info struct {
	Length int64
	Mime   string
}

// LengthKnown 表示长度是否已知。
func (i Info) LengthKnown() bool {
	return i.Length >= 0
}

// Source 表示一个可从任意偏移重新打开、顺序读取的远端资源句柄。
type Source interface {
	// URL 返回源地址。
	URL() string
	// Info 返回源信息，首次调用时探测，之后复用结果。
	Info(ctx context.Context) (Info, error)
	// Open 将句柄定位到 offset，重复调用会关闭之前的响应后重新打开。
	Open(ctx context.Context, offset int64) error
	// Read 顺序读取数据，结束时返回 io.EOF。
	Read(p []byte) (int, error)
	// Close 释放当前响应，可重复调用。
	Close() error
	// Clone 返回共享元数据、但拥有独立连接的新句柄。
	Clone() Source
}

// InfoStorage 持久化探测到的源信息。
type InfoStorage interface {
	LoadInfo(rawURL string) (Info, bool)
	SaveInfo(rawURL string, info Info) error
}

// metadata 在同一资源的所有句柄间共享，singleflight 保证并发首次探测只回源一次。
type metadata struct {
	url     string
	storage InfoStorage

	mu    sync.Mutex
	info  Info
	known bool

	group singleflight.Group
}

func newMetadata(rawURL string, storage InfoStorage) *metadata {
	return &metadata{url: rawURL, storage: storage, info: Info{Length: -1}}
}

func (m *metadata) load(ctx context.Context, probe func(context.Context) (Info, error)) (Info, error) {
	if info, ok := m.cached(); ok {
		return info, nil
	}
	if m.storage != nil {
		if info, ok := m.storage.LoadInfo(m.url); ok {
			m.set(info, false)
			return info, nil
		}
	}

	// 探测使用与请求解耦的 context，单个调用方超时不会取消其他等待者共享的探测。
	ch := m.group.DoChan(m.url, func() (any, error) {
		if info, ok := m.cached(); ok {
			return info, nil
		}
		info, err := probe(context.WithoutCancel(ctx))
		if err != nil {
			return Info{}, err
		}
		m.set(info, true)
		return info, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Info{Length: -1}, res.Err
		}
		return res.Val.(Info), nil
	case <-ctx.Done():
		return Info{Length: -1}, ctx.Err()
	}
}

// learn 在打开连接时补全尚未探测到的元数据。
func (m *metadata) learn(info Info) {
	m.mu.Lock()
	if m.known {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.set(info, true)
}

func (m *metadata) cached() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, m.known
}

func (m *metadata) set(info Info, persist bool) {
	m.mu.Lock()
	m.info = info
	m.known = true
	m.mu.Unlock()
	if persist && m.storage != nil && info.LengthKnown() {
		_ = m.storage.SaveInfo(m.url, info)
	}
}

package videocache

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/cache"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/logging"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
)

// StoreOpener 为 URL 打开缓存 store。
type StoreOpener interface {
	Open(rawURL string) (cache.Store, error)
}

// SourceFactory 为 URL 创建源句柄。
type SourceFactory interface {
	New(rawURL string) (source.Source, error)
}

// ResourceStatus 是注册表中单个资源的状态。
type ResourceStatus struct {
	State
	Clients int
}

// Registry 按 URL 共享 Responder，最后一个连接释放时拆除资源。
// 拆除在注册表锁之外进行，只阻塞同一 URL 的后续 Acquire。
// 监听器回调在资源内部的锁之外执行，但不得回调 Registry。
type Registry struct {
	stores  StoreOpener
	sources SourceFactory
	opts    Options
	logger  logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry
	// closing 记录正在拆除的 URL，拆除结束时关闭对应 channel。
	closing map[string]chan struct{}
	closed  bool
}

type entry struct {
	resource  *Resource
	responder *Responder
	store     cache.Store
	clients   int
}

// NewRegistry 创建注册表，opts 会传给每个新建的 Responder。
func NewRegistry(stores StoreOpener, sources SourceFactory, opts Options) *Registry {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Registry{
		stores:  stores,
		sources: sources,
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*entry),
		closing: make(map[string]chan struct{}),
	}
}

// Acquire 返回 URL 对应的 Responder 以及释放函数，调用方在连接结束时必须调用 release。
func (g *Registry) Acquire(rawURL string) (*Responder, func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if g.closed {
			return nil, nil, ErrShutdown
		}
		done, ok := g.closing[rawURL]
		if !ok {
			break
		}
		g.mu.Unlock()
		<-done
		g.mu.Lock()
	}

	e := g.entries[rawURL]
	if e == nil {
		src, err := g.sources.New(rawURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := g.stores.Open(rawURL)
		if err != nil {
			return nil, nil, err
		}
		resource := NewResource(rawURL, src, store, ResourceOptions{
			ChunkSize: g.opts.BufferSize,
			Logger:    g.logger,
		})
		e = &entry{
			resource:  resource,
			responder: NewResponder(resource, store, src, g.opts),
			store:     store,
		}
		g.entries[rawURL] = e
		fields := logging.ResourceFields("registry", rawURL)
		fields["available"] = store.Available()
		fields["completed"] = store.IsCompleted()
		g.logger.WithFields(fields).Debug("resource_opened")
	}
	e.clients++

	var once sync.Once
	release := func() {
		once.Do(func() { g.release(rawURL, e) })
	}
	return e.responder, release, nil
}

// IsCached 表示 URL 当前是否有活跃资源且已完整缓存。
func (g *Registry) IsCached(rawURL string) bool {
	g.mu.Lock()
	e := g.entries[rawURL]
	g.mu.Unlock()
	return e != nil && e.store.IsCompleted()
}

// Clients 返回当前活跃连接总数。
func (g *Registry) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, e := range g.entries {
		total += e.clients
	}
	return total
}

// Snapshot 返回所有活跃资源的状态，按 URL 排序。
func (g *Registry) Snapshot() []ResourceStatus {
	g.mu.Lock()
	statuses := make([]ResourceStatus, 0, len(g.entries))
	for _, e := range g.entries {
		statuses = append(statuses, ResourceStatus{State: e.resource.Snapshot(), Clients: e.clients})
	}
	g.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].URL < statuses[j].URL
	})
	return statuses
}

// Shutdown 拆除全部资源，之后的 Acquire 返回 ErrShutdown。
// 返回前等待所有进行中的拆除结束。
func (g *Registry) Shutdown() {
	g.mu.Lock()
	g.closed = true
	entries := g.entries
	g.entries = make(map[string]*entry)
	pending := make([]chan struct{}, 0, len(g.closing))
	for _, done := range g.closing {
		pending = append(pending, done)
	}
	g.mu.Unlock()

	for rawURL, e := range entries {
		g.closeEntry(rawURL, e)
	}
	for _, done := range pending {
		<-done
	}
}

func (g *Registry) release(rawURL string, e *entry) {
	g.mu.Lock()
	e.clients--
	if e.clients > 0 || g.entries[rawURL] != e {
		g.mu.Unlock()
		return
	}
	delete(g.entries, rawURL)
	done := make(chan struct{})
	g.closing[rawURL] = done
	g.mu.Unlock()

	g.closeEntry(rawURL, e)

	g.mu.Lock()
	delete(g.closing, rawURL)
	g.mu.Unlock()
	close(done)
}

func (g *Registry) closeEntry(rawURL string, e *entry) {
	e.responder.Close()
	e.resource.Shutdown()
	fields := logging.ResourceFields("registry", rawURL)
	if err := e.store.Close(); err != nil {
		g.logger.WithFields(fields).WithError(err).Warn("resource_close_failed")
		return
	}
	g.logger.WithFields(fields).Debug("resource_released")
}

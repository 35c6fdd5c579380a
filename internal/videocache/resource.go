package videocache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/cache"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/logging"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
)

// ResourceOptions 控制后台拉取行为。
type ResourceOptions struct {
	// ChunkSize 是每次从源读取并追加到缓存的最大字节数。
	ChunkSize int
	Logger    logrus.FieldLogger
}

// Resource 是单写多读的同步缓存读取器：唯一的后台拉取协程写入 store，
// 任意数量的读者阻塞在 Read 上直到所需字节落盘、资源完成或拉取失败。
type Resource struct {
	url       string
	source    source.Source
	store     cache.Store
	chunkSize int
	logger    logrus.FieldLogger

	mu        sync.Mutex
	changed   *sync.Cond
	available int64
	total     int64
	completed bool
	err       error
	fetching  bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	// notifyMu 串行化进度通知，保证同一资源上的百分比严格递增。
	// percent 只在 notifyMu 下写入，Snapshot 无锁读取。
	notifyMu sync.Mutex
	percent  atomic.Int32

	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64
}

// State 是 Resource 的只读快照。
type State struct {
	URL       string
	Available int64
	Total     int64
	Completed bool
	Fetching  bool
	Percent   int
	Err       error
}

// NewResource 基于源句柄与缓存 store 创建资源。store 已完成时资源直接处于完成状态。
func NewResource(rawURL string, src source.Source, store cache.Store, opts ResourceOptions) *Resource {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	r := &Resource{
		url:       rawURL,
		source:    src,
		store:     store,
		chunkSize: opts.ChunkSize,
		logger:    logger,
		available: store.Available(),
		total:     -1,
		completed: store.IsCompleted(),
		listeners: make(map[uint64]Listener),
	}
	r.percent.Store(-1)
	if r.completed {
		r.total = r.available
	}
	r.changed = sync.NewCond(&r.mu)
	return r
}

// URL 返回资源地址。
func (r *Resource) URL() string {
	return r.url
}

// RegisterListener 注册进度监听，返回的函数用于注销，可重复调用。
func (r *Resource) RegisterListener(l Listener) func() {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenersMu.Lock()
			delete(r.listeners, id)
			r.listenersMu.Unlock()
		})
	}
}

// EnsureFetchStarted 在资源未完成且没有拉取协程时启动后台拉取；资源已完成时补发一次 100%。
func (r *Resource) EnsureFetchStarted() {
	r.mu.Lock()
	r.startFetchLocked()
	completed := r.completed
	r.mu.Unlock()
	if completed {
		r.notify(100)
	}
}

// Read 从 offset 处读取至多 len(p) 个字节，必要时阻塞等待后台拉取。
// 资源完成且 offset 越过末尾时返回 io.EOF；拉取失败后请求未缓存区域会返回 ErrFetchFailed。
func (r *Resource) Read(ctx context.Context, p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative read offset %d", offset)
	}
	if len(p) == 0 {
		return 0, nil
	}
	r.EnsureFetchStarted()

	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.changed.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	for {
		if r.closed {
			r.mu.Unlock()
			return 0, ErrShutdown
		}
		if r.available > offset {
			break
		}
		if r.completed {
			r.mu.Unlock()
			return 0, io.EOF
		}
		if r.err != nil {
			err := r.err
			r.mu.Unlock()
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			r.mu.Unlock()
			return 0, err
		}
		r.startFetchLocked()
		r.changed.Wait()
	}
	available := r.available
	r.mu.Unlock()

	if remaining := available - offset; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	return r.store.ReadAt(p, offset)
}

// Snapshot 返回当前状态。
func (r *Resource) Snapshot() State {
	r.mu.Lock()
	state := State{
		URL:       r.url,
		Available: r.available,
		Total:     r.total,
		Completed: r.completed,
		Fetching:  r.fetching,
		Err:       r.err,
	}
	r.mu.Unlock()

	state.Percent = int(r.percent.Load())
	switch {
	case state.Completed:
		state.Percent = 100
	case state.Percent < 0:
		state.Percent = percentOf(state.Available, state.Total)
		if state.Percent < 0 {
			state.Percent = 0
		}
	}
	return state
}

// Shutdown 停止后台拉取并唤醒所有等待者，之后的 Read 返回 ErrShutdown。
func (r *Resource) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.cancel
	done := r.done
	r.changed.Broadcast()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Resource) startFetchLocked() {
	if r.fetching || r.completed || r.err != nil || r.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.fetching = true
	r.cancel = cancel
	r.done = done
	go r.fetch(ctx, cancel, done)
}

func (r *Resource) fetch(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	started := time.Now()
	err := r.pull(ctx)

	r.mu.Lock()
	r.fetching = false
	aborted := r.closed || ctx.Err() != nil
	if err != nil && !aborted {
		r.err = fmt.Errorf("%w: %s: %w", ErrFetchFailed, r.url, err)
	}
	available := r.available
	r.changed.Broadcast()
	r.mu.Unlock()

	fields := logging.ResourceFields("fetch", r.url)
	fields["available"] = available
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	switch {
	case err == nil:
		r.logger.WithFields(fields).Info("fetch_complete")
	case aborted:
		r.logger.WithFields(fields).Debug("fetch_stopped")
	default:
		r.logger.WithFields(fields).WithError(err).Warn("fetch_failed")
	}
}

// pull 使用私有的源句柄从已缓存末尾续传，直到 EOF、出错或被取消。
func (r *Resource) pull(ctx context.Context) error {
	src := r.source.Clone()
	defer src.Close()

	info, err := src.Info(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	offset := r.available
	if info.LengthKnown() {
		r.total = info.Length
	}
	total := r.total
	if total >= 0 && offset > total {
		if err := r.resetLocked(total); err != nil {
			r.mu.Unlock()
			return err
		}
		offset = 0
	}
	r.mu.Unlock()

	if err := src.Open(ctx, offset); err != nil {
		return err
	}

	buf := make([]byte, r.chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if total >= 0 && offset+int64(n) > total {
				return fmt.Errorf("source sent more than %d bytes", total)
			}
			if err := r.store.Append(buf[:n]); err != nil {
				return err
			}
			offset += int64(n)

			r.mu.Lock()
			r.available = offset
			r.changed.Broadcast()
			r.mu.Unlock()

			// 长度已知时读满即完成，不依赖源站随后的 EOF。
			if total >= 0 && offset == total {
				return r.complete(offset, total)
			}
			if percent := percentOf(offset, total); percent >= 0 {
				r.notify(percent)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return r.complete(offset, total)
		}
		if readErr != nil {
			return readErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// DiscardStale 在源站长度已知且残留的未完成缓存超过该长度时清空缓存。
// 拉取进行中或资源已完成时不做任何处理。
func (r *Resource) DiscardStale(length int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if length < 0 || r.completed || r.closed || r.fetching || r.available <= length {
		return nil
	}
	return r.resetLocked(length)
}

func (r *Resource) resetLocked(length int64) error {
	stale := r.available
	if err := r.store.Reset(); err != nil {
		return fmt.Errorf("reset stale cache: %w", err)
	}
	r.available = 0
	r.changed.Broadcast()

	fields := logging.ResourceFields("fetch", r.url)
	fields["stale_bytes"] = stale
	fields["length"] = length
	r.logger.WithFields(fields).Warn("cache_discarded")
	return nil
}

func (r *Resource) complete(offset, total int64) error {
	if total >= 0 && offset != total {
		return fmt.Errorf("source ended at %d of %d bytes", offset, total)
	}
	if err := r.store.Complete(); err != nil {
		return err
	}

	r.mu.Lock()
	r.completed = true
	r.total = offset
	r.changed.Broadcast()
	r.mu.Unlock()

	r.notify(100)
	r.notifyComplete()
	return nil
}

// notifyComplete 只在本次拉取真正完成下载时调用，复用已完成缓存不会触发。
func (r *Resource) notifyComplete() {
	for _, l := range r.snapshotListeners() {
		if c, ok := l.(CompletionListener); ok {
			c.OnComplete(r.url)
		}
	}
}

func (r *Resource) snapshotListeners() []Listener {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

// notify 仅在百分比上升时通知监听者。
func (r *Resource) notify(percent int) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if int32(percent) <= r.percent.Load() {
		return
	}
	r.percent.Store(int32(percent))

	for _, l := range r.snapshotListeners() {
		l.OnProgress(r.url, percent)
	}
}

package videocache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/cache"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
)

const (
	// DefaultBufferSize 是流式输出与后台拉取使用的缓冲大小。
	DefaultBufferSize = 8 * 1024
	// DefaultNoCacheBarrier 是允许走缓存的区间起点超出已缓存范围的比例上限。
	DefaultNoCacheBarrier = 0.2
)

// Options 控制 Responder 的缓冲与决策参数。
type Options struct {
	BufferSize int
	// NoCacheBarrier 为 0 时，只要起点超出已缓存字节就绕过缓存。
	NoCacheBarrier float64
	HybridPlayback bool
	// Listener 接收 (url, percent) 进度转发，可为空。
	Listener Listener
	Logger   logrus.FieldLogger
}

// DefaultOptions 返回默认缓冲大小与 barrier 的选项。
func DefaultOptions() Options {
	return Options{
		BufferSize:     DefaultBufferSize,
		NoCacheBarrier: DefaultNoCacheBarrier,
	}
}

// Responder 为同一资源上的请求输出响应头和正文。
type Responder struct {
	url      string
	resource *Resource
	store    cache.Store
	source   source.Source
	opts     Options
	logger   logrus.FieldLogger

	closeOnce  sync.Once
	unregister func()
}

// NewResponder 绑定资源、缓存与源句柄，并把资源进度转发给 opts.Listener。
func NewResponder(res *Resource, store cache.Store, src source.Source, opts Options) *Responder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	r := &Responder{
		url:      res.URL(),
		resource: res,
		store:    store,
		source:   src,
		opts:     opts,
		logger:   logger,
	}
	r.unregister = res.RegisterListener(relay{target: opts.Listener})
	return r
}

// URL 返回资源地址。
func (r *Responder) URL() string {
	return r.url
}

// Resource 返回底层资源。
func (r *Responder) Resource() *Resource {
	return r.resource
}

// Prepare 探测源信息并计算响应头，不写任何字节。
// 区间起点不小于已知长度时返回 ErrRangeNotSatisfiable。
func (r *Responder) Prepare(ctx context.Context, req Request) (ResponseHead, error) {
	if req.RangeOffset < 0 {
		return ResponseHead{}, fmt.Errorf("negative range offset %d", req.RangeOffset)
	}
	info, err := r.source.Info(ctx)
	if err != nil {
		return ResponseHead{}, err
	}
	length := info.Length
	if r.store.IsCompleted() {
		length = r.store.Available()
	} else if err := r.resource.DiscardStale(info.Length); err != nil {
		return ResponseHead{}, err
	}
	head := ResponseHead{
		Partial: req.Partial,
		Offset:  req.RangeOffset,
		Length:  length,
		Mime:    info.Mime,
	}
	if req.Partial && head.LengthKnown() && req.RangeOffset >= head.Length {
		return head, fmt.Errorf("%w: offset %d, length %d", ErrRangeNotSatisfiable, req.RangeOffset, head.Length)
	}
	return head, nil
}

// Decide 返回请求在当前缓存状态下会使用的输出策略。
func (r *Responder) Decide(req Request, head ResponseHead) Strategy {
	useCache := UseCache(req, head.Length, r.store.Available(), r.opts.NoCacheBarrier)
	return SelectStrategy(req.Intent, useCache, r.opts.HybridPlayback)
}

// ProcessRequest 向 sink 写出完整的 HTTP 响应，返回实际使用的策略。
// 写 sink 失败的错误包装为 ErrTransportClosed。
func (r *Responder) ProcessRequest(ctx context.Context, req Request, sink io.Writer) (Strategy, error) {
	head, err := r.Prepare(ctx, req)
	if err != nil {
		return StrategyNone, err
	}
	return r.Respond(ctx, req, head, sink)
}

// Respond 使用已计算好的响应头输出响应。
func (r *Responder) Respond(ctx context.Context, req Request, head ResponseHead, sink io.Writer) (Strategy, error) {
	strategy := r.Decide(req, head)
	r.logger.WithFields(logrus.Fields{
		"url":       r.url,
		"strategy":  strategy.String(),
		"offset":    req.RangeOffset,
		"available": r.store.Available(),
		"length":    head.Length,
	}).Debug("strategy_selected")
	if _, err := io.WriteString(sink, head.String()); err != nil {
		return strategy, transportError(err)
	}

	var err error
	switch strategy {
	case StrategyCached:
		err = r.respondCached(ctx, sink, req.RangeOffset)
	case StrategyLive:
		err = r.respondLive(ctx, sink, req.RangeOffset)
	case StrategyHybrid:
		err = r.respondHybrid(ctx, sink, req.RangeOffset)
	}
	return strategy, err
}

// Close 注销进度转发，可重复调用。
func (r *Responder) Close() {
	r.closeOnce.Do(func() {
		if r.unregister != nil {
			r.unregister()
		}
	})
}

// respondCached 通过资源阻塞读取，驱动后台拉取。
func (r *Responder) respondCached(ctx context.Context, sink io.Writer, offset int64) error {
	buf := make([]byte, r.opts.BufferSize)
	for {
		n, err := r.resource.Read(ctx, buf, offset)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return transportError(werr)
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// respondLive 使用请求私有的源句柄直接回源，不写缓存，退出时关闭句柄。
func (r *Responder) respondLive(ctx context.Context, sink io.Writer, offset int64) error {
	src := r.source.Clone()
	defer src.Close()

	if err := src.Open(ctx, offset); err != nil {
		return err
	}
	buf := make([]byte, r.opts.BufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return transportError(werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
}

// respondHybrid 在剩余已缓存字节不少于一个缓冲区时直接从 store 读取，之后转为回源。
func (r *Responder) respondHybrid(ctx context.Context, sink io.Writer, offset int64) error {
	buf := make([]byte, r.opts.BufferSize)
	for r.store.Available()-offset >= int64(len(buf)) {
		n, err := r.store.ReadAt(buf, offset)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return transportError(werr)
			}
			offset += int64(n)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
	if r.store.IsCompleted() {
		return r.drainStore(sink, buf, offset)
	}
	return r.respondLive(ctx, sink, offset)
}

// drainStore 输出已完成缓存中不足一个缓冲区的尾部。
func (r *Responder) drainStore(sink io.Writer, buf []byte, offset int64) error {
	for {
		n, err := r.store.ReadAt(buf, offset)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return transportError(werr)
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) || n == 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// relay 把资源事件转发给外部监听者，target 可为空。
type relay struct {
	target Listener
}

func (r relay) OnProgress(url string, percent int) {
	if r.target != nil {
		r.target.OnProgress(url, percent)
	}
}

func (r relay) OnComplete(url string) {
	if c, ok := r.target.(CompletionListener); ok {
		c.OnComplete(url)
	}
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

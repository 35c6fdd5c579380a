package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/logging"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/metrics"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/server"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/videocache"
)

// CacheIndex 判断资源是否已完整缓存在磁盘上。
type CacheIndex interface {
	IsCached(rawURL string) bool
}

// Options 汇总 Handler 的依赖。
type Options struct {
	Registry *videocache.Registry
	Cache    CacheIndex
	Metrics  *metrics.Collector
	Logger   *logrus.Logger
}

// Handler 把播放器请求交给共享的 Responder：头部决策在 fiber 内完成，
// 正文在劫持后的原始连接上以流的方式写出。
type Handler struct {
	registry *videocache.Registry
	cache    CacheIndex
	metrics  *metrics.Collector
	logger   *logrus.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	streams sync.WaitGroup
}

// NewHandler constructs a proxy handler bound to the shared registry.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		registry: opts.Registry,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}, nil
}

// IsCached 判断资源是否已完整缓存，活跃资源与磁盘文件都会检查。
func (h *Handler) IsCached(rawURL string) bool {
	if h.registry.IsCached(rawURL) {
		return true
	}
	return h.cache != nil && h.cache.IsCached(rawURL)
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, err := ParseRequest(c)
	if err != nil {
		h.logRejected(videocache.Request{}, requestID, err)
		return writeError(c, fiber.StatusBadRequest, "invalid_url")
	}

	responder, release, err := h.registry.Acquire(req.URL)
	if err != nil {
		return h.respondFailure(c, req, requestID, started, err, videocache.ResponseHead{})
	}

	ctx, cancel := context.WithCancel(h.baseCtx)
	head, err := responder.Prepare(ctx, req)
	if err != nil {
		cancel()
		release()
		return h.respondFailure(c, req, requestID, started, err, head)
	}

	if c.Method() == fiber.MethodHead {
		cancel()
		release()
		writeHead(c, head)
		h.metrics.RecordRequest(videocache.StrategyNone.String(), metrics.OutcomeOK, time.Since(started), 0)
		return nil
	}

	h.streams.Add(1)
	closeConn := h.metrics.ConnectionOpened()
	rc := c.RequestCtx()
	rc.HijackSetNoResponse(true)
	rc.Hijack(func(conn net.Conn) {
		defer h.streams.Done()
		defer closeConn()
		defer release()
		defer cancel()
		h.serve(ctx, cancel, conn, responder, req, head, requestID, started)
	})
	return nil
}

// Shutdown 取消所有进行中的流并等待它们退出。
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) serve(
	ctx context.Context,
	cancel context.CancelFunc,
	conn net.Conn,
	responder *videocache.Responder,
	req videocache.Request,
	head videocache.ResponseHead,
	requestID string,
	started time.Time,
) {
	sink := &countingWriter{w: conn}
	strategy := videocache.StrategyNone
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		h.logResult(req, requestID, strategy, sink.n, started, err)
		h.metrics.RecordRequest(strategy.String(), outcomeOf(err), time.Since(started), sink.n)
	}()

	go watchDisconnect(conn, cancel)
	strategy, err = responder.Respond(ctx, req, head, sink)
}

// watchDisconnect 在客户端关闭连接后取消请求，唤醒阻塞中的读取。
func watchDisconnect(conn net.Conn, cancel context.CancelFunc) {
	_, _ = io.Copy(io.Discard, conn)
	cancel()
}

func (h *Handler) respondFailure(c fiber.Ctx, req videocache.Request, requestID string, started time.Time, err error, head videocache.ResponseHead) error {
	status, code := classifyError(err)
	h.logResult(req, requestID, videocache.StrategyNone, 0, started, err)
	h.metrics.RecordRequest(videocache.StrategyNone.String(), outcomeOf(err), time.Since(started), 0)
	if status == fiber.StatusRequestedRangeNotSatisfiable && head.LengthKnown() {
		c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(head.Length, 10))
	}
	return writeError(c, status, code)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, videocache.ErrRangeNotSatisfiable):
		return fiber.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable"
	case errors.Is(err, source.ErrUnsupportedScheme):
		return fiber.StatusBadRequest, "unsupported_scheme"
	case errors.Is(err, source.ErrUnavailable):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, videocache.ErrShutdown):
		return fiber.StatusServiceUnavailable, "shutting_down"
	default:
		return fiber.StatusInternalServerError, "proxy_failed"
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, videocache.ErrTransportClosed), errors.Is(err, context.Canceled):
		return metrics.OutcomeClientClosed
	case errors.Is(err, videocache.ErrRangeNotSatisfiable):
		return metrics.OutcomeRangeNotSatisfiable
	case errors.Is(err, videocache.ErrFetchFailed), errors.Is(err, source.ErrUnavailable):
		return metrics.OutcomeUpstreamFailed
	default:
		return metrics.OutcomeError
	}
}

func writeHead(c fiber.Ctx, head videocache.ResponseHead) {
	c.Status(head.StatusCode())
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	if head.LengthKnown() {
		c.Response().Header.SetContentLength(int(head.ContentLength()))
	}
	if cr := head.ContentRange(); cr != "" {
		c.Set(fiber.HeaderContentRange, cr)
	}
	if head.MimeKnown() {
		c.Set(fiber.HeaderContentType, head.Mime)
	}
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logRejected(req videocache.Request, requestID string, err error) {
	fields := logging.RequestFields(req.URL, requestID, "", req.RangeOffset, req.Partial)
	fields["action"] = "proxy"
	h.logger.WithFields(fields).WithError(err).Warn("proxy_rejected")
}

func (h *Handler) logResult(req videocache.Request, requestID string, strategy videocache.Strategy, written int64, started time.Time, err error) {
	fields := logging.RequestFields(req.URL, requestID, strategy.String(), req.RangeOffset, req.Partial)
	fields["action"] = "proxy"
	fields["intent"] = req.Intent.String()
	fields["bytes"] = written
	fields["elapsed_ms"] = time.Since(started).Milliseconds()

	entry := h.logger.WithFields(fields)
	switch outcomeOf(err) {
	case metrics.OutcomeOK:
		entry.Info("proxy_complete")
	case metrics.OutcomeClientClosed:
		entry.WithError(err).Debug("proxy_client_closed")
	default:
		entry.WithError(err).Warn("proxy_failed")
	}
}

// countingWriter 统计写给播放器的字节数。
type countingWriter struct {
	w io.Writer
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/cache"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/metrics"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/server"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/videocache"
)

type proxyFixture struct {
	addr     *net.TCPAddr
	baseURL  string
	origin   *httptest.Server
	gets     *atomic.Int32
	data     []byte
	handler  *Handler
	manager  *cache.Manager
	registry *videocache.Registry
	client   *http.Client
}

func newProxyFixture(t *testing.T, data []byte) *proxyFixture {
	t.Helper()

	gets := &atomic.Int32{}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "video.mp4", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(origin.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	manager, err := cache.NewManager(t.TempDir(), 0, logger)
	require.NoError(t, err)
	collector := metrics.NewCollector(true)
	factory := source.NewFactory(source.FactoryOptions{Client: origin.Client(), Storage: manager})
	opts := videocache.DefaultOptions()
	opts.Logger = logger
	opts.Listener = videocache.Listeners{collector, ProgressLogger(logger)}
	registry := videocache.NewRegistry(manager, factory, opts)

	handler, err := NewHandler(Options{Registry: registry, Cache: manager, Metrics: collector, Logger: logger})
	require.NoError(t, err)

	app, err := server.NewApp(server.AppOptions{Logger: logger, Proxy: handler})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = handler.Shutdown(ctx)
		_ = app.Shutdown()
		registry.Shutdown()
	})

	return &proxyFixture{
		addr:     ln.Addr().(*net.TCPAddr),
		baseURL:  "http://" + ln.Addr().String(),
		origin:   origin,
		gets:     gets,
		data:     data,
		handler:  handler,
		manager:  manager,
		registry: registry,
		client:   &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second},
	}
}

func (f *proxyFixture) proxied(path string, preload bool) string {
	return ProxyURL(f.addr.IP.String(), f.addr.Port, f.origin.URL+path, preload)
}

func (f *proxyFixture) get(t *testing.T, method, target, rangeHeader string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}

func TestProxyServesFullResponseAndCaches(t *testing.T) {
	f := newProxyFixture(t, payload(200*1024))
	target := f.proxied("/video.mp4", false)

	resp, body := f.get(t, http.MethodGet, target, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.EqualValues(t, len(f.data), resp.ContentLength)
	assert.Equal(t, f.data, body)

	require.Eventually(t, func() bool { return f.handler.IsCached(f.origin.URL + "/video.mp4") }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.registry.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	getsBefore := f.gets.Load()

	resp, body = f.get(t, http.MethodGet, target, "bytes=100-")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("bytes 100-%d/%d", len(f.data)-1, len(f.data)), resp.Header.Get("Content-Range"))
	assert.Equal(t, f.data[100:], body)
	assert.Equal(t, getsBefore, f.gets.Load(), "completed resources are served from disk")
}

func TestProxySeekBeyondBarrierGoesLive(t *testing.T) {
	f := newProxyFixture(t, payload(500*1024))
	offset := 400 * 1024

	resp, body := f.get(t, http.MethodGet, f.proxied("/video.mp4", false), fmt.Sprintf("bytes=%d-", offset))
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, f.data[offset:], body)
	assert.False(t, f.manager.IsCached(f.origin.URL+"/video.mp4"))
}

func TestProxyPreloadBypassReturnsHeadersOnly(t *testing.T) {
	f := newProxyFixture(t, payload(500*1024))

	req, err := http.NewRequest(http.MethodGet, f.proxied("/video.mp4", true), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=400000-")
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.EqualValues(t, len(f.data)-400000, resp.ContentLength)
	n, err := io.Copy(io.Discard, resp.Body)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "headers only, the connection closes without a body")
	assert.False(t, f.manager.IsCached(f.origin.URL+"/video.mp4"))
}

func TestProxyHeadRequest(t *testing.T) {
	f := newProxyFixture(t, payload(4096))

	resp, _ := f.get(t, http.MethodHead, f.proxied("/video.mp4", false), "bytes=96-")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 96-4095/4096", resp.Header.Get("Content-Range"))
	assert.Equal(t, "4000", resp.Header.Get("Content-Length"))
}

func TestProxyErrors(t *testing.T) {
	f := newProxyFixture(t, payload(1000))

	resp, body := f.get(t, http.MethodGet, f.baseURL+"/?url=not-a-url", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "invalid_url")

	resp, body = f.get(t, http.MethodGet, f.proxied("/missing.mp4", false), "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "upstream_failed")

	resp, body = f.get(t, http.MethodGet, f.proxied("/video.mp4", false), "bytes=1000-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */1000", resp.Header.Get("Content-Range"))
	assert.Contains(t, string(body), "range_not_satisfiable")

	resp, body = f.get(t, http.MethodGet, f.baseURL+"/?url="+url.QueryEscape("ftp://host/file"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "unsupported_scheme")
}

func TestClassifyAndOutcome(t *testing.T) {
	status, code := classifyError(fmt.Errorf("wrap: %w", source.ErrUnavailable))
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "upstream_failed", code)

	status, _ = classifyError(errors.New("other"))
	assert.Equal(t, fiber.StatusInternalServerError, status)

	assert.Equal(t, metrics.OutcomeOK, outcomeOf(nil))
	assert.Equal(t, metrics.OutcomeClientClosed, outcomeOf(fmt.Errorf("%w: broken pipe", videocache.ErrTransportClosed)))
	assert.Equal(t, metrics.OutcomeClientClosed, outcomeOf(context.Canceled))
	assert.Equal(t, metrics.OutcomeUpstreamFailed, outcomeOf(videocache.ErrFetchFailed))
	assert.Equal(t, metrics.OutcomeError, outcomeOf(errors.New("disk full")))
}

func TestHandlerShutdownWithoutStreams(t *testing.T) {
	f := newProxyFixture(t, payload(10))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.handler.Shutdown(ctx))
}

func TestProxyClientDisconnectReleasesResource(t *testing.T) {
	f := newProxyFixture(t, payload(10))

	unblock := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1048576")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(payload(64 * 1024))
		w.(http.Flusher).Flush()
		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(unblock) })

	rawURL := slow.URL + "/stalled.mp4"
	resp, err := f.client.Get(ProxyURL(f.addr.IP.String(), f.addr.Port, rawURL, false))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = io.ReadFull(resp.Body, make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Eventually(t, func() bool { return f.registry.Clients() == 0 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, f.handler.IsCached(rawURL))
	assert.Empty(t, f.registry.Snapshot())
}

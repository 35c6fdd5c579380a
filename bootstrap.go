package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/cache"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/config"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/logging"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/metrics"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/proxy"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/server"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/server/routes"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/videocache"
)

const shutdownTimeout = 10 * time.Second

// application 持有一次运行中需要关闭的组件。
type application struct {
	app      *fiber.App
	handler  *proxy.Handler
	registry *videocache.Registry
	logger   *logrus.Logger
}

// buildApplication 按配置装配缓存、回源、Registry 与 HTTP 路由。
func buildApplication(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*application, error) {
	manager, err := cache.NewManager(cfg.Global.StoragePath, cfg.Global.MaxCacheSize, logging.Component(logger, "cache"))
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	factoryOpts := source.FactoryOptions{
		Client:  server.NewUpstreamClient(cfg),
		Headers: cfg.OriginHeaders(),
		Storage: manager,
	}
	if cfg.Global.S3Region != "" || cfg.Global.S3Endpoint != "" {
		client, err := source.NewS3Client(ctx, cfg.Global.S3Region, cfg.Global.S3Endpoint)
		if err != nil {
			return nil, err
		}
		factoryOpts.S3 = client
	}

	collector := metrics.NewCollector(cfg.Global.MetricsEnabled)
	registry := videocache.NewRegistry(manager, source.NewFactory(factoryOpts), videocache.Options{
		BufferSize:     cfg.Global.BufferSize,
		NoCacheBarrier: cfg.Global.NoCacheBarrier,
		HybridPlayback: cfg.Global.HybridPlayback,
		Listener:       videocache.Listeners{collector, proxy.ProgressLogger(logging.Component(logger, "fetch"))},
		Logger:         logging.Component(logger, "fetch"),
	})

	handler, err := proxy.NewHandler(proxy.Options{
		Registry: registry,
		Cache:    manager,
		Metrics:  collector,
		Logger:   logger,
	})
	if err != nil {
		registry.Shutdown()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{Logger: logger, Proxy: handler})
	if err != nil {
		registry.Shutdown()
		return nil, err
	}
	diagnostics := routes.DiagnosticsOptions{Status: registry, Cache: handler}
	if collector.Enabled() {
		diagnostics.Metrics = collector.Handler()
	}
	routes.RegisterDiagnostics(app, diagnostics)

	return &application{app: app, handler: handler, registry: registry, logger: logger}, nil
}

// serve 监听 addr 直到 ctx 取消，随后依次关闭流、HTTP 服务与后台拉取。
func (a *application) serve(ctx context.Context, addr string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.WithFields(logrus.Fields{"action": "listen", "addr": addr}).Info("Fiber 服务启动")
		return a.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 劫持后的连接不受 fasthttp 管理，需要先取消。
	streamErr := a.handler.Shutdown(ctx)
	appErr := a.app.ShutdownWithTimeout(shutdownTimeout)
	a.registry.Shutdown()

	a.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("服务已停止")
	if streamErr != nil {
		return fmt.Errorf("等待代理流退出超时: %w", streamErr)
	}
	return appErr
}

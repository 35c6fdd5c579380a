package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler describes the component responsible for serving proxied media
// requests. It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	Proxy  ProxyHandler
}

const contextKeyRequestID = "_videocache_request_id"

// NewApp builds a Fiber application that hands every non-diagnostics path to
// the proxy handler.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "videocache",
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Proxy.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/videocache"
)

// StatusSource 提供活跃资源快照。
type StatusSource interface {
	Snapshot() []videocache.ResourceStatus
}

// CacheIndex 判断资源是否已完整缓存。
type CacheIndex interface {
	IsCached(rawURL string) bool
}

// DiagnosticsOptions 汇总诊断接口的数据来源，字段为空时对应接口不注册。
type DiagnosticsOptions struct {
	Status  StatusSource
	Cache   CacheIndex
	Metrics http.Handler
}

// RegisterDiagnostics 暴露 /-/ping、/-/status、/-/cached 与 /-/metrics。
func RegisterDiagnostics(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}

	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("ping ok")
	})

	if opts.Status != nil {
		app.Get("/-/status", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{"resources": encodeStatuses(opts.Status.Snapshot())})
		})
	}

	if opts.Cache != nil {
		app.Get("/-/cached", func(c fiber.Ctx) error {
			rawURL := c.Query("url")
			if rawURL == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
			}
			return c.JSON(fiber.Map{"url": rawURL, "cached": opts.Cache.IsCached(rawURL)})
		})
	}

	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics))
	}
}

type resourcePayload struct {
	URL       string `json:"url"`
	Available int64  `json:"available"`
	Total     int64  `json:"total"`
	Percent   int    `json:"percent"`
	Completed bool   `json:"completed"`
	Fetching  bool   `json:"fetching"`
	Clients   int    `json:"clients"`
	Error     string `json:"error,omitempty"`
}

func encodeStatuses(statuses []videocache.ResourceStatus) []resourcePayload {
	result := make([]resourcePayload, 0, len(statuses))
	for _, s := range statuses {
		item := resourcePayload{
			URL:       s.URL,
			Available: s.Available,
			Total:     s.Total,
			Percent:   s.Percent,
			Completed: s.Completed,
			Fetching:  s.Fetching,
			Clients:   s.Clients,
		}
		if s.Err != nil {
			item.Error = s.Err.Error()
		}
		result = append(result, item)
	}
	return result
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "videocache"

// Outcome 取值用于 requests_total 的 outcome 标签。
const (
	OutcomeOK                  = "ok"
	OutcomeClientClosed        = "client_closed"
	OutcomeUpstreamFailed      = "upstream_failed"
	OutcomeRangeNotSatisfiable = "range_not_satisfiable"
	OutcomeError               = "error"
)

// Collector 汇总代理请求、流量与缓存完成情况。
type Collector struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	bytesServed       *prometheus.CounterVec
	activeConnections prometheus.Gauge
	completions       prometheus.Counter
}

// NewCollector 创建 Collector；enabled 为 false 时返回不记录任何数据的实例。
func NewCollector(enabled bool) *Collector {
	if !enabled {
		return &Collector{}
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied media requests by response strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent streaming a proxied media response.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		}, []string{"strategy"}),
		bytesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_served_total",
			Help:      "Bytes written to player connections, headers included.",
		}, []string{"strategy"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Player connections currently being served.",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_completions_total",
			Help:      "Resources fully downloaded into the cache.",
		}),
	}
	c.registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.bytesServed,
		c.activeConnections,
		c.completions,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Enabled 表示是否在记录指标。
func (c *Collector) Enabled() bool {
	return c != nil && c.registry != nil
}

// Handler 返回指标抓取端点；未启用时返回 404。
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordRequest 记录一次请求的策略、结果、耗时与输出字节数。
func (c *Collector) RecordRequest(strategy, outcome string, duration time.Duration, bytes int64) {
	if !c.Enabled() {
		return
	}
	c.requests.With(prometheus.Labels{"strategy": strategy, "outcome": outcome}).Inc()
	c.requestDuration.With(prometheus.Labels{"strategy": strategy}).Observe(duration.Seconds())
	if bytes > 0 {
		c.bytesServed.With(prometheus.Labels{"strategy": strategy}).Add(float64(bytes))
	}
}

// ConnectionOpened 增加活跃连接数，返回的函数用于减少。
func (c *Collector) ConnectionOpened() func() {
	if !c.Enabled() {
		return func() {}
	}
	c.activeConnections.Inc()
	return c.activeConnections.Dec
}

// OnProgress 实现 videocache.Listener；进度本身不计数。
func (c *Collector) OnProgress(string, int) {}

// OnComplete 在资源由本进程下载完成时计数，复用已完成缓存不计。
func (c *Collector) OnComplete(string) {
	if !c.Enabled() {
		return
	}
	c.completions.Inc()
}

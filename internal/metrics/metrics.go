// Package metrics 暴露代理的 Prometheus 指标，所有方法对 nil 接收者安全，
// 方便单元测试直接传 nil。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aurora_agent"

// Metrics 聚合所有计数器，使用独立 Registry 避免与全局默认注册表冲突。
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	cacheWrites   *prometheus.CounterVec
	precache      *prometheus.CounterVec
	evictions     prometheus.Counter
	notifications *prometheus.CounterVec
	clicks        *prometheus.CounterVec
	events        *prometheus.CounterVec
	pendingTasks  prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Intercepted fetch exchanges by strategy and response source.",
		}, []string{"strategy", "source"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache write attempts by result.",
		}, []string{"result"}),
		precache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precache_total",
			Help:      "App shell precache results.",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "namespace_evictions_total",
			Help:      "Stale cache namespaces deleted during activation.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_shown_total",
			Help:      "Notifications displayed by kind.",
		}, []string{"kind"}),
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_clicks_total",
			Help:      "Notification clicks by routing action.",
		}, []string{"action"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Dispatched worker events by kind and result.",
		}, []string{"kind", "result"}),
		pendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_tasks",
			Help:      "Outstanding lifetime-extending tasks.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetches,
		m.cacheWrites,
		m.precache,
		m.evictions,
		m.notifications,
		m.clicks,
		m.events,
		m.pendingTasks,
	)
	return m
}

// Handler 返回 /-/metrics 使用的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 暴露底层 Registry，供测试采集。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFetch(strategy, source string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(strategy, source).Inc()
}

func (m *Metrics) ObserveCacheWrite(err error) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) ObservePrecache(stored bool) {
	if m == nil {
		return
	}
	result := "stored"
	if !stored {
		result = "missed"
	}
	m.precache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) ObserveNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveClick(action string) {
	if m == nil {
		return
	}
	m.clicks.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveEvent(kind string, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, resultLabel(err)).Inc()
}

// TaskStarted / TaskFinished 跟踪未完成任务数。
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.pendingTasks.Inc()
}

func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.pendingTasks.Dec()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

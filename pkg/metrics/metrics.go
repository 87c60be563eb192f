package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guardian"

// Metrics 指标管理器。nil *Metrics 上的记录方法都是空操作，测试可以不注入
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 定位指标
	strategyTotal   *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec

	// 告警指标
	alertsTotal    *prometheus.CounterVec
	alertsLive     prometheus.Gauge
	fanoutFailures prometheus.Counter

	// 更新日志指标
	appendsTotal *prometheus.CounterVec

	// 限流指标
	rateLimitTotal *prometheus.CounterVec
}

// NewMetrics 在给定 registry 上注册全部指标
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		strategyTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_strategy_total",
				Help:      "Location strategy outcomes",
			},
			[]string{"strategy", "outcome"},
		),
		resolveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolver_duration_seconds",
				Help:      "Time for resolve to settle",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8, 12},
			},
			[]string{"source"},
		),

		alertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alert trigger attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		alertsLive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alerts_live",
				Help:      "Alerts currently live",
			},
		),
		fanoutFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_fanout_failures_total",
				Help:      "Per-recipient channel writes that failed during fan-out",
			},
		),

		appendsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updatelog_appends_total",
				Help:      "Records appended to update logs",
			},
			[]string{"kind"},
		),

		rateLimitTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_total",
				Help:      "Rate limiter decisions by route",
			},
			[]string{"route", "decision"},
		),
	}
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录HTTP请求
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStrategy 记录单个定位策略的结果
func (m *Metrics) RecordStrategy(strategy, outcome string) {
	if m == nil {
		return
	}
	m.strategyTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordResolve 记录一次 resolve，source 为胜出策略或失败原因
func (m *Metrics) RecordResolve(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resolveDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordAlert 记录一次触发
func (m *Metrics) RecordAlert(source, outcome string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(source, outcome).Inc()
}

// SetLive 当前进行中的告警数
func (m *Metrics) SetLive(n int) {
	if m == nil {
		return
	}
	m.alertsLive.Set(float64(n))
}

func (m *Metrics) RecordFanoutFailure() {
	if m == nil {
		return
	}
	m.fanoutFailures.Inc()
}

func (m *Metrics) RecordAppend(kind string) {
	if m == nil {
		return
	}
	m.appendsTotal.WithLabelValues(kind).Inc()
}

// OnAllow / OnDeny 供限流中间件上报
func (m *Metrics) OnAllow(route, _ string) {
	if m == nil {
		return
	}
	m.rateLimitTotal.WithLabelValues(route, "allow").Inc()
}

func (m *Metrics) OnDeny(route, _ string) {
	if m == nil {
		return
	}
	m.rateLimitTotal.WithLabelValues(route, "deny").Inc()
}

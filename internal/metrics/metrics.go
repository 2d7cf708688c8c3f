// Package metrics 执行与步骤的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "web_runner"

// Metrics 指标集合，nil 接收者上的方法均为空操作
type Metrics struct {
	registry *prometheus.Registry

	executionsTotal    *prometheus.CounterVec
	executionsRunning  prometheus.Gauge
	executionDuration  prometheus.Histogram
	stepsTotal         *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	navigationFallback prometheus.Counter
	eventsDropped      *prometheus.CounterVec
	browserLaunches    prometheus.Counter
	recordsEvicted     prometheus.Counter
	executionsRejected prometheus.Counter
}

// New 创建使用独立注册表的指标集合
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		executionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished executions by terminal status",
		}, []string{"status"}),
		executionsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_running",
			Help:      "Executions currently running",
		}),
		executionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Execution wall time in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed steps by action and status",
		}, []string{"action", "status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"action"}),
		navigationFallback: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_fallbacks_total",
			Help:      "Navigations retried with the relaxed readiness criterion",
		}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped by slow or failing sinks",
		}, []string{"sink"}),
		browserLaunches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_sessions_total",
			Help:      "Browser sessions acquired by runs",
		}),
		recordsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evicted_total",
			Help:      "Execution records evicted from the bounded store",
		}),
		executionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_rejected_total",
			Help:      "Submissions rejected because the run queue was full",
		}),
	}
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExecutionStarted 记录一次执行开始
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.executionsRunning.Inc()
}

// ExecutionFinished 记录一次执行结束
func (m *Metrics) ExecutionFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executionsRunning.Dec()
	m.executionsTotal.WithLabelValues(status).Inc()
	m.executionDuration.Observe(d.Seconds())
}

// StepFinished 记录一个步骤结果
func (m *Metrics) StepFinished(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(action, status).Inc()
	m.stepDuration.WithLabelValues(action).Observe(d.Seconds())
}

// NavigationFallback 记录一次导航降级重试
func (m *Metrics) NavigationFallback() {
	if m == nil {
		return
	}
	m.navigationFallback.Inc()
}

// EventDropped 记录一个被丢弃的事件
func (m *Metrics) EventDropped(sink string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(sink).Inc()
}

// SessionAcquired 记录一次浏览器会话获取
func (m *Metrics) SessionAcquired() {
	if m == nil {
		return
	}
	m.browserLaunches.Inc()
}

// RecordEvicted 记录一条被淘汰的执行记录
func (m *Metrics) RecordEvicted() {
	if m == nil {
		return
	}
	m.recordsEvicted.Inc()
}

// ExecutionRejected 记录一次因队列已满被拒绝的提交
func (m *Metrics) ExecutionRejected() {
	if m == nil {
		return
	}
	m.executionsRejected.Inc()
}

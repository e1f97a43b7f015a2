// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/longtask/task"
)

// 单次调用受时间预算约束，桶上限覆盖 15 分钟
var invocationBuckets = []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600, 900}

// Collector 持有独立的 Registry；每个 App 一个实例，测试之间互不干扰
type Collector struct {
	registry  *prometheus.Registry
	namespace string
	logger    *zap.Logger

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpBytes    *prometheus.HistogramVec

	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
	finished          *prometheus.CounterVec
	items             *prometheus.CounterVec

	dbConns *prometheus.GaugeVec
}

var _ task.MetricsRecorder = (*Collector)(nil)

// NewCollector 创建 Registry 并注册 Go 运行时与进程指标
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		registry:  reg,
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status class.",
		}, []string{"method", "path", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "body_bytes",
			Help:    "HTTP body sizes; direction is in or out.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"path", "direction"}),

		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "task", Name: "invocations_total",
			Help: "Task invocations by definition and resulting status.",
		}, []string{"definition", "outcome"}),
		invocationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "task", Name: "invocation_duration_seconds",
			Help:    "Wall time of a single task invocation.",
			Buckets: invocationBuckets,
		}, []string{"definition"}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "task", Name: "finished_total",
			Help: "Tasks that reached a terminal status.",
		}, []string{"definition", "status"}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "task", Name: "items_total",
			Help: "Items handled by runners, e.g. deleted entries or pruned logs.",
		}, []string{"definition", "action"}),

		dbConns: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: "connections",
			Help: "Database pool connections by state (open, idle).",
		}, []string{"database", "state"}),
	}
	return c
}

// Registry 供测试与额外的自定义指标使用
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 暴露本 Collector 的 Registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry:          c.registry,
		EnableOpenMetrics: true,
		ErrorLog:          zap.NewStdLog(c.logger),
	})
}

// WatchInFlight 注册调度器在途调用数，抓取时调用 fn 取值。只应调用一次。
func (c *Collector) WatchInFlight(fn func() int) {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace, Subsystem: "scheduler", Name: "in_flight",
		Help: "Task invocations currently running on this node.",
	}, func() float64 { return float64(fn()) })
	if err := c.registry.Register(gauge); err != nil {
		c.logger.Warn("in-flight gauge not registered", zap.Error(err))
	}
}

// TaskCounter 返回任务存储中按状态的记录数
type TaskCounter func(ctx context.Context) (map[task.Status]int64, error)

// taskCountCollector 抓取时读取任务存储；读取失败时本次不输出样本
type taskCountCollector struct {
	desc    *prometheus.Desc
	count   TaskCounter
	timeout time.Duration
	logger  *zap.Logger
}

var allStatuses = []task.Status{
	task.StatusPending, task.StatusRunning, task.StatusDone, task.StatusError, task.StatusAborted,
}

func (t *taskCountCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- t.desc
}

func (t *taskCountCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	counts, err := t.count(ctx)
	if err != nil {
		t.logger.Warn("task counts unavailable", zap.Error(err))
		return
	}
	for _, s := range allStatuses {
		ch <- prometheus.MustNewConstMetric(t.desc, prometheus.GaugeValue, float64(counts[s]), string(s))
	}
}

// WatchTaskCounts 注册按状态的任务记录数，抓取时调用 fn。只应调用一次。
func (c *Collector) WatchTaskCounts(fn TaskCounter) {
	tc := &taskCountCollector{
		desc: prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "task", "stored"),
			"Task records in the store by status.", []string{"status"}, nil),
		count:   fn,
		timeout: 5 * time.Second,
		logger:  c.logger,
	}
	if err := c.registry.Register(tc); err != nil {
		c.logger.Warn("task count gauge not registered", zap.Error(err))
	}
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
	if requestSize > 0 {
		c.httpBytes.WithLabelValues(path, "in").Observe(float64(requestSize))
	}
	c.httpBytes.WithLabelValues(path, "out").Observe(float64(responseSize))
}

// RecordInvocation outcome 为调用结束后的任务状态
func (c *Collector) RecordInvocation(definitionID string, outcome task.Status, duration time.Duration) {
	c.invocations.WithLabelValues(definitionID, string(outcome)).Inc()
	c.invocationLatency.WithLabelValues(definitionID).Observe(duration.Seconds())
}

func (c *Collector) RecordTaskFinished(definitionID string, status task.Status) {
	c.finished.WithLabelValues(definitionID, string(status)).Inc()
}

func (c *Collector) RecordItems(definitionID, action string, count int) {
	c.items.WithLabelValues(definitionID, action).Add(float64(count))
}

func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConns.WithLabelValues(database, "open").Set(float64(open))
	c.dbConns.WithLabelValues(database, "idle").Set(float64(idle))
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

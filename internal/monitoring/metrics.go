package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有记录方法都允许 nil 接收者，未启用监控时直接忽略。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 同步指标
	SyncRunsTotal    *prometheus.CounterVec // result: success, failed
	SyncRunsSkipped  *prometheus.CounterVec // trigger
	SyncRunDuration  prometheus.Histogram
	SyncRunsInFlight prometheus.Gauge
	SyncLastSuccess  prometheus.Gauge

	// 邮件记录指标
	RecordsIngested   prometheus.Counter
	RecordsDuplicate  prometheus.Counter
	RecordsFailed     *prometheus.CounterVec // stage: fetch, persist, attribute
	RecordsCreated    prometheus.Counter
	RecordsClassified prometheus.Counter
	RecordsDeleted    prometheus.Counter

	// 发件人指标
	SenderRegistrations prometheus.Counter

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge
	WebSocketClients    prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，使用独立的注册表
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailsync_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_sync_runs_total",
				Help: "Total number of completed sync runs by result",
			},
			[]string{"trigger", "result"},
		),
		SyncRunsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_sync_runs_skipped_total",
				Help: "Sync runs skipped because the concurrency cap was reached",
			},
			[]string{"trigger"},
		),
		SyncRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailsync_sync_run_duration_seconds",
				Help:    "Duration of sync runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		SyncRunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsync_sync_runs_in_flight",
				Help: "Number of sync runs currently executing",
			},
		),
		SyncLastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsync_sync_last_success_timestamp_seconds",
				Help: "Unix time of the last successful sync run",
			},
		),

		RecordsIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_records_ingested_total",
				Help: "Total number of records ingested from the mailbox",
			},
		),
		RecordsDuplicate: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_records_duplicate_total",
				Help: "Total number of fetched messages skipped as duplicates",
			},
		),
		RecordsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_records_failed_total",
				Help: "Total number of messages that failed a pipeline stage",
			},
			[]string{"stage"},
		),
		RecordsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_records_created_total",
				Help: "Total number of manually created records",
			},
		),
		RecordsClassified: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_records_classified_total",
				Help: "Total number of classification commands applied",
			},
		),
		RecordsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_records_deleted_total",
				Help: "Total number of records deleted",
			},
		),

		SenderRegistrations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_sender_registrations_total",
				Help: "Total number of sender attributions",
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsync_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
		DatabaseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsync_database_connections",
				Help: "Number of acquired database connections",
			},
		),
		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsync_websocket_clients",
				Help: "Number of connected dashboard clients",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_rate_limit_blocks_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"limit"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
	}
}

// RecordSyncRun 记录一次完成的同步
func (m *Metrics) RecordSyncRun(trigger string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failed"
	} else {
		m.SyncLastSuccess.SetToCurrentTime()
	}
	m.SyncRunsTotal.WithLabelValues(trigger, result).Inc()
	m.SyncRunDuration.Observe(duration.Seconds())
}

// RecordSyncSkipped 记录被跳过的同步
func (m *Metrics) RecordSyncSkipped(trigger string) {
	if m == nil {
		return
	}
	m.SyncRunsSkipped.WithLabelValues(trigger).Inc()
}

// SyncStarted 同步开始
func (m *Metrics) SyncStarted() {
	if m == nil {
		return
	}
	m.SyncRunsInFlight.Inc()
}

// SyncFinished 同步结束
func (m *Metrics) SyncFinished() {
	if m == nil {
		return
	}
	m.SyncRunsInFlight.Dec()
}

// RecordIngested 记录入库
func (m *Metrics) RecordIngested() {
	if m == nil {
		return
	}
	m.RecordsIngested.Inc()
}

// RecordDuplicate 记录重复邮件
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.RecordsDuplicate.Inc()
}

// RecordFailure 记录流水线阶段失败
func (m *Metrics) RecordFailure(stage string) {
	if m == nil {
		return
	}
	m.RecordsFailed.WithLabelValues(stage).Inc()
}

// RecordCreated 记录人工创建
func (m *Metrics) RecordCreated() {
	if m == nil {
		return
	}
	m.RecordsCreated.Inc()
}

// RecordClassified 记录分类
func (m *Metrics) RecordClassified() {
	if m == nil {
		return
	}
	m.RecordsClassified.Inc()
}

// RecordDeleted 记录删除
func (m *Metrics) RecordDeleted() {
	if m == nil {
		return
	}
	m.RecordsDeleted.Inc()
}

// RecordSenderRegistration 记录发件人登记
func (m *Metrics) RecordSenderRegistration() {
	if m == nil {
		return
	}
	m.SenderRegistrations.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limit string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limit).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	if m == nil {
		return
	}
	m.DatabaseConnections.Set(float64(count))
}

// UpdateWebSocketClients 更新 WebSocket 连接数
func (m *Metrics) UpdateWebSocketClients(count int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

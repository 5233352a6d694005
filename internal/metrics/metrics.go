package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 钱包业务指标，进程启动时注册一次
var (
	RequestsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opay_requests_created_total",
		Help: "创建的申请数（按类型）",
	}, []string{"kind"})

	RequestsReviewed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opay_requests_reviewed_total",
		Help: "审核结果（按类型、结果）",
	}, []string{"kind", "result"})

	FeeQuotes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opay_fee_quotes_total",
		Help: "手续费报价次数（按业务）",
	}, []string{"service"})

	BackendCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opay_backend_calls_total",
		Help: "托管后端调用（按操作、结果）",
	}, []string{"op", "outcome"})

	BackendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opay_backend_call_seconds",
		Help:    "托管后端调用耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opay_http_requests_total",
		Help: "HTTP 请求数",
	}, []string{"method", "route", "status"})

	ScanSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opay_scan_sessions_active",
		Help: "当前打开的扫码会话",
	})

	OutboxSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opay_outbox_messages_total",
		Help: "本地消息表投递结果",
	}, []string{"outcome"})
)

// Register 注册到默认 registry
func Register() {
	prometheus.MustRegister(
		RequestsCreated,
		RequestsReviewed,
		FeeQuotes,
		BackendCalls,
		BackendLatency,
		HTTPRequests,
		ScanSessions,
		OutboxSent,
	)
}

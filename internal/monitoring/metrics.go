package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 开通指标
	ProvisionOutcomes *prometheus.CounterVec
	ProvisionDuration prometheus.Histogram
	DomainsSkipped    *prometheus.CounterVec

	// 邮箱指标
	MailboxesCreated  prometheus.Counter
	MailboxesExtended prometheus.Counter
	MailboxesExpired  prometheus.Counter
	MailboxesActive   prometheus.Gauge

	// 邮件指标
	MessagesFetched      prometheus.Counter
	MessageFetchFailures prometheus.Counter

	// 上游指标
	TokenRefreshes prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_proxy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		ProvisionOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_provision_outcomes_total",
				Help: "Provisioning attempts by final outcome",
			},
			[]string{"outcome"},
		),

		ProvisionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_proxy_provision_duration_seconds",
				Help:    "Time spent provisioning one mailbox",
				Buckets: prometheus.DefBuckets,
			},
		),

		DomainsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_domains_skipped_total",
				Help: "Trial domains skipped during provisioning, by reason",
			},
			[]string{"reason"},
		),

		MailboxesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesExtended: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_mailboxes_extended_total",
				Help: "Total number of mailbox lifetime extensions",
			},
		),

		MailboxesExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_mailboxes_expired_total",
				Help: "Total number of expired mailboxes removed",
			},
		),

		MailboxesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_proxy_mailboxes_active",
				Help: "Number of active mailboxes",
			},
		),

		MessagesFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_messages_fetched_total",
				Help: "Total number of message details fetched",
			},
		),

		MessageFetchFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_message_fetch_failures_total",
				Help: "Per-message detail fetches dropped from results",
			},
		),

		TokenRefreshes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_proxy_token_refreshes_total",
				Help: "Total number of upstream token refreshes",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordProvisionOutcome 记录一次开通请求的最终结果
func (m *Metrics) RecordProvisionOutcome(outcome string, duration time.Duration) {
	m.ProvisionOutcomes.WithLabelValues(outcome).Inc()
	m.ProvisionDuration.Observe(duration.Seconds())
}

// RecordDomainSkipped 记录试探过程中被跳过的域名
func (m *Metrics) RecordDomainSkipped(reason string) {
	m.DomainsSkipped.WithLabelValues(reason).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}

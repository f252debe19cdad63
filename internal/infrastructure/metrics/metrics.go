package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "servicemart"

// Metrics HTTP 与业务指标
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	OTPIssued        *prometheus.CounterVec
	OTPVerified      *prometheus.CounterVec
	WalletMutations  *prometheus.CounterVec
	OrdersPaid       *prometheus.CounterVec
	Approvals        *prometheus.CounterVec
	WalletsExpired   prometheus.Counter
	InvoicesRendered *prometheus.CounterVec
}

// New 在 reg 上注册全部指标；测试传入独立的 prometheus.NewRegistry()
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		OTPIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "otp",
				Name:      "issued_total",
				Help:      "OTP challenges issued",
			},
			[]string{"purpose"},
		),
		OTPVerified: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "otp",
				Name:      "verifications_total",
				Help:      "OTP verification attempts by result",
			},
			[]string{"purpose", "result"},
		),
		WalletMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "mutations_total",
				Help:      "Wallet ledger entries by transaction type",
			},
			[]string{"type"},
		),
		OrdersPaid: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "paid_total",
				Help:      "Service orders paid by method",
			},
			[]string{"method"},
		),
		Approvals: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "partners",
				Name:      "approvals_total",
				Help:      "Partner request approvals by result",
			},
			[]string{"result"},
		),
		WalletsExpired: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "expired_total",
				Help:      "Wallet balances reset by the expiry sweep",
			},
		),
		InvoicesRendered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "invoices_total",
				Help:      "Invoice generation attempts by result",
			},
			[]string{"result"},
		),
	}
}

// GinMiddleware 记录请求数、耗时和并发数，route 使用注册时的路由模板
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

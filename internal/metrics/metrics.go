package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "servicedesk"

// Итоги выплаты
const (
	ReleaseReleased    = "released"
	ReleaseNotEligible = "not_eligible"
	ReleaseFailed      = "failed"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	escrowReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "releases_total",
			Help:      "Release attempts by outcome.",
		},
		[]string{"trigger", "result"},
	)
	escrowReleaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "release_duration_seconds",
			Help:      "Duration of the release transaction.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
	escrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Applied job state transitions.",
		},
		[]string{"transition"},
	)

	schedulerSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Completion sweeps by outcome.",
		},
		[]string{"result"},
	)
	schedulerArmedTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "armed_timers",
			Help:      "In-process release timers currently armed.",
		},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Gateway webhook events by kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	withdrawalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "withdrawals_total",
			Help:      "Withdrawal attempts by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration,
		escrowReleasesTotal, escrowReleaseDuration, escrowTransitionsTotal,
		schedulerSweepsTotal, schedulerArmedTimers,
		webhookEventsTotal, withdrawalsTotal,
	)
}

// Middleware считает запросы по шаблону маршрута gin, чтобы не плодить метки.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordRelease фиксирует попытку выплаты. trigger: manual, timer, sweep.
func RecordRelease(trigger, result string, start time.Time) {
	escrowReleasesTotal.WithLabelValues(trigger, result).Inc()
	escrowReleaseDuration.Observe(time.Since(start).Seconds())
}

// RecordTransition фиксирует применённый переход заказа.
func RecordTransition(transition string) {
	escrowTransitionsTotal.WithLabelValues(transition).Inc()
}

// RecordSweep фиксирует проход планировщика.
func RecordSweep(result string) {
	schedulerSweepsTotal.WithLabelValues(result).Inc()
}

// SetArmedTimers текущее число взведённых таймеров.
func SetArmedTimers(n int) {
	schedulerArmedTimers.Set(float64(n))
}

// RecordWebhook фиксирует обработанное событие шлюза.
func RecordWebhook(kind string, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	webhookEventsTotal.WithLabelValues(kind, res).Inc()
}

// RecordWithdrawal фиксирует попытку вывода.
func RecordWithdrawal(err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	withdrawalsTotal.WithLabelValues(res).Inc()
}

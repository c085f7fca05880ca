// Package metrics はPrometheusのメトリクスを収集して公開する。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewdrop"

// 報酬ミントの結果ラベル。
const (
	MintResultSuccess = "success"
	MintResultFailure = "failure"
)

// Metrics はアプリケーション固有のコレクターを保持する。
// nilのMetricsに対する記録は何もしない。
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	reviewsCreated prometheus.Counter
	rewardOutcomes *prometheus.CounterVec
	rewardMints    *prometheus.CounterVec
}

// New は専用のレジストリにコレクターを登録したMetricsを生成する。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		reviewsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_created_total",
			Help:      "Total number of reviews persisted.",
		}),
		rewardOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_outcomes_total",
			Help:      "Reward decisions made for wallet reviewers.",
		}, []string{"outcome"}),
		rewardMints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_mints_total",
			Help:      "Edition drop mint requests by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.reviewsCreated,
		m.rewardOutcomes,
		m.rewardMints,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry はコレクターを登録したレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は/metrics用のGinハンドラーを返す。
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware はHTTPリクエストの件数と処理時間を記録するGinミドルウェアを返す。
// パスラベルにはルート定義のパターンを使い、未定義のルートは"unmatched"にまとめる。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ReviewCreated はレビューの保存を記録する。
func (m *Metrics) ReviewCreated() {
	if m == nil {
		return
	}
	m.reviewsCreated.Inc()
}

// RewardOutcome は報酬判定の結果を記録する。
func (m *Metrics) RewardOutcome(outcome string) {
	if m == nil {
		return
	}
	m.rewardOutcomes.WithLabelValues(outcome).Inc()
}

// RewardMint はミント依頼の結果を記録する。
func (m *Metrics) RewardMint(result string) {
	if m == nil {
		return
	}
	m.rewardMints.WithLabelValues(result).Inc()
}

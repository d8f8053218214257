// Package metrics Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviereviews_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moviereviews_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// 推荐
	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moviereviews_recommend_duration_seconds",
			Help:    "Duration of a full recommendation (embed + scan) in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
	)

	RecommendSkippedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviereviews_recommend_skipped_rows_total",
			Help: "Movies skipped during the similarity scan",
		},
		[]string{"reason"}, // malformed, dimension, zero
	)

	// 向量服务
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviereviews_embedding_requests_total",
			Help: "Embedding requests by outcome",
		},
		[]string{"provider", "outcome"}, // success, failure, rejected, cache_hit
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moviereviews_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// 统计图缓存
	ChartCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moviereviews_chart_cache_hits_total",
			Help: "Statistics chart cache hits",
		},
	)

	ChartCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moviereviews_chart_cache_misses_total",
			Help: "Statistics chart cache misses",
		},
	)
)

// RecordHTTPRequest 记录一次 HTTP 请求
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordEmbedding 记录向量请求结果
func RecordEmbedding(provider, outcome string) {
	EmbeddingRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordSkippedRow 记录相似度扫描中跳过的行
func RecordSkippedRow(reason string) {
	RecommendSkippedRows.WithLabelValues(reason).Inc()
}

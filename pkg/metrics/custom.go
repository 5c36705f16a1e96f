package metrics

import "github.com/prometheus/client_golang/prometheus"

// 限流 / 熔断相关。HTTP 状态接口和 REST 客户端共用
var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tickwire",
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "reason"},
	)

	RateLimitWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tickwire",
			Name:      "ratelimit_wait_seconds",
			Help:      "Delay handed out by the provider spacing limiter.",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 12, 30},
		},
		[]string{"provider"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tickwire",
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"provider", "reason"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tickwire",
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"provider", "state"}, // state: closed/open/half_open
	)
)

// REST 请求与缓存
var (
	RestRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tickwire",
			Name:      "rest_request_total",
			Help:      "REST attempts against upstream providers.",
		},
		[]string{"provider", "status"}, // ok/transient/permanent
	)

	RestRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tickwire",
			Name:      "rest_request_duration_seconds",
			Help:      "Latency of a single upstream REST attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms ~ 20s
		},
		[]string{"provider"},
	)

	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tickwire",
			Name:      "cache_ops_total",
			Help:      "Cache lookups and removals by outcome.",
		},
		[]string{"cache", "op"}, // hit/miss/evict/expire
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tickwire",
			Name:      "cache_entries",
			Help:      "Entries currently held per cache instance.",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(
		RateLimitBlockTotal, RateLimitWaitSeconds, CBRejectTotal, CBState,
		RestRequestTotal, RestRequestDuration, CacheOpsTotal, CacheEntries,
	)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_redis_cmd_duration_seconds",
		Help:    "Redis command latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"cmd", "status"})
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "app_redis_errors_total",
		Help: "Redis errors",
	}, []string{"cmd"})

	SinkWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "app_sink_writes_total",
		Help: "Quotes handed to downstream sinks",
	}, []string{"sink", "status"})
)

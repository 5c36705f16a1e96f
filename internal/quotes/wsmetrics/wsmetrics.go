package wsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 上游行情 websocket 连接的指标，按 provider 分区
var (
	ConnState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_conn_state",
		Help: "Current connection state (0=disconnected 1=connecting 2=open 3=closing 4=failed)",
	}, []string{"provider"})
	ConnOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_conn_open_total",
		Help: "Total upstream websocket connections opened",
	}, []string{"provider"})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_conn_close_total",
		Help: "Total upstream websocket connections closed, partitioned by reason",
	}, []string{"provider", "reason"})
	ReconnectScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_reconnect_scheduled_total",
		Help: "Total reconnect attempts scheduled",
	}, []string{"provider", "class"}) // normal/escalated/maintenance

	MsgsInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_msgs_in_total",
		Help: "Total inbound messages by decoded kind",
	}, []string{"provider", "kind"})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_dropped_total",
		Help: "Total inbound messages dropped",
	}, []string{"provider", "why"})

	MsgsOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_msgs_out_total",
		Help: "Total messages written upstream",
	}, []string{"provider"})
	BytesOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_bytes_out_total",
		Help: "Total bytes written upstream",
	}, []string{"provider"})
	WriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_write_errors_total",
		Help: "Total websocket write errors",
	}, []string{"provider"})

	PingSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_ping_sent_total",
		Help: "Total ping sent",
	}, []string{"provider"})
	PongMissTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_pong_miss_total",
		Help: "Total pings not answered before the next ping",
	}, []string{"provider"})
	PongLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_pong_latency_seconds",
		Help:    "Ping/pong round trip",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
	}, []string{"provider"})
)

func OnState(provider string, state int32) {
	ConnState.WithLabelValues(provider).Set(float64(state))
}

func OnOpen(provider string) {
	ConnOpenTotal.WithLabelValues(provider).Inc()
}

func OnClose(provider string, reason string) {
	ConnCloseTotal.WithLabelValues(provider, reason).Inc()
}

func ObserveWrite(provider string, bytes int, err error) {
	if err != nil {
		WriteErrorsTotal.WithLabelValues(provider).Inc()
		return
	}
	MsgsOutTotal.WithLabelValues(provider).Inc()
	BytesOutTotal.WithLabelValues(provider).Add(float64(bytes))
}

func ObservePong(provider string, rtt time.Duration) {
	PongLatency.WithLabelValues(provider).Observe(rtt.Seconds())
}

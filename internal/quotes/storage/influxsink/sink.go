package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/metrics"
)

type Config struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size"`     // 建议从 1000~5000 起步
	FlushInterval time.Duration `mapstructure:"flush_interval"` // 例如 1s
	UseGzip       bool          `mapstructure:"use_gzip"`
}

type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 1 * time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// 必须消费 Errors()，否则异步写入错误会把写缓冲卡住
	go func() {
		for err := range w.Errors() {
			metrics.SinkWritesTotal.WithLabelValues("influx", "error").Inc()
			logger.Warn(context.Background(), "influx write error", zap.Error(err))
		}
	}()

	return &Sink{client: c, write: w}
}

func (s *Sink) Close() {
	// Close 会 flush buffer
	s.client.Close()
}

// Point measurement=quote，tag 只放 provider/symbol，控制 cardinality
func Point(q model.Quote) *write.Point {
	tags := map[string]string{
		"provider": q.Provider,
		"symbol":   q.Symbol,
	}
	fields := map[string]interface{}{
		"price": q.Price.InexactFloat64(),
	}
	return write.NewPoint("quote", tags, fields, q.UpdatedAt)
}

func (s *Sink) WriteQuote(q model.Quote) {
	s.write.WritePoint(Point(q))
	metrics.SinkWritesTotal.WithLabelValues("influx", "ok").Inc()
}

// Run 消费价格更新直到 ctx 结束或者 in 关闭
func (s *Sink) Run(ctx context.Context, in <-chan model.Quote) error {
	for {
		select {
		case <-ctx.Done():
			s.write.Flush()
			return ctx.Err()
		case q, ok := <-in:
			if !ok {
				s.write.Flush()
				return nil
			}
			s.WriteQuote(q)
		}
	}
}

// String 不带 token
func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}

package gateway

import (
	"context"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/metrics"
)

// Source 最新值变更的来源，ingest.Facade 实现了它
type Source interface {
	Subscribe(buffer int) (<-chan model.Quote, func())
}

func Topic(symbol string) string { return "quote:" + symbol }

// Publisher 把每次价格更新以 JSON 发到 broker 的 quote:{symbol}
type Publisher struct {
	src    Source
	broker Broker
	buffer int
}

func NewPublisher(src Source, broker Broker, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{src: src, broker: broker, buffer: buffer}
}

func (p *Publisher) Run(ctx context.Context) error {
	ch, cancel := p.src.Subscribe(p.buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q, ok := <-ch:
			if !ok {
				return nil
			}
			p.publish(ctx, q)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, q model.Quote) {
	payload, err := json.Marshal(q)
	if err != nil {
		logger.Error(ctx, "marshal quote", zap.String("symbol", q.Symbol), zap.Error(err))
		return
	}
	if err := p.broker.Publish(ctx, Topic(q.Symbol), payload); err != nil {
		metrics.SinkWritesTotal.WithLabelValues("broker", "error").Inc()
		logger.Warn(ctx, "broker publish err", zap.String("symbol", q.Symbol), zap.Error(err))
		return
	}
	metrics.SinkWritesTotal.WithLabelValues("broker", "ok").Inc()
}

package ws

import (
	"context"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"tickwire.com/internal/quotes/gateway"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/pkg/logger"
)

// Relay 订阅 broker 上的 quote:{symbol}，转成 ServerMsg 推给本地 hub。
// 单机时 broker 是内存的，多实例时每个节点都从 nats 收到全量
func Relay(ctx context.Context, hub *Hub, broker gateway.Broker, topics []string) error {
	ch, err := broker.Subscribe(ctx, topics)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if err := Bridge(hub, m); err != nil {
				logger.Debug(ctx, "drop broker message", zap.String("topic", m.Topic), zap.Error(err))
			}
		}
	}
}

// Bridge 把 broker 上的一条报价包成推送消息
func Bridge(hub *Hub, m gateway.Message) error {
	var q model.Quote
	if err := json.Unmarshal(m.Payload, &q); err != nil {
		return err
	}
	b, err := json.Marshal(ServerMsg{Type: "quote", Topic: m.Topic, Quote: q})
	if err != nil {
		return err
	}
	hub.Publish(m.Topic, b)
	return nil
}

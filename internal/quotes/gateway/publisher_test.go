package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tickwire.com/internal/quotes/model"
)

type chanSource struct {
	ch       chan model.Quote
	mu       sync.Mutex
	canceled bool
}

func (s *chanSource) Subscribe(int) (<-chan model.Quote, func()) {
	return s.ch, func() {
		s.mu.Lock()
		s.canceled = true
		s.mu.Unlock()
	}
}

func TestPublisher_PublishesQuoteTopic(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, []string{Topic("BTCUSD")})
	require.NoError(t, err)

	src := &chanSource{ch: make(chan model.Quote, 4)}
	p := NewPublisher(src, b, 0)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	src.ch <- model.Quote{Provider: "kraken", Symbol: "ETHUSD", Price: decimal.RequireFromString("3000"), UpdatedAt: at}
	src.ch <- model.Quote{Provider: "kraken", Symbol: "BTCUSD", Price: decimal.RequireFromString("50000.1"), UpdatedAt: at}

	select {
	case m := <-sub:
		assert.Equal(t, "quote:BTCUSD", m.Topic)
		var q model.Quote
		require.NoError(t, json.Unmarshal(m.Payload, &q))
		assert.Equal(t, "BTCUSD", q.Symbol)
		assert.True(t, q.Price.Equal(decimal.RequireFromString("50000.1")))
		assert.True(t, q.UpdatedAt.Equal(at))
	case <-time.After(2 * time.Second):
		t.Fatal("no message on quote:BTCUSD")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	src.mu.Lock()
	assert.True(t, src.canceled)
	src.mu.Unlock()
}

func TestMemBroker_UnsubscribeOnCancel(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, []string{"quote:BTCUSD", "quote:ETHUSD"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "quote:ETHUSD", []byte("1")))
	m := <-ch
	assert.Equal(t, "quote:ETHUSD", m.Topic)

	cancel()
	for range ch {
	}
	b.mu.RLock()
	assert.Empty(t, b.subs)
	b.mu.RUnlock()
	// 退订后再发布不能 panic
	assert.NoError(t, b.Publish(context.Background(), "quote:BTCUSD", []byte("2")))
}

func TestTopicSubjectMapping(t *testing.T) {
	assert.Equal(t, "quote.BTCUSD", topicToSubject(Topic("BTCUSD")))
	assert.Equal(t, "quote:*", subjectToTopic("quote.*"))
}

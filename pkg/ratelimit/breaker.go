package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"tickwire.com/pkg/metrics"
	"tickwire.com/pkg/xerr"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32

	// Closed 状态计数窗口
	Interval time.Duration

	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration

	// 触发熔断条件（两种之一即可）
	TripConsecutiveFailures uint32
	TripFailureRate         float64
	TripMinRequests         uint32
}

// BreakerManager 每个上游 provider 一个熔断器
type BreakerManager struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[[]byte]

	defaultRule Rule
	rules       map[string]Rule
}

func NewBreakerManager(defaultRule Rule, perProvider map[string]Rule) *BreakerManager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 1
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 30 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = time.Minute
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	return &BreakerManager{
		m:           make(map[string]*gobreaker.CircuitBreaker[[]byte], 8),
		defaultRule: defaultRule,
		rules:       perProvider,
	}
}

func (m *BreakerManager) Get(provider string) *gobreaker.CircuitBreaker[[]byte] {
	m.mu.RLock()
	cb := m.m[provider]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb = m.m[provider]; cb != nil {
		return cb
	}

	rule, ok := m.rules[provider]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:        provider,
		MaxRequests: rule.MaxRequests,
		Interval:    rule.Interval,
		Timeout:     rule.Timeout,

		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				failRate := float64(c.TotalFailures) / float64(c.Requests)
				return failRate >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isSuccessfulForBreaker,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues(name, from.String()).Set(0)
			metrics.CBState.WithLabelValues(name, to.String()).Set(1)
		},
	}

	cb = gobreaker.NewCircuitBreaker[[]byte](st)
	m.m[provider] = cb
	return cb
}

// Execute 在 provider 的熔断器里执行 fn；熔断拒绝统一转成可重试错误
func (m *BreakerManager) Execute(provider string, fn func() ([]byte, error)) ([]byte, error) {
	body, err := m.Get(provider).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CBRejectTotal.WithLabelValues(provider, err.Error()).Inc()
		return nil, xerr.Wrap(xerr.TransientNetwork, provider, err)
	}
	return body, err
}

// IsRejection 区分“熔断器直接拒绝”和“真正打到上游失败”
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// 只有代表上游不健康的错误才计入熔断失败；4xx、解析失败、调用方取消都不算
func isSuccessfulForBreaker(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch xerr.CodeOf(err) {
	case xerr.Permanent, xerr.MalformedMessage, xerr.ProviderRejection, xerr.RateLimitExceeded:
		return true
	default:
		return false
	}
}

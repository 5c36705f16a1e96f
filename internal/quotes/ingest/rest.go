package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/internal/quotes/restclient"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/xerr"
)

// Result 拉取结果。Degraded=true 表示上游暂时不可用，返回的是缓存里已过期的数据
type Result[T any] struct {
	Value    T    `json:"value"`
	Degraded bool `json:"degraded"`
}

func (f *Facade) restClient(provider string) (*restclient.Client, error) {
	f.mu.RLock()
	c, ok := f.rest[provider]
	f.mu.RUnlock()
	if !ok {
		return nil, xerr.New(xerr.Permanent, fmt.Sprintf("unknown rest provider %q", provider))
	}
	return c, nil
}

// RestProviders 已注册的 REST provider 名字
func (f *Facade) RestProviders() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.rest))
	for name := range f.rest {
		out = append(out, name)
	}
	return out
}

func (f *Facade) Candles(ctx context.Context, provider string, q restclient.CandleQuery, opts ...restclient.RequestOption) (Result[[]model.Candle], error) {
	c, err := f.restClient(provider)
	if err != nil {
		return Result[[]model.Candle]{}, err
	}
	return withFallback(ctx, provider,
		func() ([]model.Candle, error) { return c.Candles(ctx, q, opts...) },
		func() ([]model.Candle, bool) { return c.StaleCandles(q) })
}

func (f *Facade) Indicator(ctx context.Context, provider string, q restclient.IndicatorQuery, opts ...restclient.RequestOption) (Result[model.IndicatorResult], error) {
	c, err := f.restClient(provider)
	if err != nil {
		return Result[model.IndicatorResult]{}, err
	}
	return withFallback(ctx, provider,
		func() (model.IndicatorResult, error) { return c.Indicator(ctx, q, opts...) },
		func() (model.IndicatorResult, bool) { return c.StaleIndicator(q) })
}

// Pull 任意 endpoint 的原始 JSON
func (f *Facade) Pull(ctx context.Context, provider, endpoint string, params url.Values, opts ...restclient.RequestOption) (Result[[]byte], error) {
	c, err := f.restClient(provider)
	if err != nil {
		return Result[[]byte]{}, err
	}
	key := c.Key(endpoint, params)
	return withFallback(ctx, provider,
		func() ([]byte, error) { return c.Request(ctx, endpoint, params, opts...) },
		func() ([]byte, bool) { return c.Stale(key) })
}

// withFallback 只有瞬时网络错误才回落到过期缓存；永久错误、限流、调用方取消都原样返回
func withFallback[T any](ctx context.Context, provider string, fetch func() (T, error), stale func() (T, bool)) (Result[T], error) {
	v, err := fetch()
	if err == nil {
		return Result[T]{Value: v}, nil
	}
	if !errors.Is(err, xerr.ErrTransient) {
		return Result[T]{}, err
	}
	old, ok := stale()
	if !ok {
		return Result[T]{}, err
	}
	logger.Warn(ctx, "upstream unavailable, serving stale data", zap.String("provider", provider), zap.Error(err))
	return Result[T]{Value: old, Degraded: true}, nil
}

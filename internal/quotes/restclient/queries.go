package restclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/pkg/xerr"
)

// CandleQuery 历史 K 线区间（交易所公开 klines 接口）
type CandleQuery struct {
	Symbol   string // provider 侧的交易对，例如 BTCUSDT
	Interval string // 1m / 1h / 1d ...
	Start    time.Time
	End      time.Time
	Limit    int
}

func (q CandleQuery) request() (string, url.Values) {
	p := url.Values{}
	p.Set("symbol", q.Symbol)
	p.Set("interval", q.Interval)
	if !q.Start.IsZero() {
		p.Set("startTime", strconv.FormatInt(q.Start.UnixMilli(), 10))
	}
	if !q.End.IsZero() {
		p.Set("endTime", strconv.FormatInt(q.End.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		p.Set("limit", strconv.Itoa(q.Limit))
	}
	return "/api/v3/klines", p
}

// Candles 拉历史 K 线
func (c *Client) Candles(ctx context.Context, q CandleQuery, opts ...RequestOption) ([]model.Candle, error) {
	endpoint, params := q.request()
	check := withDecode(func(b []byte) error {
		_, err := c.decodeCandles(b)
		return err
	})
	body, err := c.Request(ctx, endpoint, params, append([]RequestOption{check}, opts...)...)
	if err != nil {
		return nil, err
	}
	return c.decodeCandles(body)
}

// StaleCandles 降级用：返回过期缓存里的 K 线
func (c *Client) StaleCandles(q CandleQuery) ([]model.Candle, bool) {
	body, ok := c.Stale(c.Key(q.request()))
	if !ok {
		return nil, false
	}
	out, err := c.decodeCandles(body)
	return out, err == nil
}

// klines 每行: [openTime, open, high, low, close, volume, closeTime, ...]
func (c *Client) decodeCandles(body []byte) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, xerr.Wrap(xerr.Permanent, c.name, fmt.Errorf("decode klines: %w", err))
	}
	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		cd, err := parseKline(row)
		if err != nil {
			return nil, xerr.Wrap(xerr.Permanent, c.name, fmt.Errorf("kline row %d: %w", i, err))
		}
		out = append(out, cd)
	}
	return out, nil
}

func parseKline(row []json.RawMessage) (model.Candle, error) {
	if len(row) < 7 {
		return model.Candle{}, fmt.Errorf("want >=7 fields, got %d", len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, err
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return model.Candle{}, err
	}
	var nums [5]decimal.Decimal
	for i := range nums {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return model.Candle{}, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, err
		}
		nums[i] = d
	}
	return model.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}, nil
}

// IndicatorQuery 指标接口查询，例如 rsi / macd，返回值对这一层是不透明的数值
type IndicatorQuery struct {
	Indicator string
	Exchange  string
	Symbol    string // 例如 BTC/USDT
	Interval  string // 1h / 1d ...
	Period    int
}

func (q IndicatorQuery) request() (string, url.Values) {
	p := url.Values{}
	if q.Exchange != "" {
		p.Set("exchange", q.Exchange)
	}
	p.Set("symbol", q.Symbol)
	p.Set("interval", q.Interval)
	if q.Period > 0 {
		p.Set("period", strconv.Itoa(q.Period))
	}
	return "/" + strings.ToLower(q.Indicator), p
}

// Indicator 拉一个计算好的指标
func (c *Client) Indicator(ctx context.Context, q IndicatorQuery, opts ...RequestOption) (model.IndicatorResult, error) {
	endpoint, params := q.request()
	check := withDecode(func(b []byte) error {
		_, err := c.decodeIndicator(q, b)
		return err
	})
	body, err := c.Request(ctx, endpoint, params, append([]RequestOption{check}, opts...)...)
	if err != nil {
		return model.IndicatorResult{}, err
	}
	return c.decodeIndicator(q, body)
}

func (c *Client) StaleIndicator(q IndicatorQuery) (model.IndicatorResult, bool) {
	body, ok := c.Stale(c.Key(q.request()))
	if !ok {
		return model.IndicatorResult{}, false
	}
	res, err := c.decodeIndicator(q, body)
	return res, err == nil
}

// 只取数值字段，例如 {"value": 54.1} 或 {"valueMACD": 1.2, "valueMACDSignal": 0.8}
func (c *Client) decodeIndicator(q IndicatorQuery, body []byte) (model.IndicatorResult, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.IndicatorResult{}, xerr.Wrap(xerr.Permanent, c.name, fmt.Errorf("decode %s: %w", q.Indicator, err))
	}
	values := make(map[string]float64, len(raw))
	for k, v := range raw {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			values[k] = f
		}
	}
	if len(values) == 0 {
		return model.IndicatorResult{}, xerr.Wrap(xerr.Permanent, c.name, fmt.Errorf("%s: no numeric values", q.Indicator))
	}
	return model.IndicatorResult{
		Indicator: q.Indicator,
		Symbol:    q.Symbol,
		Interval:  q.Interval,
		Values:    values,
	}, nil
}

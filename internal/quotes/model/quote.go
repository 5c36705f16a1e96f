package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote 某个逻辑标的最新的价格
//
// Symbol 是逻辑标的（例如 BTCUSD），和各家 provider 的命名无关；
// Price 用 decimal 保存，避免 float64 误差
type Quote struct {
	Provider  string          `json:"provider"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Candle 一根历史 K 线
type Candle struct {
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// IndicatorResult 指标接口的返回值，具体含义由下游评级逻辑解释
type IndicatorResult struct {
	Indicator string             `json:"indicator"`
	Symbol    string             `json:"symbol"`
	Interval  string             `json:"interval"`
	Values    map[string]float64 `json:"values"`
}

package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBase   = 3 * time.Second
	DefaultMax    = 60 * time.Second
	DefaultGrowth = 1.6
	DefaultJitter = time.Second
)

// Policy 指数退避 + 随机抖动，抖动用来错开多个连接同时重连
//
//	Next(n) = min(Max, Base*Growth^n + U[0, Jitter))
//
// Policy 是值类型、无状态，可以随意拷贝和并发使用
type Policy struct {
	Base   time.Duration `mapstructure:"base"`
	Max    time.Duration `mapstructure:"max"`
	Growth float64       `mapstructure:"growth"`
	Jitter time.Duration `mapstructure:"jitter"`
}

func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, Growth: DefaultGrowth, Jitter: DefaultJitter}
}

// Normalize 零值/非法字段回落到默认值
func (p Policy) Normalize() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Growth < 1 || math.IsNaN(p.Growth) || math.IsInf(p.Growth, 0) {
		p.Growth = DefaultGrowth
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Next 第 attempt 次重试前要等多久，永远不超过 Max
func (p Policy) Next(attempt uint) time.Duration {
	p = p.Normalize()
	d := p.Curve(attempt)
	if p.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.Jitter)))
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Curve 不带抖动的部分，随 attempt 单调不减
func (p Policy) Curve(attempt uint) time.Duration {
	p = p.Normalize()
	f := float64(p.Base) * math.Pow(p.Growth, float64(attempt))
	// 大 attempt 时 Pow 可能是 +Inf，直接截断，别转换溢出
	if math.IsInf(f, 0) || f >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(f)
}

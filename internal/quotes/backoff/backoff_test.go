package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_NextNeverExceedsMax(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Max: 60 * time.Second, Growth: 1.7, Jitter: 5 * time.Second}
	for n := uint(0); n < 200; n++ {
		d := p.Next(n)
		assert.LessOrEqual(t, d, p.Max, "attempt %d", n)
		assert.GreaterOrEqual(t, d, p.Base, "attempt %d", n)
	}
	// 溢出边界
	assert.Equal(t, p.Max, p.Next(^uint(0)))
}

func TestPolicy_CurveIsMonotonic(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
	}{
		{"venue", Policy{Base: 3 * time.Second, Max: 60 * time.Second, Growth: 1.5}},
		{"analytics", Policy{Base: 5 * time.Second, Max: 60 * time.Second, Growth: 1.7}},
		{"defaults", Policy{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := time.Duration(0)
			for n := uint(0); n < 64; n++ {
				d := tt.p.Curve(n)
				assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
				prev = d
			}
			assert.Equal(t, tt.p.Normalize().Max, prev)
		})
	}
}

func TestPolicy_CurveValues(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Max: 60 * time.Second, Growth: 2}
	assert.Equal(t, 2*time.Second, p.Curve(0))
	assert.Equal(t, 4*time.Second, p.Curve(1))
	assert.Equal(t, 16*time.Second, p.Curve(3))
	assert.Equal(t, 60*time.Second, p.Curve(5))
}

func TestPolicy_JitterBounded(t *testing.T) {
	p := Policy{Base: time.Second, Max: time.Minute, Growth: 1.5, Jitter: 500 * time.Millisecond}
	for i := 0; i < 500; i++ {
		d := p.Next(0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}

func TestPolicy_Normalize(t *testing.T) {
	p := Policy{Base: 10 * time.Second, Max: time.Second, Growth: 0.5, Jitter: -1}.Normalize()
	assert.Equal(t, 10*time.Second, p.Max)
	assert.Equal(t, DefaultGrowth, p.Growth)
	assert.Equal(t, time.Duration(0), p.Jitter)

	// Jitter=0 合法（不抖动），其余字段回落默认值
	z := Policy{}.Normalize()
	assert.Equal(t, DefaultBase, z.Base)
	assert.Equal(t, DefaultMax, z.Max)
	assert.Equal(t, DefaultGrowth, z.Growth)
	assert.Equal(t, time.Duration(0), z.Jitter)
}

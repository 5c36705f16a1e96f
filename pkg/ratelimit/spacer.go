package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"tickwire.com/pkg/metrics"
)

// Spacer 按上游 provider 保证请求最小间隔：每个 provider 一个 burst=1 的令牌桶。
//
// Admit 在准入时就占住下一个时隙，而不是等请求结束后再记，
// 所以慢请求不会让后面的调用挤在一起。Spacer 自己从不 sleep，等不等由调用方决定。
type Spacer struct {
	mu             sync.Mutex
	windows        map[string]*window
	spacing        map[string]time.Duration
	defaultSpacing time.Duration
	now            func() time.Time
}

type window struct {
	limiter       *rate.Limiter
	lastRequestAt time.Time
}

func NewSpacer(defaultSpacing time.Duration, perProvider map[string]time.Duration) *Spacer {
	s := &Spacer{
		windows:        make(map[string]*window, len(perProvider)),
		spacing:        make(map[string]time.Duration, len(perProvider)),
		defaultSpacing: defaultSpacing,
		now:            time.Now,
	}
	for p, d := range perProvider {
		s.spacing[p] = d
	}
	return s
}

// 间隔 <=0 时 rate.Every 返回 Inf，不限流
func limitOf(d time.Duration) rate.Limit { return rate.Every(d) }

// SetSpacing 配置热更新时调用，已占用的时隙不变
func (s *Spacer) SetSpacing(provider string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spacing[provider] = d
	if w, ok := s.windows[provider]; ok {
		w.limiter.SetLimitAt(s.now(), limitOf(d))
	}
}

func (s *Spacer) Spacing(provider string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spacingLocked(provider)
}

func (s *Spacer) spacingLocked(provider string) time.Duration {
	if d, ok := s.spacing[provider]; ok {
		return d
	}
	return s.defaultSpacing
}

func (s *Spacer) windowLocked(provider string) *window {
	w, ok := s.windows[provider]
	if !ok {
		w = &window{limiter: rate.NewLimiter(limitOf(s.spacingLocked(provider)), 1)}
		s.windows[provider] = w
	}
	return w
}

// Admit 返回 0 表示可以立刻发；否则返回距离下一个可用时隙的等待时间，时隙已被本次调用占用
func (s *Spacer) Admit(provider string) time.Duration {
	_, wait := s.reserve(provider)
	metrics.RateLimitWaitSeconds.WithLabelValues(provider).Observe(wait.Seconds())
	return wait
}

func (s *Spacer) reserve(provider string) (time.Time, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	w := s.windowLocked(provider)
	// burst=1，ReserveN(now, 1) 不会失败
	wait := w.limiter.ReserveN(now, 1).DelayFrom(now)
	slot := now.Add(wait)
	w.lastRequestAt = slot
	return slot, wait
}

// TryAdmit 非阻塞模式：不可准入时不占时隙，直接返回 false
func (s *Spacer) TryAdmit(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	w := s.windowLocked(provider)
	if !w.limiter.AllowN(now, 1) {
		metrics.RateLimitBlockTotal.WithLabelValues(provider, "spacing").Inc()
		return false
	}
	w.lastRequestAt = now
	return true
}

// Wait 准入并睡到时隙。ctx 取消时时隙仍然算已占用
func (s *Spacer) Wait(ctx context.Context, provider string) error {
	return Sleep(ctx, s.Admit(provider))
}

// LastRequestAt 最近一次被占用的时隙
func (s *Spacer) LastRequestAt(provider string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[provider]; ok {
		return w.lastRequestAt
	}
	return time.Time{}
}

// Sleep 可被 ctx 打断的 sleep，d<=0 直接返回
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

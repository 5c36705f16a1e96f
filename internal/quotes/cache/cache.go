package cache

import (
	"container/list"
	"context"
	"net/url"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/metrics"
	"tickwire.com/pkg/safe"
)

// Config 一类数据一个实例（价格快照 / K 线 / 指标），互不共享
type Config struct {
	Name          string        `mapstructure:"name"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries"`
	MaxBytes      int64         `mapstructure:"max_bytes"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// StaleGrace 过期后继续保留多久，期间 Get 是 miss 但 GetStale 还能拿到（降级用）
	StaleGrace time.Duration `mapstructure:"stale_grace"`
}

type Entry[V any] struct {
	Key            string
	Value          V
	CreatedAt      time.Time
	TTL            time.Duration
	LastAccessedAt time.Time
	AccessCount    uint64
	Size           int64
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

type Option[V any] func(*Store[V])

func WithClock[V any](now func() time.Time) Option[V] {
	return func(s *Store[V]) { s.now = now }
}

// WithSizer 自定义大小估算，MaxBytes 依赖它
func WithSizer[V any](f func(V) int64) Option[V] {
	return func(s *Store[V]) { s.sizer = f }
}

// Store 带 TTL 的 LRU 缓存。淘汰顺序按最后访问时间，不是插入时间
type Store[V any] struct {
	mu    sync.Mutex
	cfg   Config
	ll    *list.List // front = 最近访问
	items map[string]*list.Element
	bytes int64
	stats Stats

	now   func() time.Time
	sizer func(V) int64
}

func New[V any](cfg Config, opts ...Option[V]) *Store[V] {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	s := &Store[V]{
		cfg:   cfg,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
		sizer: defaultSize[V],
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store[V]) Name() string { return s.cfg.Name }

func (s *Store[V]) TTL() time.Duration { return s.cfg.TTL }

// Get 命中新鲜条目才返回 true，同时刷新访问时间
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	el, ok := s.items[key]
	if !ok {
		s.miss()
		return zero, false
	}
	e := el.Value.(*Entry[V])
	now := s.now()
	if e.expired(now) {
		// 惰性过期：宽限期内先留着给 GetStale
		if s.cfg.StaleGrace <= 0 || !now.Before(e.CreatedAt.Add(e.TTL+s.cfg.StaleGrace)) {
			s.removeLocked(el, "expire")
		}
		s.miss()
		return zero, false
	}
	e.LastAccessedAt = now
	e.AccessCount++
	s.ll.MoveToFront(el)
	s.stats.Hits++
	metrics.CacheOpsTotal.WithLabelValues(s.cfg.Name, "hit").Inc()
	return e.Value, true
}

// GetStale 不管是否过期，只要还在缓存里就返回。不影响 LRU 顺序
func (s *Store[V]) GetStale(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		return el.Value.(*Entry[V]).Value, true
	}
	var zero V
	return zero, false
}

// Has 只看是否存在且未过期，不算一次访问
func (s *Store[V]) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	return ok && !el.Value.(*Entry[V]).expired(s.now())
}

// Set ttl<=0 用实例默认 TTL。单条超过 MaxBytes 的不缓存，返回 false
func (s *Store[V]) Set(key string, v V, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	size := s.sizer(v)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxBytes > 0 && size > s.cfg.MaxBytes {
		if el, ok := s.items[key]; ok {
			s.removeLocked(el, "")
		}
		logger.Debug(context.Background(), "cache entry too large",
			zap.String("cache", s.cfg.Name), zap.Int64("size", size))
		return false
	}

	now := s.now()
	if el, ok := s.items[key]; ok {
		e := el.Value.(*Entry[V])
		s.bytes += size - e.Size
		e.Value, e.Size = v, size
		e.CreatedAt, e.TTL = now, ttl
		e.LastAccessedAt = now
		s.ll.MoveToFront(el)
	} else {
		e := &Entry[V]{Key: key, Value: v, CreatedAt: now, TTL: ttl, LastAccessedAt: now, Size: size}
		s.items[key] = s.ll.PushFront(e)
		s.bytes += size
	}

	for s.overLocked() {
		back := s.ll.Back()
		if back == nil {
			break
		}
		s.removeLocked(back, "evict")
	}
	metrics.CacheEntries.WithLabelValues(s.cfg.Name).Set(float64(s.ll.Len()))
	return true
}

func (s *Store[V]) overLocked() bool {
	if s.cfg.MaxEntries > 0 && s.ll.Len() > s.cfg.MaxEntries {
		return true
	}
	return s.cfg.MaxBytes > 0 && s.bytes > s.cfg.MaxBytes
}

func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.removeLocked(el, "")
	}
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

func (s *Store[V]) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Sweep 删掉过期（且过了宽限期）的条目，返回删除数量
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for el := s.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*Entry[V])
		if !now.Before(e.CreatedAt.Add(e.TTL + s.cfg.StaleGrace)) {
			s.removeLocked(el, "expire")
			n++
		}
		el = prev
	}
	metrics.CacheEntries.WithLabelValues(s.cfg.Name).Set(float64(s.ll.Len()))
	return n
}

// StartJanitor 按 SweepInterval 定时清理，ctx 结束退出
func (s *Store[V]) StartJanitor(ctx context.Context) {
	safe.GoCtx(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					logger.Debug(ctx, "cache swept", zap.String("cache", s.cfg.Name), zap.Int("removed", n))
				}
			}
		}
	})
}

func (s *Store[V]) removeLocked(el *list.Element, op string) {
	e := s.ll.Remove(el).(*Entry[V])
	delete(s.items, e.Key)
	s.bytes -= e.Size
	switch op {
	case "evict":
		s.stats.Evictions++
	case "expire":
		s.stats.Expirations++
	default:
		return
	}
	metrics.CacheOpsTotal.WithLabelValues(s.cfg.Name, op).Inc()
}

func (s *Store[V]) miss() {
	s.stats.Misses++
	metrics.CacheOpsTotal.WithLabelValues(s.cfg.Name, "miss").Inc()
}

func defaultSize[V any](v V) int64 {
	switch x := any(v).(type) {
	case []byte:
		return int64(len(x))
	case string:
		return int64(len(x))
	default:
		return 64
	}
}

// Key 由 endpoint + 排序后的参数生成，等价请求落到同一个 key
func Key(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	norm := make(url.Values, len(params))
	for k, vs := range params {
		cp := slices.Clone(vs)
		slices.Sort(cp)
		norm[k] = cp
	}
	// Encode 本身按 key 排序
	return endpoint + "?" + norm.Encode()
}

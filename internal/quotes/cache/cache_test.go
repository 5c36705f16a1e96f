package cache

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(cfg Config) (*Store[string], *clock) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	return New[string](cfg, WithClock[string](c.Now)), c
}

func TestStore_SetGetAndTTL(t *testing.T) {
	s, c := newTestStore(Config{Name: "t-ttl", TTL: time.Minute})

	require.True(t, s.Set("k", "v", 10*time.Second))
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, s.Has("k"))

	c.Advance(9 * time.Second)
	_, ok = s.Get("k")
	assert.True(t, ok)

	c.Advance(time.Second)
	_, ok = s.Get("k")
	assert.False(t, ok, "ttl 到期后必须 miss")
	assert.False(t, s.Has("k"))
	assert.Equal(t, 0, s.Len(), "没有宽限期时过期条目直接删除")

	// ttl<=0 用实例默认值
	s.Set("d", "v", 0)
	c.Advance(59 * time.Second)
	assert.True(t, s.Has("d"))
	c.Advance(time.Second)
	assert.False(t, s.Has("d"))
}

func TestStore_EvictsLeastRecentlyAccessed(t *testing.T) {
	s, c := newTestStore(Config{Name: "t-lru", MaxEntries: 3})

	s.Set("a", "1", 0)
	c.Advance(time.Millisecond)
	s.Set("b", "2", 0)
	c.Advance(time.Millisecond)
	s.Set("c", "3", 0)
	c.Advance(time.Millisecond)

	// a 最早插入，但最近被访问过
	_, ok := s.Get("a")
	require.True(t, ok)

	s.Set("d", "4", 0)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("b"), "b 是最久未访问的，应该被淘汰")
	assert.True(t, s.Has("c"))
	assert.True(t, s.Has("d"))
	assert.Equal(t, uint64(1), s.Stats().Evictions)
}

func TestStore_HasDoesNotTouchRecency(t *testing.T) {
	s, _ := newTestStore(Config{Name: "t-has", MaxEntries: 2})
	s.Set("a", "1", 0)
	s.Set("b", "2", 0)
	assert.True(t, s.Has("a"))
	s.Set("c", "3", 0)
	assert.False(t, s.Has("a"))
}

func TestStore_MaxBytes(t *testing.T) {
	s, _ := newTestStore(Config{Name: "t-bytes", MaxBytes: 10})

	s.Set("a", "12345", 0)
	s.Set("b", "12345", 0)
	assert.Equal(t, int64(10), s.Bytes())

	s.Set("c", "123", 0)
	assert.False(t, s.Has("a"))
	assert.Equal(t, int64(8), s.Bytes())

	// 单条超限不缓存
	assert.False(t, s.Set("huge", "12345678901", 0))
	assert.False(t, s.Has("huge"))

	// 覆盖写更新大小
	s.Set("b", "1", 0)
	assert.Equal(t, int64(4), s.Bytes())
}

func TestStore_StaleGraceAndSweep(t *testing.T) {
	s, c := newTestStore(Config{Name: "t-stale", TTL: 10 * time.Second, StaleGrace: time.Minute})

	s.Set("k", "v", 0)
	c.Advance(11 * time.Second)

	_, ok := s.Get("k")
	assert.False(t, ok)
	v, ok := s.GetStale("k")
	require.True(t, ok, "宽限期内保留旧值")
	assert.Equal(t, "v", v)

	assert.Equal(t, 0, s.Sweep())
	c.Advance(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	_, ok = s.GetStale("k")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.Stats().Expirations)
}

func TestStore_SweepWithoutReads(t *testing.T) {
	s, c := newTestStore(Config{Name: "t-sweep", TTL: time.Second})
	for i := 0; i < 10; i++ {
		s.Set(fmt.Sprintf("k%d", i), "v", 0)
	}
	s.Set("long", "v", time.Hour)
	c.Advance(2 * time.Second)
	assert.Equal(t, 10, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestStore_Janitor(t *testing.T) {
	s := New[[]byte](Config{Name: "t-janitor", TTL: time.Millisecond, SweepInterval: 5 * time.Millisecond})
	s.Set("k", []byte("v"), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_Concurrent(t *testing.T) {
	s := New[int](Config{Name: "t-conc", MaxEntries: 50})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := fmt.Sprintf("k%d", (g*31+i)%120)
				s.Set(k, i, 0)
				s.Get(k)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 50)
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("/rsi", url.Values{"symbol": {"BTC/USDT"}, "interval": {"1d"}})
	b := Key("/rsi", url.Values{"interval": {"1d"}, "symbol": {"BTC/USDT"}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Key("/rsi", url.Values{"interval": {"1h"}, "symbol": {"BTC/USDT"}}))
	assert.Equal(t, "/rsi", Key("/rsi", nil))

	// 多值参数顺序无关，且不改写调用方的切片
	vs := url.Values{"s": {"b", "a"}}
	assert.Equal(t, Key("/x", url.Values{"s": {"a", "b"}}), Key("/x", vs))
	assert.Equal(t, []string{"b", "a"}, vs["s"])
}

package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tickwire.com/internal/quotes/backoff"
	"tickwire.com/internal/quotes/cache"
	"tickwire.com/pkg/ratelimit"
	"tickwire.com/pkg/xerr"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if d > 0 {
		r.mu.Lock()
		r.waits = append(r.waits, d)
		r.mu.Unlock()
	}
	return ctx.Err()
}

func (r *sleepRecorder) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type fixture struct {
	srv    *httptest.Server
	hits   atomic.Int32
	spacer *ratelimit.Spacer
	store  *cache.Store[[]byte]
	sleeps *sleepRecorder
	client *Client
}

func newFixture(t *testing.T, spacing time.Duration, h http.HandlerFunc, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{sleeps: &sleepRecorder{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)

	f.spacer = ratelimit.NewSpacer(spacing, nil)
	f.store = cache.New[[]byte](cache.Config{Name: "test-" + t.Name(), TTL: time.Minute, StaleGrace: time.Hour})
	opts = append([]Option{
		WithSleep(f.sleeps.Sleep),
		WithBackoff(backoff.Policy{Base: 100 * time.Millisecond, Max: time.Second, Growth: 2}),
	}, opts...)
	f.client = New("taapi", f.srv.URL, f.spacer, f.store, opts...)
	return f
}

func TestIndicator_SecondCallServedFromCache(t *testing.T) {
	f := newFixture(t, 12*time.Second, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rsi", r.URL.Path)
		assert.Equal(t, "BTC/USD", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`{"value": 61.25}`))
	})
	q := IndicatorQuery{Indicator: "RSI", Symbol: "BTC/USD", Interval: "1d"}

	res, err := f.client.Indicator(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 61.25, res.Values["value"])
	slot := f.spacer.LastRequestAt("taapi")

	res, err = f.client.Indicator(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 61.25, res.Values["value"])

	assert.Equal(t, int32(1), f.hits.Load(), "第二次应该完全走缓存")
	assert.Equal(t, slot, f.spacer.LastRequestAt("taapi"), "缓存命中不经过限流器")
	assert.Empty(t, f.sleeps.Waits())
}

func TestRequest_WaitsForSpacing(t *testing.T) {
	f := newFixture(t, 500*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	ctx := context.Background()
	_, err := f.client.Request(ctx, "/a", nil)
	require.NoError(t, err)
	_, err = f.client.Request(ctx, "/b", nil)
	require.NoError(t, err)

	waits := f.sleeps.Waits()
	require.Len(t, waits, 1)
	assert.InDelta(t, float64(500*time.Millisecond), float64(waits[0]), float64(100*time.Millisecond))
}

func TestRequest_RetriesTransientThenSucceeds(t *testing.T) {
	var n atomic.Int32
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		switch n.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	})

	body, err := f.client.Request(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), f.hits.Load())
	// 两次退避：Base、Base*2
	waits := f.sleeps.Waits()
	require.Len(t, waits, 2)
	assert.GreaterOrEqual(t, waits[0], 100*time.Millisecond)
	assert.GreaterOrEqual(t, waits[1], 200*time.Millisecond)
}

func TestRequest_TransientExhausted(t *testing.T) {
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := f.client.Request(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, xerr.ErrTransient)
	assert.Equal(t, int32(3), f.hits.Load())
	assert.False(t, f.store.Has(f.client.Key("/x", nil)))
}

func TestRequest_PermanentErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>oops")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, tt.h)
			_, err := f.client.Request(context.Background(), "/x", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, xerr.ErrPermanent)
			assert.False(t, xerr.IsRetryable(err))
			assert.Equal(t, int32(1), f.hits.Load())
		})
	}
}

func TestRequest_NonBlocking(t *testing.T) {
	f := newFixture(t, time.Hour, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	ctx := context.Background()
	_, err := f.client.Request(ctx, "/a", nil, NonBlocking())
	require.NoError(t, err)

	_, err = f.client.Request(ctx, "/b", nil, NonBlocking())
	assert.ErrorIs(t, err, xerr.ErrRateLimited)
	assert.Equal(t, int32(1), f.hits.Load())
	assert.Empty(t, f.sleeps.Waits())

	// 缓存命中不受限流影响
	_, err = f.client.Request(ctx, "/a", nil, NonBlocking())
	assert.NoError(t, err)
}

func TestRequest_CredentialNeverLeaks(t *testing.T) {
	const secret = "s3cr3t-token"
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, secret, r.Header.Get("X-Api-Key"))
		assert.Equal(t, secret, r.URL.Query().Get("secret"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(`{"value":1}`))
	}, WithCredential(Credential{Header: "X-Api-Key", Query: "secret", Value: secret}))

	params := url.Values{"symbol": {"BTC/USD"}}
	_, err := f.client.Request(context.Background(), "/rsi", params)
	require.NoError(t, err)
	key := f.client.Key("/rsi", params)
	assert.NotContains(t, key, secret)
	assert.True(t, f.store.Has(key))
	assert.Empty(t, params.Get("secret"), "不能改写调用方的参数")

	// 网络错误信息里也不能带出 query 凭证
	f.srv.Close()
	_, err = f.client.Request(context.Background(), "/macd", params)
	require.Error(t, err)
	assert.ErrorIs(t, err, xerr.ErrTransient)
	assert.NotContains(t, err.Error(), secret)
}

func TestRequest_CallerTimeoutStillPopulatesCache(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"value":7}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.client.Request(ctx, "/slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	key := f.client.Key("/slow", nil)
	assert.Eventually(t, func() bool { return f.store.Has(key) }, 2*time.Second, 5*time.Millisecond)

	body, err := f.client.Request(context.Background(), "/slow", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":7}`, string(body))
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestRequest_ConcurrentCallersShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`[1,2,3]`))
	})

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, err := f.client.Request(context.Background(), "/same", url.Values{"a": {"1"}})
			assert.NoError(t, err)
			results[i] = string(body)
		}(i)
	}
	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.hits.Load())
	for _, r := range results {
		assert.Equal(t, "[1,2,3]", r)
	}
}

func TestCandles_Decode(t *testing.T) {
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1700000000000", r.URL.Query().Get("startTime"))
		_, _ = w.Write([]byte(`[
			[1700000000000,"50000.10","50100.00","49900.00","50050.5","12.5",1700003599999,"0",10,"0","0","0"],
			[1700003600000,"50050.5","50200.00","50000.00","50150.0","8.25",1700007199999,"0",7,"0","0","0"]
		]`))
	})

	q := CandleQuery{Symbol: "BTCUSDT", Interval: "1h", Start: time.UnixMilli(1700000000000), Limit: 2}
	candles, err := f.client.Candles(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "50000.1", candles[0].Open.String())
	assert.Equal(t, "50150", candles[1].Close.String())
	assert.Equal(t, int64(1700003599999), candles[0].CloseTime.UnixMilli())

	stale, ok := f.client.StaleCandles(q)
	require.True(t, ok)
	assert.Equal(t, candles, stale)
}

func TestCandles_BadRowIsPermanent(t *testing.T) {
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1700000000000,"x","1","1","1","1",1700003599999]]`))
	})
	_, err := f.client.Candles(context.Background(), CandleQuery{Symbol: "BTCUSDT", Interval: "1h"})
	assert.ErrorIs(t, err, xerr.ErrPermanent)
}

func TestIndicator_NonNumericIsPermanent(t *testing.T) {
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"unknown symbol"}`))
	})
	_, err := f.client.Indicator(context.Background(), IndicatorQuery{Indicator: "rsi", Symbol: "NOPE", Interval: "1d"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no numeric values"))
}

func TestIndicator_MalformedResponseIsNotCached(t *testing.T) {
	var n atomic.Int32
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"error":"upstream hiccup"}`))
			return
		}
		_, _ = w.Write([]byte(`{"value":61.25}`))
	})
	q := IndicatorQuery{Indicator: "RSI", Symbol: "BTC/USD", Interval: "1d"}
	key := f.client.Key(q.request())

	_, err := f.client.Indicator(context.Background(), q)
	require.Error(t, err)
	assert.ErrorIs(t, err, xerr.ErrPermanent)
	assert.False(t, f.store.Has(key), "解不出来的响应不能写缓存")

	res, err := f.client.Indicator(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 61.25, res.Values["value"])
	assert.Equal(t, int32(2), f.hits.Load())
	assert.True(t, f.store.Has(key))
}

func TestCandles_BadRowsAreNotCached(t *testing.T) {
	var n atomic.Int32
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			_, _ = w.Write([]byte(`[[1700000000000,"x"]]`))
			return
		}
		_, _ = w.Write([]byte(`[[1700000000000,"1","2","0.5","1.5","3",1700003599999]]`))
	})
	q := CandleQuery{Symbol: "BTCUSDT", Interval: "1h"}

	_, err := f.client.Candles(context.Background(), q)
	assert.ErrorIs(t, err, xerr.ErrPermanent)
	assert.False(t, xerr.IsRetryable(err))
	assert.Equal(t, int32(1), f.hits.Load(), "解码失败不重试")

	candles, err := f.client.Candles(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "1.5", candles[0].Close.String())
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestIndicator_RawCacheEntryThatDoesNotDecodeIsRefetched(t *testing.T) {
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":3}`))
	})
	q := IndicatorQuery{Indicator: "rsi", Symbol: "ETH/USD", Interval: "1h"}
	f.store.Set(f.client.Key(q.request()), []byte(`{"note":"raw"}`), time.Minute)

	res, err := f.client.Indicator(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Values["value"])
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestRequest_NoCacheCallerDoesNotJoinCachedFlight(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 0, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"v":1}`))
	})
	ctx := context.Background()
	key := f.client.Key("/same", nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.client.Request(ctx, "/same", nil, NoCache())
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := f.client.Request(ctx, "/same", nil)
		assert.NoError(t, err)
	}()
	// 选项不同，各走各的上游请求
	require.Eventually(t, func() bool { return f.hits.Load() == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.True(t, f.store.Has(key), "带缓存的调用必须自己写缓存")
}

func TestRequestOptions_FlightKey(t *testing.T) {
	base := requestOptions{ttl: time.Minute}
	noCache := base
	noCache.noCache = true
	shortTTL := base
	shortTTL.ttl = time.Second

	assert.Equal(t, base.flight("k"), requestOptions{ttl: time.Minute}.flight("k"))
	assert.NotEqual(t, base.flight("k"), noCache.flight("k"))
	assert.NotEqual(t, base.flight("k"), shortTTL.flight("k"))
	assert.NotEqual(t, base.flight("k"), base.flight("k2"))
}

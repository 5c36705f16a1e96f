package restclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"tickwire.com/internal/quotes/backoff"
	"tickwire.com/internal/quotes/cache"
	"tickwire.com/pkg/common"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/metrics"
	"tickwire.com/pkg/ratelimit"
	"tickwire.com/pkg/xerr"
)

const maxBodyBytes = 8 << 20

// Credential 构造时传入的鉴权信息，只在发请求时拼上去；不进日志、不进缓存 key
type Credential struct {
	Header string // 例如 X-MBX-APIKEY
	Query  string // 例如 secret
	Value  string
}

func (c Credential) String() string { return "Credential(redacted)" }

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

func WithCredential(cred Credential) Option { return func(c *Client) { c.cred = cred } }

func WithTTL(ttl time.Duration) Option { return func(c *Client) { c.ttl = ttl } }

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBackoff(p backoff.Policy) Option { return func(c *Client) { c.backoff = p } }

func WithBreakers(m *ratelimit.BreakerManager) Option { return func(c *Client) { c.breakers = m } }

// WithSleep 替换限流 / 重试时的等待，测试里用
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = f }
}

// Client 对单个 REST provider 的只读 GET 客户端：先查缓存，再限流，失败按退避重试
type Client struct {
	name    string
	baseURL string

	hc       *http.Client
	spacer   *ratelimit.Spacer
	cache    *cache.Store[[]byte]
	breakers *ratelimit.BreakerManager
	cred     Credential

	ttl         time.Duration
	maxAttempts int
	backoff     backoff.Policy
	sleep       func(ctx context.Context, d time.Duration) error

	sf     singleflight.Group
	tracer trace.Tracer
}

func New(name, baseURL string, spacer *ratelimit.Spacer, store *cache.Store[[]byte], opts ...Option) *Client {
	c := &Client{
		name:        name,
		baseURL:     strings.TrimRight(baseURL, "/"),
		hc:          &http.Client{Timeout: 10 * time.Second},
		spacer:      spacer,
		cache:       store,
		ttl:         store.TTL(),
		maxAttempts: 3,
		backoff:     backoff.Default(),
		sleep:       ratelimit.Sleep,
		tracer:      otel.Tracer("tickwire.com/internal/quotes/restclient"),
	}
	for _, o := range opts {
		o(c)
	}
	if c.breakers == nil {
		c.breakers = ratelimit.NewBreakerManager(ratelimit.Rule{}, nil)
	}
	return c
}

func (c *Client) Name() string { return c.name }

type requestOptions struct {
	cacheKey    string
	ttl         time.Duration
	noCache     bool
	nonBlocking bool
	decode      func([]byte) error
}

type RequestOption func(*requestOptions)

// WithCacheKey 指定缓存 key；默认由 endpoint + 参数生成
func WithCacheKey(key string) RequestOption { return func(o *requestOptions) { o.cacheKey = key } }

func WithRequestTTL(ttl time.Duration) RequestOption { return func(o *requestOptions) { o.ttl = ttl } }

// NoCache 不读也不写缓存
func NoCache() RequestOption { return func(o *requestOptions) { o.noCache = true } }

// NonBlocking 限流时不等待，直接返回 RateLimitExceeded
func NonBlocking() RequestOption { return func(o *requestOptions) { o.nonBlocking = true } }

// withDecode 写缓存前先解码校验，失败按 Permanent 返回，不写缓存
func withDecode(f func([]byte) error) RequestOption { return func(o *requestOptions) { o.decode = f } }

// Key 和 Request 默认使用的缓存 key 一致
func (c *Client) Key(endpoint string, params url.Values) string {
	return cache.Key(endpoint, params)
}

// Stale 过期但还没被清理的缓存，给上层做降级
func (c *Client) Stale(key string) ([]byte, bool) {
	return c.cache.GetStale(key)
}

// Request 发起一次幂等 GET。
//
// 调用方 ctx 超时只是放弃等待，真正的请求在后台跑完并写缓存；相同 key 的并发请求只打一次上游
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values, opts ...RequestOption) ([]byte, error) {
	ro := requestOptions{ttl: c.ttl}
	for _, o := range opts {
		o(&ro)
	}
	key := ro.cacheKey
	if key == "" {
		key = c.Key(endpoint, params)
	}

	if !ro.noCache {
		if body, ok := c.cache.Get(key); ok {
			if ro.decode == nil || ro.decode(body) == nil {
				return body, nil
			}
			// 同一个 key 被不校验的原始请求写过、内容解不出来，按未命中处理
			c.cache.Delete(key)
		}
	}

	ch := c.sf.DoChan(ro.flight(key), func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), endpoint, params, key, ro)
	})

	select {
	case <-ctx.Done():
		logger.Debug(ctx, "rest caller gave up, fetch continues in background",
			zap.String("provider", c.name), zap.String("endpoint", endpoint))
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

// 写不写缓存、TTL 多少、是否校验都由发起 flight 的调用决定，选项不同的调用不能合并
func (o requestOptions) flight(key string) string {
	var b strings.Builder
	b.WriteString(key)
	b.WriteString("|ttl=")
	b.WriteString(o.ttl.String())
	if o.noCache {
		b.WriteString("|nc")
	}
	if o.nonBlocking {
		b.WriteString("|nb")
	}
	if o.decode != nil {
		b.WriteString("|dec")
	}
	return b.String()
}

func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values, key string, ro requestOptions) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "restclient.fetch", trace.WithAttributes(
		attribute.String("provider", c.name),
		attribute.String("endpoint", endpoint),
	))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff.Next(uint(attempt-1))); err != nil {
				return nil, err
			}
		}

		if ro.nonBlocking {
			if !c.spacer.TryAdmit(c.name) {
				err := xerr.Wrap(xerr.RateLimitExceeded, c.name, errors.New("min spacing not elapsed"))
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		} else if err := c.sleep(ctx, c.spacer.Admit(c.name)); err != nil {
			return nil, err
		}

		body, err := c.breakers.Execute(c.name, func() ([]byte, error) {
			return c.do(ctx, endpoint, params)
		})
		if err == nil && ro.decode != nil {
			if derr := ro.decode(body); derr != nil {
				if xerr.CodeOf(derr) != xerr.Permanent {
					derr = xerr.Wrap(xerr.Permanent, c.name, derr)
				}
				span.RecordError(derr)
				span.SetStatus(codes.Error, derr.Error())
				return nil, derr
			}
		}
		if err == nil {
			if !ro.noCache {
				c.cache.Set(key, body, ro.ttl)
			}
			return body, nil
		}

		lastErr = err
		if !xerr.IsRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		logger.Warn(ctx, "rest attempt failed",
			zap.String("provider", c.name),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	span.SetStatus(codes.Error, "attempts exhausted")
	return nil, xerr.Wrap(xerr.TransientNetwork, c.name, fmt.Errorf("%d attempts: %w", c.maxAttempts, lastErr))
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	q := make(url.Values, len(params)+1)
	maps.Copy(q, params)
	if c.cred.Query != "" {
		q.Set(c.cred.Query, c.cred.Value)
	}
	target := c.baseURL + endpoint
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, xerr.Wrap(xerr.Permanent, c.name, fmt.Errorf("build request %s: %w", endpoint, unwrapURLErr(err)))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(common.HeaderRequestID, common.NewRequestID())
	if c.cred.Header != "" {
		req.Header.Set(c.cred.Header, c.cred.Value)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	metrics.RestRequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RestRequestTotal.WithLabelValues(c.name, "transient").Inc()
		// url.Error 里带完整 URL（可能含 query 凭证），只保留底层错误
		return nil, xerr.Wrap(xerr.TransientNetwork, c.name, fmt.Errorf("GET %s: %w", endpoint, unwrapURLErr(err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.RestRequestTotal.WithLabelValues(c.name, "transient").Inc()
		return nil, xerr.Wrap(xerr.TransientNetwork, c.name, fmt.Errorf("read %s: %w", endpoint, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		metrics.RestRequestTotal.WithLabelValues(c.name, "transient").Inc()
		return nil, xerr.Wrap(xerr.TransientNetwork, c.name, statusErr(endpoint, resp.StatusCode, body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.RestRequestTotal.WithLabelValues(c.name, "permanent").Inc()
		return nil, xerr.Wrap(xerr.Permanent, c.name, statusErr(endpoint, resp.StatusCode, body))
	}

	if !json.Valid(body) {
		metrics.RestRequestTotal.WithLabelValues(c.name, "permanent").Inc()
		return nil, xerr.Wrap(xerr.Permanent, c.name, fmt.Errorf("GET %s: malformed response body", endpoint))
	}
	metrics.RestRequestTotal.WithLabelValues(c.name, "ok").Inc()
	return body, nil
}

func statusErr(endpoint string, code int, body []byte) error {
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Errorf("GET %s: status %d: %s", endpoint, code, strings.TrimSpace(string(body)))
}

func unwrapURLErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

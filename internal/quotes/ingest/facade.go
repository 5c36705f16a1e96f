package ingest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/internal/quotes/restclient"
	"tickwire.com/internal/quotes/stream"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/metrics"
	"tickwire.com/pkg/xerr"
)

type Config struct {
	// StaleAfter 超过这个时间没更新的值标记为 stale
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// Value 对外返回的最新值，永远带上是否过期，而不是用错误替代数据
type Value struct {
	model.Quote
	Stale bool `json:"stale"`
}

// SnapshotLoader 进程启动时加载上次的最新值（预热），加载进来的值在收到实时数据前都算 stale
type SnapshotLoader interface {
	Load(ctx context.Context) ([]model.Quote, error)
}

// Facade 下游唯一入口：每个流式 provider 一个 stream.Conn，每个 REST provider 一个 restclient.Client
type Facade struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	values   map[string]model.Quote
	restored map[string]bool

	conns map[string]*stream.Conn
	rest  map[string]*restclient.Client

	subMu   sync.Mutex
	subs    map[uint64]chan model.Quote
	nextSub uint64
	dropped atomic.Uint64
}

func New(cfg Config) *Facade {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	return &Facade{
		cfg:      cfg,
		now:      time.Now,
		values:   make(map[string]model.Quote),
		restored: make(map[string]bool),
		conns:    make(map[string]*stream.Conn),
		rest:     make(map[string]*restclient.Client),
		subs:     make(map[uint64]chan model.Quote),
	}
}

// AddStream 在 Start 之前注册流式 provider；dialer 为 nil 用 websocket
func (f *Facade) AddStream(cfg stream.Config, dialer stream.Dialer) *stream.Conn {
	c := stream.NewConn(cfg, dialer, f.onStreamEvent)
	f.mu.Lock()
	f.conns[cfg.Provider] = c
	f.mu.Unlock()
	return c
}

func (f *Facade) AddRest(c *restclient.Client) {
	f.mu.Lock()
	f.rest[c.Name()] = c
	f.mu.Unlock()
}

func (f *Facade) Start(ctx context.Context) {
	for _, c := range f.streams() {
		c.Start(ctx)
	}
}

func (f *Facade) Stop() {
	for _, c := range f.streams() {
		c.Stop()
	}
}

func (f *Facade) streams() []*stream.Conn {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*stream.Conn, 0, len(f.conns))
	for _, c := range f.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider() < out[j].Provider() })
	return out
}

// Restore 预热：只填还没有值的标的，不触发通知
func (f *Facade) Restore(ctx context.Context, src SnapshotLoader) (int, error) {
	quotes, err := src.Load(ctx)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range quotes {
		if _, ok := f.values[q.Symbol]; ok {
			continue
		}
		f.values[q.Symbol] = q
		f.restored[q.Symbol] = true
		n++
	}
	logger.Info(ctx, "quotes restored from snapshot", zap.Int("count", n))
	return n, nil
}

// onStreamEvent 在各连接的事件循环里同步调用，不能阻塞
func (f *Facade) onStreamEvent(ev stream.Event) {
	switch ev.Kind {
	case stream.EventTick:
		f.accept(model.Quote{Provider: ev.Provider, Symbol: ev.Symbol, Price: ev.Price, UpdatedAt: ev.At})
	case stream.EventSubscribed:
		logger.Debug(context.Background(), "subscription acknowledged",
			zap.String("provider", ev.Provider), zap.String("symbol", ev.Symbol))
	case stream.EventState:
		logger.Info(context.Background(), "stream state changed",
			zap.String("provider", ev.Provider), zap.Stringer("state", ev.State), zap.Error(ev.Err))
	case stream.EventError:
		if xerr.CodeOf(ev.Err) == xerr.MalformedMessage {
			logger.Debug(context.Background(), "stream message dropped", zap.String("provider", ev.Provider), zap.Error(ev.Err))
			return
		}
		logger.Warn(context.Background(), "stream error", zap.String("provider", ev.Provider), zap.Error(ev.Err))
	}
}

// accept 幂等覆盖：比当前值旧的更新直接丢弃，其余全部接受并通知
func (f *Facade) accept(q model.Quote) bool {
	f.mu.Lock()
	if cur, ok := f.values[q.Symbol]; ok && !f.restored[q.Symbol] && q.UpdatedAt.Before(cur.UpdatedAt) {
		f.mu.Unlock()
		return false
	}
	f.values[q.Symbol] = q
	delete(f.restored, q.Symbol)
	f.mu.Unlock()

	f.notify(q)
	return true
}

func (f *Facade) notify(q model.Quote) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- q:
		default:
			// 慢消费者丢弃，不能拖住连接的事件循环
			f.dropped.Add(1)
			metrics.SinkWritesTotal.WithLabelValues("subscriber", "dropped").Inc()
		}
	}
}

// Subscribe 订阅变更通知。cancel 之后 channel 会被关闭
func (f *Facade) Subscribe(buffer int) (<-chan model.Quote, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan model.Quote, buffer)
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	f.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.subMu.Lock()
			delete(f.subs, id)
			f.subMu.Unlock()
			close(ch)
		})
	}
}

// Dropped 因为订阅方太慢被丢掉的通知数
func (f *Facade) Dropped() uint64 { return f.dropped.Load() }

func (f *Facade) Current(symbol string) (Value, bool) {
	f.mu.RLock()
	q, ok := f.values[symbol]
	restored := f.restored[symbol]
	conn := f.conns[q.Provider]
	f.mu.RUnlock()
	if !ok {
		return Value{}, false
	}
	return Value{Quote: q, Stale: restored || f.stale(q, conn)}, true
}

// Snapshot 全部最新值，按标的排序
func (f *Facade) Snapshot() []Value {
	f.mu.RLock()
	out := make([]Value, 0, len(f.values))
	for sym, q := range f.values {
		out = append(out, Value{Quote: q, Stale: f.restored[sym] || f.stale(q, f.conns[q.Provider])})
	}
	f.mu.RUnlock()
	slices.SortFunc(out, func(a, b Value) int {
		if a.Symbol < b.Symbol {
			return -1
		}
		if a.Symbol > b.Symbol {
			return 1
		}
		return 0
	})
	return out
}

func (f *Facade) stale(q model.Quote, conn *stream.Conn) bool {
	if f.now().Sub(q.UpdatedAt) > f.cfg.StaleAfter {
		return true
	}
	return conn == nil || conn.Status().State != stream.Open
}

// Health 每个流式连接的状态快照，按 provider 排序
func (f *Facade) Health() []stream.Status {
	conns := f.streams()
	out := make([]stream.Status, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Status())
	}
	return out
}

// Resume 宿主从挂起恢复时调用，返回立即重连的连接数
func (f *Facade) Resume() int {
	n := 0
	for _, c := range f.streams() {
		if c.Resume() {
			n++
		}
	}
	if n > 0 {
		logger.Info(context.Background(), "resumed stream connections", zap.Int("count", n))
	}
	return n
}

// Reset 人工把 Failed 的连接拉起来
func (f *Facade) Reset(provider string) error {
	f.mu.RLock()
	c, ok := f.conns[provider]
	f.mu.RUnlock()
	if !ok {
		return xerr.New(xerr.Permanent, fmt.Sprintf("unknown stream provider %q", provider))
	}
	c.Reset()
	return nil
}

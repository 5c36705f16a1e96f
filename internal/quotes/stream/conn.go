package stream

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tickwire.com/internal/quotes/backoff"
	"tickwire.com/internal/quotes/wsmetrics"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/safe"
	"tickwire.com/pkg/xerr"
)

type Symbol struct {
	Symbol         string `mapstructure:"symbol" json:"symbol"`
	ProviderSymbol string `mapstructure:"provider_symbol" json:"provider_symbol"`
}

type Config struct {
	Provider string   `mapstructure:"provider"`
	URL      string   `mapstructure:"url"`
	Channel  string   `mapstructure:"channel"`
	Symbols  []Symbol `mapstructure:"symbols"`

	PingInterval       time.Duration `mapstructure:"ping_interval"`
	StaleThreshold     time.Duration `mapstructure:"stale_threshold"`
	StaleCheckInterval time.Duration `mapstructure:"stale_check_interval"`
	// AckTimeout Open 之后多久还有订阅没被确认就强制重连，0 关闭
	AckTimeout  time.Duration `mapstructure:"ack_timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	Backoff          backoff.Policy `mapstructure:"backoff"`
	MaxAttempts      uint           `mapstructure:"max_attempts"`
	MaintenanceFloor time.Duration  `mapstructure:"maintenance_floor"`
	RejectionFactor  float64        `mapstructure:"rejection_factor"`
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = "ticker"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 45 * time.Second
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
	if c.MaintenanceFloor <= 0 {
		c.MaintenanceFloor = 30 * time.Second
	}
	if c.RejectionFactor < 1 {
		c.RejectionFactor = 2
	}
	c.Backoff = c.Backoff.Normalize()
	return c
}

type reconnectClass uint8

const (
	classNormal reconnectClass = iota
	classEscalated
)

type linkKind uint8

const (
	linkDialed linkKind = iota
	linkMessage
	linkClosed
)

// 读 goroutine / 拨号 goroutine 投递给事件循环的消息，gen 用来丢弃旧连接的残留事件
type linkEvent struct {
	kind linkKind
	gen  uint64
	tr   Transport
	data []byte
	at   time.Time
	err  error
}

type cmdKind uint8

const (
	cmdStop cmdKind = iota
	cmdReset
	cmdResume
	cmdSubscribe
)

type command struct {
	kind    cmdKind
	symbols []Symbol
	reply   chan bool
}

type sub struct {
	symbol         string
	providerSymbol string
	channelID      *int64
}

// Conn 管理到一个行情 provider 的长连接。
//
// 所有状态只在一个事件循环 goroutine 里修改：socket 消息、拨号结果、ping/stale 定时器、
// 重连定时器、外部命令都通过 channel 送进循环，同一连接的处理逻辑不会并发执行。
// Handler 也在循环里同步调用，不能阻塞，也不能反过来调用 Conn 的方法。
type Conn struct {
	cfg     Config
	dialer  Dialer
	handler Handler
	now     func() time.Time

	cmds    chan command
	events  chan linkEvent
	done    chan struct{}
	startMu sync.Mutex
	started atomic.Bool
	ctx     context.Context

	// 以下字段只在事件循环里读写
	state       State
	gen         uint64
	tr          Transport
	dialCancel  context.CancelFunc
	subs        map[string]*sub
	order       []string
	byChannel   map[int64]string
	byPair      map[string]string
	subsDirty   bool
	health      HealthSample
	rtt         time.Duration
	quality     Quality
	reconnect   ReconnectState
	floor       time.Duration
	timer       *time.Timer
	pingTicker  *time.Ticker
	staleTicker *time.Ticker
	openedAt    time.Time
	reqID       int64
	pendingPing int64
	userStopped bool
	errCount    uint64
	lastErr     error

	mu     sync.RWMutex
	status Status
}

func NewConn(cfg Config, dialer Dialer, handler Handler) *Conn {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = NewWSDialer()
	}
	c := &Conn{
		cfg:       cfg,
		dialer:    dialer,
		handler:   handler,
		now:       time.Now,
		cmds:      make(chan command),
		events:    make(chan linkEvent, 64),
		done:      make(chan struct{}),
		subs:      make(map[string]*sub),
		byChannel: make(map[int64]string),
		byPair:    make(map[string]string),
		reconnect: ReconnectState{CurrentBackoff: cfg.Backoff.Base},
	}
	c.status = Status{Provider: cfg.Provider, State: Disconnected, Reconnect: c.reconnect}
	return c
}

func (c *Conn) Provider() string { return c.cfg.Provider }

// Done 事件循环退出后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// Start 启动事件循环并立即开始连接；ctx 结束时连接关闭、循环退出。重复调用无效
func (c *Conn) Start(ctx context.Context) {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started.Load() {
		return
	}
	c.addSubs(c.cfg.Symbols)
	c.ctx = ctx
	c.started.Store(true)
	safe.GoCtx(ctx, c.run)
}

// Stop 用户主动断开：取消所有定时器和待执行的重连，关闭连接，不再自动重连。任何状态下可重复调用
func (c *Conn) Stop() { c.do(command{kind: cmdStop}) }

// Reset 从 Failed（或 Stop 之后）显式重启，重连计数归零
func (c *Conn) Reset() { c.do(command{kind: cmdReset}) }

// Resume 宿主从挂起恢复：当前没有活跃连接时重置退避并立即重连。Failed 和用户 Stop 的连接不处理
func (c *Conn) Resume() bool { return c.do(command{kind: cmdResume}) }

// Subscribe 运行时追加订阅；连接已 Open 时立刻发一条批量订阅
func (c *Conn) Subscribe(symbols ...Symbol) {
	c.startMu.Lock()
	if !c.started.Load() {
		c.cfg.Symbols = append(c.cfg.Symbols, symbols...)
		c.startMu.Unlock()
		return
	}
	c.startMu.Unlock()
	c.do(command{kind: cmdSubscribe, symbols: symbols})
}

func (c *Conn) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status
	st.Subscriptions = slices.Clone(st.Subscriptions)
	return st
}

func (c *Conn) do(cmd command) bool {
	if !c.started.Load() {
		return false
	}
	cmd.reply = make(chan bool, 1)
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return false
	}
	select {
	case ok := <-cmd.reply:
		return ok
	case <-c.done:
		return false
	}
}

func (c *Conn) post(ev linkEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
		if ev.tr != nil {
			_ = ev.tr.Close()
		}
	}
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer c.shutdown()

	c.connect()
	c.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			ok := c.handleCommand(cmd)
			c.publish()
			cmd.reply <- ok
		case ev := <-c.events:
			c.handleLink(ev)
		case <-tickC(c.pingTicker):
			c.onPingTick()
		case <-tickC(c.staleTicker):
			c.onStaleTick()
		case <-timerC(c.timer):
			c.timer = nil
			c.onReconnectTimer()
		}
		c.publish()
	}
}

func (c *Conn) shutdown() {
	c.stopReconnectTimer()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dropLink("shutdown")
	c.setState(Disconnected, nil)
	c.publish()
}

func (c *Conn) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdStop:
		c.userStopped = true
		c.stopReconnectTimer()
		if c.dialCancel != nil {
			c.dialCancel()
			c.dialCancel = nil
		}
		if c.tr != nil {
			c.setState(Closing, nil)
		}
		c.dropLink("user_stop")
		c.setState(Disconnected, nil)
		logger.Info(c.ctx, "stream stopped", zap.String("provider", c.cfg.Provider))
		return true

	case cmdResume:
		if c.userStopped || c.state == Failed || c.tr != nil || c.state == Connecting {
			return false
		}
		logger.Info(c.ctx, "stream resume, reconnect now",
			zap.String("provider", c.cfg.Provider), zap.Uint("attempt", c.reconnect.Attempt))
		c.restart()
		return true

	case cmdReset:
		c.userStopped = false
		if c.tr != nil || c.state == Connecting {
			c.reconnect = ReconnectState{CurrentBackoff: c.cfg.Backoff.Base}
			c.floor = 0
			return true
		}
		logger.Info(c.ctx, "stream reset", zap.String("provider", c.cfg.Provider), zap.Stringer("from", c.state))
		c.restart()
		return true

	case cmdSubscribe:
		added := c.addSubs(cmd.symbols)
		if c.tr != nil && len(added) > 0 {
			if err := c.sendSubscribe(added); err != nil {
				c.linkLost("write", xerr.Wrap(xerr.TransientNetwork, c.cfg.Provider, err), classNormal)
			}
		}
		return true
	}
	return false
}

func (c *Conn) restart() {
	c.stopReconnectTimer()
	c.reconnect = ReconnectState{CurrentBackoff: c.cfg.Backoff.Base}
	c.floor = 0
	c.connect()
}

func (c *Conn) addSubs(symbols []Symbol) []string {
	var added []string
	for _, s := range symbols {
		if s.Symbol == "" {
			continue
		}
		ps := s.ProviderSymbol
		if ps == "" {
			ps = s.Symbol
		}
		if cur, ok := c.subs[s.Symbol]; ok {
			if cur.providerSymbol == ps {
				continue
			}
			delete(c.byPair, cur.providerSymbol)
			if cur.channelID != nil {
				delete(c.byChannel, *cur.channelID)
			}
			cur.providerSymbol, cur.channelID = ps, nil
		} else {
			c.subs[s.Symbol] = &sub{symbol: s.Symbol, providerSymbol: ps}
			c.order = append(c.order, s.Symbol)
		}
		c.byPair[ps] = s.Symbol
		added = append(added, s.Symbol)
	}
	if len(added) > 0 {
		c.subsDirty = true
	}
	return added
}

func (c *Conn) connect() {
	c.stopReconnectTimer()
	c.gen++
	gen := c.gen
	c.setState(Connecting, nil)

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	c.dialCancel = cancel
	safe.GoCtx(ctx, func(ctx context.Context) {
		defer cancel()
		tr, err := c.dialer.Dial(ctx, c.cfg.URL)
		c.post(linkEvent{kind: linkDialed, gen: gen, tr: tr, err: err})
	})
}

func (c *Conn) handleLink(ev linkEvent) {
	switch ev.kind {
	case linkDialed:
		if ev.gen != c.gen || c.state != Connecting {
			if ev.tr != nil {
				_ = ev.tr.Close()
			}
			return
		}
		c.dialCancel = nil
		if ev.err != nil {
			c.onDialFailed(ev.err)
			return
		}
		c.onOpen(ev.tr)
	case linkMessage:
		if ev.gen == c.gen && c.tr != nil {
			c.onMessage(ev.data, ev.at)
		}
	case linkClosed:
		if ev.gen == c.gen && c.tr != nil {
			c.linkLost("closed", xerr.Wrap(xerr.TransientNetwork, c.cfg.Provider, ev.err), classNormal)
		}
	}
}

func (c *Conn) onDialFailed(err error) {
	werr := xerr.Wrap(xerr.TransientNetwork, c.cfg.Provider, err)
	c.recordErr(werr)
	logger.Warn(c.ctx, "stream dial failed",
		zap.String("provider", c.cfg.Provider), zap.Uint("attempt", c.reconnect.Attempt+1), zap.Error(err))
	c.setState(Disconnected, werr)
	c.scheduleReconnect(classNormal)
}

func (c *Conn) onOpen(tr Transport) {
	now := c.now()
	c.tr = tr
	c.openedAt = now
	c.reconnect = ReconnectState{CurrentBackoff: c.cfg.Backoff.Base, Rejections: c.reconnect.Rejections}
	c.floor = 0
	c.health = HealthSample{LastActivityAt: now}
	c.quality, c.rtt, c.pendingPing = QualityUnknown, 0, 0
	c.setState(Open, nil)
	wsmetrics.OnOpen(c.cfg.Provider)
	logger.Info(c.ctx, "stream open", zap.String("provider", c.cfg.Provider), zap.Int("symbols", len(c.order)))

	gen := c.gen
	safe.GoCtx(c.ctx, func(context.Context) { c.readLoop(gen, tr) })

	c.pingTicker = time.NewTicker(c.cfg.PingInterval)
	c.staleTicker = time.NewTicker(c.cfg.StaleCheckInterval)

	if err := c.sendSubscribe(c.order); err != nil {
		c.linkLost("write", xerr.Wrap(xerr.TransientNetwork, c.cfg.Provider, err), classNormal)
	}
}

func (c *Conn) readLoop(gen uint64, tr Transport) {
	for {
		b, err := tr.ReadMessage()
		if err != nil {
			c.post(linkEvent{kind: linkClosed, gen: gen, err: err})
			return
		}
		c.post(linkEvent{kind: linkMessage, gen: gen, data: b, at: c.now()})
	}
}

func (c *Conn) sendSubscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		pairs = append(pairs, c.subs[s].providerSymbol)
	}
	c.reqID++
	b, err := EncodeSubscribe(c.reqID, c.cfg.Channel, pairs)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *Conn) write(b []byte) error {
	err := c.tr.WriteMessage(b)
	wsmetrics.ObserveWrite(c.cfg.Provider, len(b), err)
	return err
}

func (c *Conn) onMessage(data []byte, at time.Time) {
	in, err := Decode(data)
	if err != nil {
		c.recordErr(xerr.Wrap(xerr.MalformedMessage, c.cfg.Provider, err))
		wsmetrics.DroppedTotal.WithLabelValues(c.cfg.Provider, "unparseable").Inc()
		return
	}
	c.health.LastActivityAt = at
	wsmetrics.MsgsInTotal.WithLabelValues(c.cfg.Provider, in.Kind.String()).Inc()

	switch in.Kind {
	case KindHeartbeat:
	case KindPong:
		c.onPong(in, at)
	case KindSubscriptionStatus:
		c.onSubscriptionStatus(in)
	case KindSystemStatus:
		c.onSystemStatus(in)
	case KindData:
		c.onData(in, at)
	default:
		logger.Debug(c.ctx, "unhandled stream message", zap.String("provider", c.cfg.Provider), zap.String("event", in.Event))
	}
}

func (c *Conn) onPong(in Inbound, at time.Time) {
	// 只认当前这一轮 ping 的回包
	if c.pendingPing == 0 || (in.ReqID != 0 && in.ReqID != c.pendingPing) {
		return
	}
	rtt := at.Sub(c.health.LastPingSentAt)
	if rtt < 0 {
		return
	}
	c.health.LastPongReceivedAt = at
	c.health.ConsecutivePongMisses = 0
	c.pendingPing = 0
	c.rtt, c.quality = rtt, ClassifyLatency(rtt)
	wsmetrics.ObservePong(c.cfg.Provider, rtt)
}

func (c *Conn) onSubscriptionStatus(in Inbound) {
	logical, known := c.byPair[in.Pair]
	switch in.Status {
	case "subscribed":
		if !known || !in.HasChannel {
			logger.Debug(c.ctx, "ack for unknown pair", zap.String("provider", c.cfg.Provider), zap.String("pair", in.Pair))
			return
		}
		s := c.subs[logical]
		if s.channelID != nil {
			delete(c.byChannel, *s.channelID)
		}
		id := in.ChannelID
		s.channelID = &id
		c.byChannel[id] = logical
		c.subsDirty = true
		c.reconnect.Rejections = 0
		c.emit(Event{Kind: EventSubscribed, Symbol: logical, At: c.now()})
	case "unsubscribed":
		if known {
			if s := c.subs[logical]; s.channelID != nil {
				delete(c.byChannel, *s.channelID)
				s.channelID = nil
				c.subsDirty = true
			}
		}
	case "error":
		err := xerr.Wrap(xerr.ProviderRejection, c.cfg.Provider, fmt.Errorf("subscribe %s: %s", in.Pair, in.ErrorMessage))
		c.recordErr(err)
		logger.Error(c.ctx, "subscription rejected", zap.String("provider", c.cfg.Provider), zap.Error(err))
		c.linkLost("rejected", err, classEscalated)
	}
}

func (c *Conn) onSystemStatus(in Inbound) {
	if in.Status != "maintenance" {
		return
	}
	// 计划维护期间按正常节奏重试是白费力气
	c.floor = c.cfg.MaintenanceFloor
	logger.Warn(c.ctx, "provider under maintenance",
		zap.String("provider", c.cfg.Provider), zap.Duration("backoff_floor", c.floor))
}

func (c *Conn) onData(in Inbound, at time.Time) {
	var logical string
	if in.HasChannel {
		logical = c.byChannel[in.ChannelID]
	}
	if logical == "" {
		// 重订阅期间 channel id 可能还没绑定，按 provider 的交易对名兜底
		logical = c.byPair[in.Pair]
	}
	if logical == "" {
		wsmetrics.DroppedTotal.WithLabelValues(c.cfg.Provider, "unrouted").Inc()
		return
	}
	if in.ChannelName != c.cfg.Channel {
		wsmetrics.DroppedTotal.WithLabelValues(c.cfg.Provider, "channel").Inc()
		return
	}
	price, err := ParseTickerPrice(in.Payload)
	if err != nil {
		c.recordErr(xerr.Wrap(xerr.MalformedMessage, c.cfg.Provider, fmt.Errorf("%s price: %w", logical, err)))
		wsmetrics.DroppedTotal.WithLabelValues(c.cfg.Provider, "bad_price").Inc()
		return
	}
	c.emit(Event{Kind: EventTick, Symbol: logical, Price: price, At: at})
}

func (c *Conn) onPingTick() {
	if c.tr == nil {
		return
	}
	if c.pendingPing != 0 {
		c.health.ConsecutivePongMisses++
		wsmetrics.PongMissTotal.WithLabelValues(c.cfg.Provider).Inc()
	}
	c.reqID++
	b, err := EncodePing(c.reqID)
	if err == nil {
		err = c.write(b)
	}
	if err != nil {
		c.linkLost("write", xerr.Wrap(xerr.TransientNetwork, c.cfg.Provider, err), classNormal)
		return
	}
	c.pendingPing = c.reqID
	c.health.LastPingSentAt = c.now()
	wsmetrics.PingSentTotal.WithLabelValues(c.cfg.Provider).Inc()
}

func (c *Conn) onStaleTick() {
	if c.state != Open {
		return
	}
	now := c.now()
	if idle := now.Sub(c.health.LastActivityAt); idle > c.cfg.StaleThreshold {
		logger.Warn(c.ctx, "stream stale, force reconnect",
			zap.String("provider", c.cfg.Provider), zap.Duration("idle", idle))
		c.linkLost("stale", xerr.Wrap(xerr.TransientNetwork, c.cfg.Provider, fmt.Errorf("no activity for %s", idle)), classNormal)
		return
	}
	if c.cfg.AckTimeout > 0 && now.Sub(c.openedAt) > c.cfg.AckTimeout {
		if pending := c.unacked(); len(pending) > 0 {
			err := xerr.Wrap(xerr.ProviderRejection, c.cfg.Provider,
				fmt.Errorf("subscription not acknowledged: %s", strings.Join(pending, ",")))
			c.recordErr(err)
			logger.Warn(c.ctx, "subscription ack timeout", zap.String("provider", c.cfg.Provider), zap.Error(err))
			c.linkLost("ack_timeout", err, classNormal)
		}
	}
}

func (c *Conn) unacked() []string {
	var out []string
	for _, s := range c.order {
		if c.subs[s].channelID == nil {
			out = append(out, s)
		}
	}
	return out
}

// linkLost 连接断开的统一出口：清理后按需排一次重连
func (c *Conn) linkLost(reason string, cause error, class reconnectClass) {
	c.dropLink(reason)
	c.lastErr = cause
	c.setState(Disconnected, cause)
	if c.userStopped {
		return
	}
	c.scheduleReconnect(class)
}

// dropLink 停定时器、关连接、清空 channel 绑定（重连后 id 不保证不变）
func (c *Conn) dropLink(reason string) {
	stopTicker(&c.pingTicker)
	stopTicker(&c.staleTicker)
	if c.tr != nil {
		_ = c.tr.Close()
		c.tr = nil
		wsmetrics.OnClose(c.cfg.Provider, reason)
	}
	c.gen++
	for _, s := range c.subs {
		s.channelID = nil
	}
	clear(c.byChannel)
	c.subsDirty = true
	c.pendingPing = 0
	c.quality, c.rtt = QualityUnknown, 0
}

func (c *Conn) scheduleReconnect(class reconnectClass) {
	if c.timer != nil {
		return
	}
	c.reconnect.Attempt++
	if class == classEscalated {
		c.reconnect.Rejections++
	}
	// 能连上但订阅一直被拒时 Attempt 每次 Open 都会清零，靠拒绝次数兜底进入 Failed
	var cause error
	switch {
	case c.reconnect.Attempt >= c.cfg.MaxAttempts:
		cause = fmt.Errorf("%d consecutive failed attempts", c.reconnect.Attempt)
	case c.reconnect.Rejections >= c.cfg.MaxAttempts:
		cause = fmt.Errorf("%d consecutive subscription rejections", c.reconnect.Rejections)
	}
	if cause != nil {
		err := xerr.Wrap(xerr.MaxAttemptsExceeded, c.cfg.Provider, cause)
		c.recordErr(err)
		c.setState(Failed, err)
		logger.Error(c.ctx, "stream failed, waiting for reset", zap.String("provider", c.cfg.Provider), zap.Error(err))
		return
	}

	d := c.cfg.Backoff.Next(c.reconnect.Attempt)
	label := "normal"
	if class == classEscalated {
		// 连续被拒按 factor^n 放大，上限 Max*factor
		d = time.Duration(float64(d) * math.Pow(c.cfg.RejectionFactor, float64(c.reconnect.Rejections)))
		if limit := time.Duration(float64(c.cfg.Backoff.Max) * c.cfg.RejectionFactor); d > limit {
			d = limit
		}
		label = "escalated"
	}
	if d < c.floor {
		d = c.floor
		label = "maintenance"
	}
	c.reconnect.CurrentBackoff = d
	c.reconnect.ScheduledAt = c.now().Add(d)
	c.timer = time.NewTimer(d)
	wsmetrics.ReconnectScheduledTotal.WithLabelValues(c.cfg.Provider, label).Inc()
	logger.Info(c.ctx, "stream reconnect scheduled",
		zap.String("provider", c.cfg.Provider),
		zap.Uint("attempt", c.reconnect.Attempt),
		zap.Duration("backoff", d),
		zap.String("class", label),
	)
}

func (c *Conn) onReconnectTimer() {
	if c.userStopped || c.state == Failed {
		return
	}
	c.connect()
}

func (c *Conn) stopReconnectTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Conn) recordErr(err error) {
	c.errCount++
	c.lastErr = err
	c.emit(Event{Kind: EventError, Err: err, At: c.now()})
}

func (c *Conn) setState(s State, cause error) {
	if c.state == s {
		return
	}
	c.state = s
	wsmetrics.OnState(c.cfg.Provider, int32(s))
	c.emit(Event{Kind: EventState, State: s, Err: cause, At: c.now()})
}

func (c *Conn) emit(ev Event) {
	if c.handler == nil {
		return
	}
	ev.Provider = c.cfg.Provider
	c.handler(ev)
}

func (c *Conn) publish() {
	st := Status{
		Provider:   c.cfg.Provider,
		State:      c.state,
		Quality:    c.quality,
		Latency:    c.rtt,
		ErrorCount: c.errCount,
		Health:     c.health,
		Reconnect:  c.reconnect,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subsDirty {
		subs := make([]SubscriptionInfo, 0, len(c.order))
		for _, name := range c.order {
			s := c.subs[name]
			info := SubscriptionInfo{Symbol: s.symbol, ProviderSymbol: s.providerSymbol}
			if s.channelID != nil {
				id := *s.channelID
				info.ChannelID = &id
			}
			subs = append(subs, info)
		}
		st.Subscriptions = subs
		c.subsDirty = false
	} else {
		st.Subscriptions = c.status.Subscriptions
	}
	c.status = st
}

func stopTicker(t **time.Ticker) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func tickC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

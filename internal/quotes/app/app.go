package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"tickwire.com/internal/quotes/cache"
	"tickwire.com/internal/quotes/config"
	"tickwire.com/internal/quotes/gateway"
	"tickwire.com/internal/quotes/httpapi"
	"tickwire.com/internal/quotes/ingest"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/internal/quotes/restclient"
	"tickwire.com/internal/quotes/storage/influxsink"
	"tickwire.com/internal/quotes/storage/redisstore"
	"tickwire.com/internal/quotes/ws"
	vipConfig "tickwire.com/pkg/config"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/ratelimit"
	"tickwire.com/pkg/safe"
	"tickwire.com/pkg/trace"
	"tickwire.com/pkg/xredis"
)

type App struct {
	ctx context.Context
	cfg *config.Config

	spacer   *ratelimit.Spacer
	breakers *ratelimit.BreakerManager
	caches   map[string]*cache.Store[[]byte]
	facade   *ingest.Facade

	broker        gateway.Broker
	push          *ws.Server
	influx        *influxsink.Sink
	rdb           *redis.Client
	snapshots     *redisstore.Store
	traceShutdown func(context.Context) error
}

// New 加载 config/{configName}.yaml；配置热更新只重新下发限流间隔
func New(configName string) (*App, error) {
	if configName == "" {
		configName = config.ServiceName
	}
	app := &App{cfg: &config.Config{}}
	_, err := vipConfig.LoadAndWatch(configName, app.cfg, vipConfig.Options{
		Defaults: config.Defaults(),
		OnChange: app.onReload,
	})
	if err != nil {
		return nil, err
	}
	if err := app.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return app, nil
}

func (app *App) Facade() *ingest.Facade { return app.facade }

// StartService 启动采集链路，返回需要关闭的资源
func (app *App) StartService(ctx context.Context) (func(), error) {
	app.ctx = ctx
	if app.cfg.Log.File != "" {
		logger.InitWithFile(app.cfg.Name, app.cfg.Log.Level, app.cfg.Log.File)
	} else {
		logger.Init(app.cfg.Name, app.cfg.Log.Level)
	}

	shutdown, err := trace.InitTrace(app.cfg.Name, app.cfg.Trace.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	app.traceShutdown = shutdown

	if err := app.buildIngest(); err != nil {
		return nil, err
	}
	if err := app.startStorage(); err != nil {
		return nil, err
	}
	if err := app.startBroker(); err != nil {
		return nil, err
	}

	app.facade.Start(ctx)
	safe.GoCtx(ctx, func(ctx context.Context) {
		app.facade.WatchResume(ctx, app.cfg.Resume.Interval, app.cfg.Resume.Threshold)
	})
	logger.Info(ctx, "quotes service started",
		zap.Int("streams", len(app.cfg.Streams)), zap.Int("rest", len(app.cfg.Rest)))

	return app.cleanUp, nil
}

func (app *App) StartHttp() *http.Server {
	return httpapi.NewServer(app.ctx, app.cfg.HTTP.Addr, app.facade, httpapi.Options{
		ServiceName: app.cfg.Name,
		RateLimit:   app.cfg.HTTP.RateLimit,
		Burst:       app.cfg.HTTP.Burst,
		CORSOrigins: app.cfg.HTTP.CORSOrigins,
		Push:        app.push,
	})
}

func (app *App) buildIngest() error {
	app.caches = make(map[string]*cache.Store[[]byte], len(app.cfg.Caches))
	for name, cc := range app.cfg.Caches {
		cc.Name = name
		c := cache.New[[]byte](cc)
		c.StartJanitor(app.ctx)
		app.caches[name] = c
	}

	app.spacer = ratelimit.NewSpacer(0, app.cfg.Spacing())
	app.breakers = ratelimit.NewBreakerManager(ratelimit.Rule{}, nil)
	app.facade = ingest.New(ingest.Config{StaleAfter: app.cfg.StaleAfter})

	for _, rp := range app.cfg.Rest {
		cred, err := rp.Credential.Resolve()
		if err != nil {
			// 没有凭证也能起来，上游会按 401 返回永久错误
			logger.Warn(app.ctx, "rest credential missing", zap.String("provider", rp.Name), zap.Error(err))
		}
		opts := []restclient.Option{
			restclient.WithCredential(cred),
			restclient.WithBreakers(app.breakers),
			restclient.WithBackoff(rp.Backoff.Normalize()),
		}
		if rp.MaxAttempts > 0 {
			opts = append(opts, restclient.WithMaxAttempts(rp.MaxAttempts))
		}
		if rp.TTL > 0 {
			opts = append(opts, restclient.WithTTL(rp.TTL))
		}
		if rp.Timeout > 0 {
			opts = append(opts, restclient.WithHTTPClient(&http.Client{Timeout: rp.Timeout}))
		}
		app.facade.AddRest(restclient.New(rp.Name, rp.BaseURL, app.spacer, app.caches[rp.Cache], opts...))
	}

	for _, sc := range app.cfg.Streams {
		app.facade.AddStream(sc, nil)
	}
	return nil
}

// startStorage redis 快照（预热 + 定期写）和 influx 时序写入，都是可选的
func (app *App) startStorage() error {
	if app.cfg.Redis.Addr != "" {
		rdb, err := xredis.NewRedis(app.ctx, &app.cfg.Redis.Config)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		app.rdb = rdb
		app.snapshots = redisstore.New(rdb, app.cfg.Redis.Snapshot)
		if _, err := app.facade.Restore(app.ctx, app.snapshots); err != nil {
			logger.Warn(app.ctx, "warm start skipped", zap.Error(err))
		}
		safe.GoCtx(app.ctx, func(ctx context.Context) {
			_ = app.snapshots.Run(ctx, app.quotes)
		})
	}

	if app.cfg.Influx.URL != "" {
		app.influx = influxsink.New(app.cfg.Influx)
		logger.Info(app.ctx, "influx sink enabled", zap.Stringer("influx", app.cfg.Influx))
		in, cancel := app.facade.Subscribe(4096)
		safe.GoCtx(app.ctx, func(ctx context.Context) {
			defer cancel()
			_ = app.influx.Run(ctx, in)
		})
	}
	return nil
}

// startBroker 单机用内存 broker，配了 nats 就发到 nats
func (app *App) startBroker() error {
	if app.cfg.Nats.URL != "" {
		b, err := gateway.NewNatsBroker(app.cfg.Nats.URL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		app.broker = b
	} else {
		app.broker = gateway.NewMemBroker()
	}
	pub := gateway.NewPublisher(app.facade, app.broker, 0)
	safe.GoCtx(app.ctx, func(ctx context.Context) {
		_ = pub.Run(ctx)
	})

	// broker -> 本地 hub -> /ws 客户端
	hub := ws.NewHub()
	app.push = ws.NewServer(app.ctx, hub)
	topics := app.topics()
	safe.GoCtx(app.ctx, func(ctx context.Context) {
		if err := ws.Relay(ctx, hub, app.broker, topics); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "quote relay stopped", zap.Error(err))
		}
	})
	return nil
}

func (app *App) topics() []string {
	var out []string
	seen := map[string]bool{}
	for _, sc := range app.cfg.Streams {
		for _, s := range sc.Symbols {
			if !seen[s.Symbol] {
				seen[s.Symbol] = true
				out = append(out, gateway.Topic(s.Symbol))
			}
		}
	}
	return out
}

func (app *App) quotes() []model.Quote {
	vals := app.facade.Snapshot()
	out := make([]model.Quote, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Quote)
	}
	return out
}

func (app *App) onReload() {
	if err := app.cfg.Validate(); err != nil {
		logger.Error(context.Background(), "reloaded config is invalid, keep running with old limits", zap.Error(err))
		return
	}
	if app.spacer == nil {
		return
	}
	for provider, d := range app.cfg.Spacing() {
		app.spacer.SetSpacing(provider, d)
	}
	logger.Info(context.Background(), "rate limit spacing reloaded")
}

func (app *App) cleanUp() {
	ctx := context.Background()
	app.facade.Stop()
	if app.broker != nil {
		_ = app.broker.Close()
	}
	if app.influx != nil {
		app.influx.Close()
	}
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.traceShutdown != nil {
		_ = app.traceShutdown(ctx)
	}
	logger.Sync()
}

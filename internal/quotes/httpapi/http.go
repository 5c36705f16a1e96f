package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"tickwire.com/internal/quotes/ws"
	"tickwire.com/pkg/middleware"
	"tickwire.com/pkg/ratelimit"
)

type Options struct {
	ServiceName string
	RateLimit   float64
	Burst       int
	CORSOrigins []string
	// Push 不为空时挂 /ws 推送
	Push *ws.Server
}

var (
	promOnce sync.Once
	prom     *ginprom.Prometheus
)

// ginprom 注册在默认 registry 上，进程内只能建一次
func prometheusMiddleware() *ginprom.Prometheus {
	promOnce.Do(func() {
		prom = ginprom.NewPrometheus("tickwire")
	})
	return prom
}

// NewEngine ctx 结束时限流器的清理协程退出
func NewEngine(ctx context.Context, svc Service, opt Options) *gin.Engine {
	if opt.RateLimit <= 0 {
		opt.RateLimit = 20
	}
	if opt.Burst <= 0 {
		opt.Burst = 2 * int(opt.RateLimit)
	}
	if opt.ServiceName == "" {
		opt.ServiceName = "quotes-service"
	}
	// 限流
	store := ratelimit.NewStore(rate.Limit(opt.RateLimit), opt.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	// 监控
	prometheusMiddleware().Use(r)
	r.Use(
		otelgin.Middleware(opt.ServiceName),
		middleware.ReqId(),
		corsMiddleware(opt.CORSOrigins),
		middleware.Recover(),
		middleware.RateLimit(store),
	)
	api := r.Group("/api")
	Quotes(api, &Handler{svc: svc})
	if opt.Push != nil {
		r.GET("/ws", gin.WrapF(opt.Push.ServeWS))
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost}
	return cors.New(cfg)
}

func NewServer(ctx context.Context, addr string, svc Service, opt Options) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        NewEngine(ctx, svc, opt),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

func Quotes(api *gin.RouterGroup, h *Handler) {
	api.GET("/health", h.Health)
	api.POST("/resume", h.Resume)
	api.POST("/streams/:provider/reset", h.Reset)

	quotes := api.Group("/quotes")
	{
		quotes.GET("", h.List)
		quotes.GET("/:symbol", h.Get)
	}
	api.GET("/candles/:provider", h.Candles)
	api.GET("/indicators/:provider/:indicator", h.Indicator)
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"tickwire.com/pkg/common"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/ratelimit"
	"tickwire.com/pkg/xerr"
)

// RateLimit 按 ip + 路由限流，保护状态接口
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 限流属于“可控拒绝”，不要打堆栈（压测会炸日志）
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, http.StatusTooManyRequests, xerr.RateLimitExceeded, xerr.MapErrMsg(xerr.RateLimitExceeded))
			c.Abort()
			return
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"tickwire.com/pkg/common"
	"tickwire.com/pkg/logger"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.NewRequestID()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// request id 当作 trace_id 写进 request context，日志里能串起来
		c.Request = c.Request.WithContext(logger.WithTrace(c.Request.Context(), rid))
		c.Next()
	}
}

package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/xerr"
)

// 状态接口和发往上游的 REST 请求共用同一个请求 id 头
const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = "request_id"
)

func NewRequestID() string { return uuid.NewString() }

// RequestIDFromGin 取 ReqId 中间件放进 gin.Context 的 id，没有返回空串
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailFromErr 对外只回 code + message（data=null），错误细节只进日志
func FailFromErr(c *gin.Context, err error) {
	code, msg, httpStatus := mapErrToHTTP(err)
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

func mapErrToHTTP(err error) (code int, msg string, httpStatus int) {
	var ce *xerr.CodeError
	if !errors.As(err, &ce) {
		return 5000000, "internal error", http.StatusInternalServerError
	}
	msg = xerr.MapErrMsg(ce.Code)
	switch ce.Code {
	case xerr.RateLimitExceeded:
		return ce.Code, msg, http.StatusTooManyRequests
	case xerr.TransientNetwork, xerr.MaxAttemptsExceeded:
		return ce.Code, msg, http.StatusServiceUnavailable
	case xerr.ProviderRejection, xerr.MalformedMessage, xerr.Permanent:
		return ce.Code, msg, http.StatusBadGateway
	default:
		return ce.Code, msg, http.StatusInternalServerError
	}
}

package xerr

import (
	"errors"
	"fmt"
)

// 采集层错误码。只有 MaxAttemptsExceeded 需要人工介入，其余都在本地自动恢复。
const (
	OK                  = 0
	TransientNetwork    = 1001 // 网络抖动 / 5xx / 429，可重试
	ProviderRejection   = 1002 // 订阅或鉴权被拒，升级退避
	MalformedMessage    = 1003 // 报文解析失败，丢弃计数
	RateLimitExceeded   = 1004 // 非阻塞模式下被限流
	MaxAttemptsExceeded = 1005 // 重连次数耗尽，进入 Failed
	Permanent           = 1006 // 4xx（429 除外）或响应体损坏，不重试
)

// 哨兵错误，配合 errors.Is 使用（按 Code 匹配，不比较 Msg）
var (
	ErrTransient   = NewErrCode(TransientNetwork)
	ErrRejected    = NewErrCode(ProviderRejection)
	ErrMalformed   = NewErrCode(MalformedMessage)
	ErrRateLimited = NewErrCode(RateLimitExceeded)
	ErrMaxAttempts = NewErrCode(MaxAttemptsExceeded)
	ErrPermanent   = NewErrCode(Permanent)
)

type CodeError struct {
	Code     int    `json:"code"`
	Msg      string `json:"msg"`
	Provider string `json:"provider,omitempty"`
	Err      error  `json:"-"`
}

func (e *CodeError) Error() string {
	s := fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
	if e.Provider != "" {
		s += ", Provider:" + e.Provider
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CodeError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, xerr.ErrTransient) 按错误码命中
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给底层错误打上错误码和来源
func Wrap(code int, provider string, err error) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: MapErrMsg(code), Provider: provider, Err: err}
}

// CodeOf 取错误链上第一个错误码；非 CodeError 返回 OK 以外的兜底值 -1
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

func IsRetryable(err error) bool {
	return CodeOf(err) == TransientNetwork
}

func MapErrMsg(code int) string {
	switch code {
	case OK:
		return "ok"
	case TransientNetwork:
		return "transient network error"
	case ProviderRejection:
		return "provider rejected request"
	case MalformedMessage:
		return "malformed message"
	case RateLimitExceeded:
		return "rate limit exceeded"
	case MaxAttemptsExceeded:
		return "max reconnect attempts exceeded"
	case Permanent:
		return "permanent error"
	default:
		return "unknown error"
	}
}

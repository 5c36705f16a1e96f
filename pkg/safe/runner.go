package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"tickwire.com/pkg/logger"
)

// Go 安全启动协程：panic 会被记录，不会把整个采集进程带走
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 安全启动携带 context 的协程，日志里保留 trace 信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer Recover(ctx, "goroutine")
		fn(ctx)
	}()
}

// Recover 在 defer 中调用
func Recover(ctx context.Context, where string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "panic recovered",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}

package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
	"tickwire.com/pkg/logger"
)

// suspendGap 一次 tick 实际流逝的时间比预期多出来的部分。
// 挂起期间单调时钟不走而墙上时钟在走，进程被冻结时两者都会超出 interval
func suspendGap(wallElapsed, monoElapsed, interval time.Duration) time.Duration {
	elapsed := max(wallElapsed, monoElapsed)
	return elapsed - interval
}

// WatchResume 检测宿主挂起后恢复，自动调用 Resume。阻塞到 ctx 结束
func (f *Facade) WatchResume(ctx context.Context, interval, threshold time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if threshold <= 0 {
		threshold = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			// Round(0) 去掉单调读数，Sub 就按墙上时钟算
			gap := suspendGap(now.Round(0).Sub(last.Round(0)), now.Sub(last), interval)
			last = now
			if gap > threshold {
				logger.Info(ctx, "host resume detected", zap.Duration("gap", gap))
				f.Resume()
			}
		}
	}
}

package job

import (
	"context"
	"time"
)

// runEvery 按固定间隔执行 fn，直到 ctx 取消或 stopCh 关闭
func runEvery(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

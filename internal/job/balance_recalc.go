package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BalanceRecalculator 全量重算余额，service.BalanceService 实现
type BalanceRecalculator interface {
	RecalculateAll(ctx context.Context) (int64, error)
}

// BalanceRecalcJob 定期按流水重算 user_balances，兜底修正漂移
type BalanceRecalcJob struct {
	balances BalanceRecalculator
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
}

func NewBalanceRecalcJob(balances BalanceRecalculator, interval time.Duration, log *zap.Logger) *BalanceRecalcJob {
	return &BalanceRecalcJob{
		balances: balances,
		interval: interval,
		log:      log.Named("balance_recalc"),
		stopCh:   make(chan struct{}),
	}
}

// Start interval 为 0 时不启动
func (j *BalanceRecalcJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		j.log.Info("余额重算任务未开启")
		return
	}
	j.log.Info("余额重算任务启动", zap.Duration("interval", j.interval))
	runEvery(ctx, j.stopCh, j.interval, j.recalculate)
	j.log.Info("余额重算任务退出")
}

func (j *BalanceRecalcJob) Stop() {
	close(j.stopCh)
}

func (j *BalanceRecalcJob) recalculate(ctx context.Context) {
	start := time.Now()
	n, err := j.balances.RecalculateAll(ctx)
	if err != nil {
		j.log.Error("余额重算失败", zap.Error(err))
		return
	}
	j.log.Info("余额重算完成", zap.Int64("users", n), zap.Duration("cost", time.Since(start)))
}

package job

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Expirer 关闭超时未审核的申请，service.DepositService 实现
type Expirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// Reverter APPROVING 超时回退，各类申请服务实现
type Reverter interface {
	RevertStale(ctx context.Context, before time.Time, limit int) (int, error)
}

// RequestTimeoutJob 关闭超时未审核的 Flexy 充值，释放唯一金额
type RequestTimeoutJob struct {
	deposits  Expirer
	interval  time.Duration
	batchSize int
	log       *zap.Logger
	stopCh    chan struct{}
}

func NewRequestTimeoutJob(deposits Expirer, log *zap.Logger) *RequestTimeoutJob {
	return &RequestTimeoutJob{
		deposits:  deposits,
		interval:  time.Minute,
		batchSize: 100,
		log:       log.Named("request_timeout"),
		stopCh:    make(chan struct{}),
	}
}

func (j *RequestTimeoutJob) Start(ctx context.Context) {
	j.log.Info("申请超时任务启动", zap.Duration("interval", j.interval))
	runEvery(ctx, j.stopCh, j.interval, j.expireStale)
	j.log.Info("申请超时任务退出")
}

func (j *RequestTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *RequestTimeoutJob) expireStale(ctx context.Context) {
	n, err := j.deposits.ExpireStale(ctx, j.batchSize)
	if err != nil {
		j.log.Error("关闭超时申请失败", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("已关闭超时申请", zap.Int("count", n))
	}
}

// ApprovingCompensateJob 审核卡在 APPROVING 的申请回退到 PENDING
//
// 【关键点】审核时后端调用超时或进程崩溃，申请会停在 APPROVING。
// 超过 approvingTimeout 仍未结束的统一回退，由管理员重新审核
type ApprovingCompensateJob struct {
	reverters        map[string]Reverter
	approvingTimeout time.Duration
	interval         time.Duration
	batchSize        int
	log              *zap.Logger
	stopCh           chan struct{}
	now              func() time.Time
}

func NewApprovingCompensateJob(reverters map[string]Reverter, approvingTimeout time.Duration, log *zap.Logger) *ApprovingCompensateJob {
	if approvingTimeout <= 0 {
		approvingTimeout = 5 * time.Minute
	}
	return &ApprovingCompensateJob{
		reverters:        reverters,
		approvingTimeout: approvingTimeout,
		interval:         30 * time.Second,
		batchSize:        50,
		log:              log.Named("approving_compensate"),
		stopCh:           make(chan struct{}),
		now:              time.Now,
	}
}

func (j *ApprovingCompensateJob) Start(ctx context.Context) {
	j.log.Info("审核补偿任务启动", zap.Duration("timeout", j.approvingTimeout))
	runEvery(ctx, j.stopCh, j.interval, j.compensate)
	j.log.Info("审核补偿任务退出")
}

func (j *ApprovingCompensateJob) Stop() {
	close(j.stopCh)
}

func (j *ApprovingCompensateJob) compensate(ctx context.Context) {
	before := j.now().Add(-j.approvingTimeout)

	kinds := make([]string, 0, len(j.reverters))
	for k := range j.reverters {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		n, err := j.reverters[kind].RevertStale(ctx, before, j.batchSize)
		if err != nil {
			j.log.Error("回退超时审核失败", zap.String("kind", kind), zap.Error(err))
			continue
		}
		if n > 0 {
			j.log.Warn("超时审核已回退", zap.String("kind", kind), zap.Int("count", n))
		}
	}
}

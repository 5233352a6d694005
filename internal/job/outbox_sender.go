package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"opay/internal/metrics"
	"opay/internal/model"
)

// OutboxQueue 本地消息表，repository.OutboxRepository 实现
type OutboxQueue interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkAsSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

// Publisher 消息发送，mq.Producer 实现
type Publisher interface {
	Send(topic, key, value string) error
}

// OutboxSender 轮询本地消息表投递到 Kafka
//
// 【关键点】至少一次投递：发送成功但标记 SENT 失败时下一轮会重发，
// 消费方按 message_key + event_type 去重
type OutboxSender struct {
	queue     OutboxQueue
	publisher Publisher
	maxRetry  int
	interval  time.Duration
	batchSize int
	log       *zap.Logger
	stopCh    chan struct{}
}

func NewOutboxSender(queue OutboxQueue, publisher Publisher, maxRetry int, log *zap.Logger) *OutboxSender {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		queue:     queue,
		publisher: publisher,
		maxRetry:  maxRetry,
		interval:  500 * time.Millisecond,
		batchSize: 100,
		log:       log.Named("outbox"),
		stopCh:    make(chan struct{}),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", zap.Duration("interval", s.interval))
	runEvery(ctx, s.stopCh, s.interval, s.processPendingMessages)
	s.log.Info("消息发送任务退出")
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.queue.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询待发送消息失败", zap.Error(err))
		return
	}

	// 【关键点】同一 key 前面的消息没发出去，后面的本轮不发，保证同一申请的事件按 id 顺序到达
	blocked := make(map[string]struct{})
	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		if _, ok := blocked[msg.MessageKey]; ok {
			s.log.Debug("同 key 前序消息未发送，本轮跳过",
				zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
			continue
		}
		if !s.sendMessage(ctx, msg) {
			blocked[msg.MessageKey] = struct{}{}
		}
	}
}

// sendMessage 返回消息是否已交给 Kafka
func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := []zap.Field{
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.String("key", msg.MessageKey),
		zap.String("event", msg.EventType),
	}

	if err := s.publisher.Send(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
		s.onSendFailed(ctx, msg, err, fields)
		return false
	}

	metrics.OutboxSent.WithLabelValues("sent").Inc()
	if err := s.queue.MarkAsSent(ctx, msg.ID); err != nil {
		s.log.Error("更新消息状态失败", append(fields, zap.Error(err))...)
		return true
	}
	s.log.Debug("消息发送成功", fields...)
	return true
}

// onSendFailed 未达上限只加重试次数，达到上限标记 FAILED 等人工重放
func (s *OutboxSender) onSendFailed(ctx context.Context, msg *model.OutboxMessage, sendErr error, fields []zap.Field) {
	fields = append(fields, zap.Int("retry", msg.RetryCount+1), zap.Error(sendErr))

	if msg.RetryCount+1 >= s.maxRetry {
		metrics.OutboxSent.WithLabelValues("failed").Inc()
		if err := s.queue.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("标记消息失败状态失败", append(fields, zap.NamedError("mark_err", err))...)
			return
		}
		s.log.Error("消息超过最大重试次数，标记为失败", fields...)
		return
	}

	metrics.OutboxSent.WithLabelValues("retry").Inc()
	if err := s.queue.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("增加重试次数失败", append(fields, zap.NamedError("mark_err", err))...)
		return
	}
	s.log.Warn("消息发送失败，稍后重试", fields...)
}

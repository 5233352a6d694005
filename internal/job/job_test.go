package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"opay/internal/infrastructure/mq"
	"opay/internal/model"
)

// ---------------------------------------------------------------------------
// 本地消息表假实现
// ---------------------------------------------------------------------------

type memQueue struct {
	mu      sync.Mutex
	rows    map[int64]*model.OutboxMessage
	markErr error
}

func newMemQueue(msgs ...*model.OutboxMessage) *memQueue {
	q := &memQueue{rows: map[int64]*model.OutboxMessage{}}
	for _, m := range msgs {
		m.Status = model.OutboxStatusPending
		q.rows[m.ID] = m
	}
	return q
}

func (q *memQueue) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*model.OutboxMessage
	for id := int64(1); id <= int64(len(q.rows)) && len(out) < limit; id++ {
		if m, ok := q.rows[id]; ok && m.Status == model.OutboxStatusPending {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (q *memQueue) MarkAsSent(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.markErr != nil {
		return q.markErr
	}
	q.rows[id].Status = model.OutboxStatusSent
	return nil
}

func (q *memQueue) IncrementRetryCount(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rows[id].RetryCount++
	return nil
}

func (q *memQueue) MarkAsFailed(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rows[id].Status = model.OutboxStatusFailed
	q.rows[id].RetryCount++
	return nil
}

func (q *memQueue) get(id int64) model.OutboxMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.rows[id]
}

func outboxMsg(id int64, no string) *model.OutboxMessage {
	return &model.OutboxMessage{
		ID:         id,
		MessageKey: no,
		Topic:      "opay.request.deposit",
		EventType:  "approved",
		Payload:    `{"request_no":"` + no + `"}`,
	}
}

// ---------------------------------------------------------------------------
// OutboxSender
// ---------------------------------------------------------------------------

func TestOutboxSender_Sent(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"request_no":"D1"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	sp.ExpectSendMessageAndSucceed()

	q := newMemQueue(outboxMsg(1, "D1"), outboxMsg(2, "D2"))
	s := NewOutboxSender(q, mq.NewProducerWith(sp), 3, zap.NewNop())

	s.processPendingMessages(context.Background())

	assert.Equal(t, model.OutboxStatusSent, q.get(1).Status)
	assert.Equal(t, model.OutboxStatusSent, q.get(2).Status)
	require.NoError(t, sp.Close())
}

func TestOutboxSender_RetryThenFailed(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 3; i++ {
		sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	}

	q := newMemQueue(outboxMsg(1, "D1"))
	s := NewOutboxSender(q, mq.NewProducerWith(sp), 3, zap.NewNop())
	ctx := context.Background()

	s.processPendingMessages(ctx)
	assert.Equal(t, model.OutboxStatusPending, q.get(1).Status)
	assert.Equal(t, 1, q.get(1).RetryCount)

	s.processPendingMessages(ctx)
	assert.Equal(t, model.OutboxStatusPending, q.get(1).Status)
	assert.Equal(t, 2, q.get(1).RetryCount)

	// 第三次失败达到上限
	s.processPendingMessages(ctx)
	assert.Equal(t, model.OutboxStatusFailed, q.get(1).Status)
	assert.Equal(t, 3, q.get(1).RetryCount)

	// FAILED 不再投递
	s.processPendingMessages(ctx)
	require.NoError(t, sp.Close())
}

func TestOutboxSender_FailedKeyHoldsLaterEvents(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	// 第一轮：D1 created 失败，D2 正常；D1 approved 不应发送
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"request_no":"D2"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	// 第二轮：D1 两条按顺序发出
	var order []string
	for i := 0; i < 2; i++ {
		sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			order = append(order, string(val))
			return nil
		})
	}

	created := outboxMsg(1, "D1")
	created.EventType = "created"
	created.Payload = `{"request_no":"D1","event":"created"}`
	approved := outboxMsg(3, "D1")
	approved.Payload = `{"request_no":"D1","event":"approved"}`
	q := newMemQueue(created, outboxMsg(2, "D2"), approved)
	s := NewOutboxSender(q, mq.NewProducerWith(sp), 5, zap.NewNop())
	ctx := context.Background()

	s.processPendingMessages(ctx)
	assert.Equal(t, model.OutboxStatusPending, q.get(1).Status)
	assert.Equal(t, 1, q.get(1).RetryCount)
	assert.Equal(t, model.OutboxStatusSent, q.get(2).Status)
	assert.Equal(t, model.OutboxStatusPending, q.get(3).Status)
	assert.Equal(t, 0, q.get(3).RetryCount)

	s.processPendingMessages(ctx)
	assert.Equal(t, model.OutboxStatusSent, q.get(1).Status)
	assert.Equal(t, model.OutboxStatusSent, q.get(3).Status)
	assert.Equal(t, []string{created.Payload, approved.Payload}, order)
	require.NoError(t, sp.Close())
}

func TestOutboxSender_MarkSentFailsResends(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndSucceed()

	q := newMemQueue(outboxMsg(1, "D1"))
	q.markErr = errors.New("deadlock")
	s := NewOutboxSender(q, mq.NewProducerWith(sp), 3, zap.NewNop())

	s.processPendingMessages(context.Background())
	assert.Equal(t, model.OutboxStatusPending, q.get(1).Status)
	assert.Equal(t, 0, q.get(1).RetryCount)

	q.markErr = nil
	s.processPendingMessages(context.Background())
	assert.Equal(t, model.OutboxStatusSent, q.get(1).Status)
	require.NoError(t, sp.Close())
}

func TestOutboxSender_StartStop(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndSucceed()

	q := newMemQueue(outboxMsg(1, "D1"))
	s := NewOutboxSender(q, mq.NewProducerWith(sp), 3, zap.NewNop())
	s.interval = 5 * time.Millisecond

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return q.get(1).Status == model.OutboxStatusSent }, time.Second, 5*time.Millisecond)
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop 后任务未退出")
	}
	require.NoError(t, sp.Close())
}

// ---------------------------------------------------------------------------
// 超时 / 补偿 / 重算
// ---------------------------------------------------------------------------

type fakeExpirer struct {
	n     int
	err   error
	calls int
	limit int
}

func (f *fakeExpirer) ExpireStale(_ context.Context, limit int) (int, error) {
	f.calls++
	f.limit = limit
	return f.n, f.err
}

type fakeReverter struct {
	before time.Time
	n      int
	err    error
	calls  int
}

func (f *fakeReverter) RevertStale(_ context.Context, before time.Time, _ int) (int, error) {
	f.calls++
	f.before = before
	return f.n, f.err
}

func TestRequestTimeoutJob(t *testing.T) {
	exp := &fakeExpirer{n: 2}
	j := NewRequestTimeoutJob(exp, zap.NewNop())

	j.expireStale(context.Background())
	assert.Equal(t, 1, exp.calls)
	assert.Equal(t, 100, exp.limit)

	exp.err = errors.New("db down")
	j.expireStale(context.Background())
	assert.Equal(t, 2, exp.calls)
}

func TestApprovingCompensateJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deposit := &fakeReverter{n: 1}
	withdrawal := &fakeReverter{err: errors.New("timeout")}
	order := &fakeReverter{}

	j := NewApprovingCompensateJob(map[string]Reverter{
		model.KindDeposit:    deposit,
		model.KindWithdrawal: withdrawal,
		model.KindOrder:      order,
	}, 10*time.Minute, zap.NewNop())
	j.now = func() time.Time { return now }

	j.compensate(context.Background())

	// 某一类失败不影响其余
	for _, r := range []*fakeReverter{deposit, withdrawal, order} {
		assert.Equal(t, 1, r.calls)
		assert.Equal(t, now.Add(-10*time.Minute), r.before)
	}
}

func TestApprovingCompensateJob_DefaultTimeout(t *testing.T) {
	j := NewApprovingCompensateJob(nil, 0, zap.NewNop())
	assert.Equal(t, 5*time.Minute, j.approvingTimeout)
}

type fakeRecalc struct {
	calls int
}

func (f *fakeRecalc) RecalculateAll(context.Context) (int64, error) {
	f.calls++
	return 42, nil
}

func TestBalanceRecalcJob(t *testing.T) {
	r := &fakeRecalc{}

	// interval 为 0 直接返回
	NewBalanceRecalcJob(r, 0, zap.NewNop()).Start(context.Background())
	assert.Equal(t, 0, r.calls)

	j := NewBalanceRecalcJob(r, 5*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, r.calls, 1)
}

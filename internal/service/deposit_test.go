package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/model"
	"opay/internal/repository"
)

func flexyRequest(id string) *FlexyDepositRequest {
	return &FlexyDepositRequest{
		RequestID:   id,
		Operator:    "mobilis",
		Amount:      dec("1000"),
		SenderPhone: "+213 661 23 45 67",
		ReceiptPath: "u1/receipt.jpg",
	}
}

func TestCreateFlexyDeposit(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	d, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-1"))
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, d.Status)
	assert.Equal(t, model.ChannelFlexy, d.Channel)
	assert.Equal(t, "0661234567", d.SenderPhone)
	assert.True(t, d.Amount.Equal(dec("1000")))
	assert.True(t, d.Fee.Equal(dec("100")), "fee on the entered amount")
	assert.True(t, d.Net.Equal(dec("900")))
	assert.True(t, d.UniqueAmount.Equal(dec("1003")))
	assert.Equal(t, "https://cdn.test/receipts/u1/receipt.jpg", d.ReceiptURL)
	assert.True(t, e.cache.has(uniqueAmountKey("mobilis", d.UniqueAmount)))
	assert.Equal(t, []string{EventCreated}, e.outbox.events(d.RequestNo))

	again, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-1"))
	require.NoError(t, err)
	assert.Equal(t, d.RequestNo, again.RequestNo)
	assert.Len(t, e.outbox.events(d.RequestNo), 1)
}

func TestCreateFlexyDepositUsesOperatorPolicy(t *testing.T) {
	e := newTestEnv()
	req := flexyRequest("req-dj")
	req.Operator = "djezzy"
	req.SenderPhone = "0771234567"

	d, err := e.deposits.CreateFlexy(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.True(t, d.Fee.Equal(dec("120")))
}

func TestCreateFlexyDepositValidation(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	req := flexyRequest("bad-phone")
	req.SenderPhone = "0412345678"
	_, err := e.deposits.CreateFlexy(ctx, "u1", req)
	assert.ErrorIs(t, err, ErrInvalidPhone)

	req = flexyRequest("no-receipt")
	req.ReceiptPath = ""
	_, err = e.deposits.CreateFlexy(ctx, "u1", req)
	assert.ErrorIs(t, err, ErrReceiptRequired)

	req = flexyRequest("too-small")
	req.Amount = dec("10")
	_, err = e.deposits.CreateFlexy(ctx, "u1", req)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestCreateFlexyDepositRejectsForeignUniqueAmount(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	require.NoError(t, e.cache.Set(ctx, uniqueAmountKey("mobilis", dec("1004")), "u2", 0))

	req := flexyRequest("req-2")
	req.UniqueAmount = dec("1004")
	_, err := e.deposits.CreateFlexy(ctx, "u1", req)
	assert.ErrorIs(t, err, ErrNoUniqueAmount)
}

func TestCreateFlexyDepositUniqueAmountOutsideWindow(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	for _, amount := range []string{"7", "1000", "1006", "999"} {
		req := flexyRequest("req-" + amount)
		req.UniqueAmount = dec(amount)
		_, err := e.deposits.CreateFlexy(ctx, "u1", req)
		assert.ErrorIs(t, err, ErrNoUniqueAmount, amount)
		assert.False(t, e.cache.has(uniqueAmountKey("mobilis", dec(amount))), amount)
	}
	assert.Zero(t, e.depositStore.count())
}

func TestCreateFlexyDepositKeepsReservedUniqueAmount(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	reserved, err := e.unique.Allocate(ctx, "u1", "mobilis", dec("1000"))
	require.NoError(t, err)

	req := flexyRequest("req-reserved")
	req.UniqueAmount = reserved
	d, err := e.deposits.CreateFlexy(ctx, "u1", req)
	require.NoError(t, err)
	assert.True(t, d.UniqueAmount.Equal(reserved))
}

func TestDepositReceiptPathMustBelongToUser(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	for _, p := range []string{"u2/receipt.jpg", "u1/../u2/receipt.jpg", "receipt.jpg", "/u1/receipt.jpg", "u1/x/receipt.jpg", "u1/..", "u1/"} {
		req := flexyRequest("req-flexy")
		req.ReceiptPath = p
		_, err := e.deposits.CreateFlexy(ctx, "u1", req)
		assert.ErrorIs(t, err, ErrReceiptInvalid, p)

		_, err = e.deposits.CreateBank(ctx, "u1", &BankDepositRequest{
			Channel:     model.ChannelCCP,
			Amount:      dec("2500"),
			Reference:   "CCP-1",
			ReceiptPath: p,
		})
		assert.ErrorIs(t, err, ErrReceiptInvalid, p)
	}
	assert.Zero(t, e.depositStore.count())
}

func TestRequestIDIsScopedToUser(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	mine, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("shared-key"))
	require.NoError(t, err)

	req := flexyRequest("shared-key")
	req.ReceiptPath = "u2/receipt.jpg"
	theirs, err := e.deposits.CreateFlexy(ctx, "u2", req)
	require.NoError(t, err)
	assert.NotEqual(t, mine.RequestNo, theirs.RequestNo)
	assert.Equal(t, "u2", theirs.UserID)
	assert.Equal(t, "u2/receipt.jpg", theirs.ReceiptPath)

	again, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("shared-key"))
	require.NoError(t, err)
	assert.Equal(t, mine.RequestNo, again.RequestNo)
	assert.Equal(t, 2, e.depositStore.count())
}

func TestCreateBankDeposit(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	d, err := e.deposits.CreateBank(ctx, "u1", &BankDepositRequest{
		Channel:     model.ChannelBaridiMob,
		Amount:      dec("2500"),
		Reference:   "BM-778899",
		ReceiptPath: "u1/bm.png",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelBaridiMob, d.Channel)
	assert.True(t, d.Fee.IsZero())
	assert.True(t, d.UniqueAmount.IsZero())
	assert.Equal(t, d.RequestNo, d.RequestID)

	_, err = e.deposits.CreateBank(ctx, "u1", &BankDepositRequest{Channel: "paypal", Amount: dec("2500"), ReceiptPath: "x"})
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestApproveDeposit(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	d, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-1"))
	require.NoError(t, err)

	approved, err := e.deposits.Approve(ctx, d.RequestNo, "admin-1", "received")
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, approved.Status)
	assert.Equal(t, model.StatusApproved, e.depositStore.status(d.RequestNo))
	assert.Equal(t, 1, e.backend.called(backend.FnApproveDeposit))
	assert.True(t, e.backend.balances["u1"].Equal(dec("900")))
	assert.False(t, e.cache.has(uniqueAmountKey("mobilis", d.UniqueAmount)), "unique amount released")
	assert.Equal(t, []string{EventCreated, EventApproved}, e.outbox.events(d.RequestNo))
	assert.Equal(t, []string{model.ReviewActionApprove}, e.logs.actions(d.RequestNo))

	_, err = e.deposits.Approve(ctx, d.RequestNo, "admin-2", "")
	assert.ErrorIs(t, err, repository.ErrStatusInvalid)
	assert.Equal(t, 1, e.backend.called(backend.FnApproveDeposit), "no double credit")
}

func TestApproveDepositBackendFailureReverts(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	d, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-1"))
	require.NoError(t, err)

	e.backend.ledgerErr = &backend.Error{Status: 400, Message: "deposit already processed"}
	_, err = e.deposits.Approve(ctx, d.RequestNo, "admin-1", "")
	require.Error(t, err)
	assert.Equal(t, "deposit already processed", backend.Message(err))

	assert.Equal(t, model.StatusPending, e.depositStore.status(d.RequestNo))
	assert.Equal(t, []string{model.ReviewActionRevert}, e.logs.actions(d.RequestNo))
	assert.Equal(t, []string{EventCreated}, e.outbox.events(d.RequestNo))
	assert.True(t, e.cache.has(uniqueAmountKey("mobilis", d.UniqueAmount)), "still waiting for review")

	e.backend.ledgerErr = nil
	approved, err := e.deposits.Approve(ctx, d.RequestNo, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
}

func TestRejectDeposit(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	d, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-1"))
	require.NoError(t, err)

	rejected, err := e.deposits.Reject(ctx, d.RequestNo, "admin-1", "amount not received")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rejected.Status)
	assert.False(t, e.cache.has(uniqueAmountKey("mobilis", d.UniqueAmount)))
	assert.Equal(t, []string{EventCreated, EventRejected}, e.outbox.events(d.RequestNo))

	_, err = e.deposits.Reject(ctx, d.RequestNo, "admin-1", "again")
	assert.ErrorIs(t, err, repository.ErrStatusInvalid)
	_, err = e.deposits.Approve(ctx, d.RequestNo, "admin-1", "")
	assert.ErrorIs(t, err, repository.ErrStatusInvalid)
}

func TestCancelDeposit(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	d, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-1"))
	require.NoError(t, err)

	_, err = e.deposits.Cancel(ctx, "u2", d.RequestNo)
	assert.ErrorIs(t, err, repository.ErrRequestNotFound)

	cancelled, err := e.deposits.Cancel(ctx, "u1", d.RequestNo)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.False(t, e.cache.has(uniqueAmountKey("mobilis", d.UniqueAmount)))
	assert.Equal(t, []string{model.ReviewActionCancel}, e.logs.actions(d.RequestNo))
}

func TestExpireStaleDeposits(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	old, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-old"))
	require.NoError(t, err)
	req := flexyRequest("req-new")
	req.ReceiptPath = "u2/receipt.jpg"
	fresh, err := e.deposits.CreateFlexy(ctx, "u2", req)
	require.NoError(t, err)
	e.depositStore.age(old.RequestNo, 2*time.Hour)

	n, err := e.deposits.ExpireStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusExpired, e.depositStore.status(old.RequestNo))
	assert.Equal(t, model.StatusPending, e.depositStore.status(fresh.RequestNo))
	assert.False(t, e.cache.has(uniqueAmountKey("mobilis", old.UniqueAmount)))
	assert.True(t, e.cache.has(uniqueAmountKey("mobilis", fresh.UniqueAmount)))
}

func TestRevertStaleApprovals(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	d, err := e.deposits.CreateFlexy(ctx, "u1", flexyRequest("req-1"))
	require.NoError(t, err)

	require.NoError(t, e.depositStore.UpdateStatus(ctx, nil, d.RequestNo, model.StatusPending, model.StatusApproving, nil))
	e.depositStore.age(d.RequestNo, 10*time.Minute)

	n, err := e.deposits.RevertStale(ctx, time.Now().Add(-5*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusPending, e.depositStore.status(d.RequestNo))

	count, err := e.deposits.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestCreateDepositRequestBusy(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	locker := newFakeLocker()
	release, err := locker.Acquire(ctx, "submit:u1", "other")
	require.NoError(t, err)
	defer release()

	flow := FlowDeps{Tx: fakeTx{}, Outbox: e.outbox, ReviewLogs: e.logs, Locker: locker, TopicPrefix: "opay.request", Log: zap.NewNop()}
	svc := NewDepositService(flow, DepositDeps{
		Store: e.depositStore, Policies: e.policySvc, Unique: e.unique, Balances: e.balances,
		Ledger: e.backend, URLs: e.backend, ReceiptsBucket: "receipts", Timeout: time.Hour,
	})

	_, err = svc.CreateFlexy(ctx, "u1", flexyRequest("req-busy"))
	assert.True(t, errors.Is(err, ErrRequestBusy))
	assert.False(t, e.cache.has(uniqueAmountKey("mobilis", dec("1003"))), "reservation released on failure")
}

package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opay/internal/fee"
)

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(StatusPending, StatusApproving))
	assert.True(t, CanTransitionTo(StatusApproving, StatusPending))
	assert.True(t, CanTransitionTo(StatusApproving, StatusApproved))
	assert.True(t, CanTransitionTo(StatusProcessing, StatusFailed))

	assert.False(t, CanTransitionTo(StatusPending, StatusApproved), "必须经过 APPROVING")
	assert.False(t, CanTransitionTo(StatusApproved, StatusPending))
	assert.False(t, CanTransitionTo(StatusRejected, StatusApproving))
	assert.False(t, CanTransitionTo("UNKNOWN", StatusPending))
}

func TestIsFinal(t *testing.T) {
	for _, s := range []string{StatusApproved, StatusRejected, StatusCancelled, StatusExpired, StatusCompleted, StatusFailed} {
		assert.True(t, IsFinal(s), s)
	}
	for _, s := range []string{StatusPending, StatusApproving, StatusProcessing} {
		assert.False(t, IsFinal(s), s)
	}
}

func TestFeePolicyConversion(t *testing.T) {
	p := &FeePolicy{
		Service:   ServiceBettingDeposit,
		Operator:  AnyOperator,
		FeeType:   string(fee.TypePercentage),
		FeeValue:  decimal.NewFromInt(2),
		FeeMin:    decimal.NewNullDecimal(decimal.NewFromInt(10)),
		FeeMax:    decimal.NewNullDecimal(decimal.NewFromInt(500)),
		MinAmount: decimal.NewFromInt(100),
	}
	require.NoError(t, p.Validate(fee.ModeDeduct))

	q := p.Policy().Quote(decimal.NewFromInt(1000), fee.ModeDeduct)
	assert.Equal(t, "20", q.Fee.String())
	assert.Equal(t, "980", q.Net.String())

	p.MinAmount = decimal.NewFromInt(5)
	assert.ErrorIs(t, p.Validate(fee.ModeDeduct), fee.ErrNetNegative)
	assert.NoError(t, p.Validate(fee.ModeAdd))
}

func TestRequestBaseApplyQuote(t *testing.T) {
	var d Deposit
	d.ApplyQuote(fee.Quote{
		Amount: decimal.NewFromInt(1000),
		Fee:    decimal.NewFromInt(20),
		Net:    decimal.NewFromInt(980),
		Total:  decimal.NewFromInt(1000),
	})
	assert.Equal(t, "980", d.Base().Net.String())
	assert.Equal(t, KindDeposit, d.Kind())
}

package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func TestBettingDepositExample(t *testing.T) {
	p := Percentage(d("2"), dp("10"), dp("500"))

	q := p.Quote(d("1000"), ModeDeduct)
	assert.True(t, q.Fee.Equal(d("20")), "fee = %s", q.Fee)
	assert.True(t, q.Net.Equal(d("980")), "net = %s", q.Net)
	assert.True(t, q.Total.Equal(d("1000")))
}

func TestPercentageFeeIsClamped(t *testing.T) {
	p := Percentage(d("2"), dp("10"), dp("500"))

	cases := []struct {
		amount string
		want   string
	}{
		{"0", "10"},
		{"100", "10"},
		{"500", "10"},
		{"750", "15"},
		{"25000", "500"},
		{"100000", "500"},
	}
	for _, c := range cases {
		got := p.Fee(d(c.amount))
		assert.True(t, got.Equal(d(c.want)), "amount=%s fee=%s want=%s", c.amount, got, c.want)
	}
}

func TestPercentageWithoutBounds(t *testing.T) {
	p := Percentage(d("1.5"), nil, nil)
	for _, a := range []string{"0", "200", "1234", "99999"} {
		want := d(a).Mul(d("1.5")).Div(d("100")).Round(2)
		assert.True(t, p.Fee(d(a)).Equal(want), "amount=%s", a)
	}
}

func TestFixedFeeIgnoresAmount(t *testing.T) {
	p := Fixed(d("50"), dp("60"), dp("100"))
	for _, a := range []string{"0", "10", "1000", "1000000"} {
		assert.True(t, p.Fee(d(a)).Equal(d("60")), "amount=%s", a)
	}

	p = Fixed(d("150"), nil, dp("100"))
	assert.True(t, p.Fee(d("7")).Equal(d("100")))
}

func TestDeductNeverNegative(t *testing.T) {
	p := Fixed(d("100"), nil, nil)

	q := p.Quote(d("40"), ModeDeduct)
	assert.True(t, q.Fee.Equal(d("40")))
	assert.True(t, q.Net.IsZero())

	q = p.Quote(d("-5"), ModeDeduct)
	assert.True(t, q.Amount.IsZero())
	assert.True(t, q.Net.IsZero())
}

func TestAddMode(t *testing.T) {
	p := Percentage(d("5"), dp("20"), nil)

	q := p.Quote(d("1000"), ModeAdd)
	assert.True(t, q.Fee.Equal(d("50")))
	assert.True(t, q.Net.Equal(d("1000")))
	assert.True(t, q.Total.Equal(d("1050")))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		policy  Policy
		min     string
		max     string
		mode    Mode
		wantErr error
	}{
		{"betting rule", Percentage(d("2"), dp("10"), dp("500")), "100", "100000", ModeDeduct, nil},
		{"unknown type", Policy{Type: "weird", Value: d("1")}, "0", "0", ModeDeduct, ErrUnknownType},
		{"negative value", Percentage(d("-1"), nil, nil), "0", "0", ModeDeduct, ErrNegativeValue},
		{"over 100%", Percentage(d("101"), nil, nil), "0", "0", ModeDeduct, ErrPercentageTooHigh},
		{"over 100% when added", Percentage(d("101"), nil, nil), "0", "0", ModeAdd, ErrPercentageTooHigh},
		{"inverted bounds", Percentage(d("2"), dp("50"), dp("10")), "100", "1000", ModeDeduct, ErrBoundsInverted},
		{"inverted range", Percentage(d("2"), nil, nil), "1000", "100", ModeDeduct, ErrRangeInverted},
		{"min fee above min amount", Percentage(d("2"), dp("150"), nil), "100", "1000", ModeDeduct, ErrNetNegative},
		{"fixed fee above min amount", Fixed(d("60"), nil, nil), "50", "1000", ModeDeduct, ErrNetNegative},
		{"fixed fee with zero min amount", Fixed(d("10"), nil, nil), "0", "1000", ModeDeduct, ErrNetNegative},
		{"fixed fee ok", Fixed(d("50"), nil, nil), "50", "0", ModeDeduct, nil},
		{"added fixed fee above min amount", Fixed(d("50"), nil, nil), "20", "5000", ModeAdd, nil},
		{"added min fee above min amount", Percentage(d("2"), dp("150"), nil), "100", "1000", ModeAdd, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.policy.Validate(d(c.min), d(c.max), c.mode)
			if c.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, c.wantErr)
		})
	}
}

// 通过校验的配置，在区间内任何金额下 net 都不为负（不依赖 Quote 的兜底截断）
func TestValidatedPolicyKeepsNetNonNegative(t *testing.T) {
	policies := []Policy{
		Percentage(d("2"), dp("10"), dp("500")),
		Percentage(d("100"), nil, nil),
		Percentage(d("3.5"), dp("100"), nil),
		Fixed(d("100"), nil, dp("100")),
		Fixed(d("20"), dp("30"), nil),
	}
	minAmount, maxAmount := d("100"), d("50000")

	for _, p := range policies {
		require.NoError(t, p.Validate(minAmount, maxAmount, ModeDeduct))
		for a := minAmount; a.LessThanOrEqual(maxAmount); a = a.Add(d("137.25")) {
			assert.False(t, p.Fee(a).GreaterThan(a), "policy=%+v amount=%s", p, a)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"":         "0",
		"abc":      "0",
		"NaN":      "0",
		"-20":      "0",
		"1000":     "1000",
		" 250.5 ":  "250.5",
		"1 000,50": "1000.5",
	}
	for in, want := range cases {
		assert.True(t, ParseAmount(in).Equal(d(want)), "input=%q got=%s", in, ParseAmount(in))
	}
}

func TestResolve(t *testing.T) {
	fallback := Percentage(d("3"), dp("5"), nil)

	assert.True(t, Resolve(d("12"), d("1000"), &fallback).Equal(d("12")))
	assert.True(t, Resolve(decimal.Zero, d("1000"), &fallback).Equal(d("30")))
	assert.True(t, Resolve(decimal.Zero, d("1000"), nil).IsZero())
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(d("100"), d("100"), d("1000")))
	assert.True(t, InRange(d("1000"), d("100"), d("1000")))
	assert.False(t, InRange(d("99.99"), d("100"), d("1000")))
	assert.False(t, InRange(d("1000.01"), d("100"), d("1000")))
	assert.True(t, InRange(d("999999"), d("100"), decimal.Zero))
}

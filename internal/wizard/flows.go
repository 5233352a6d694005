package wizard

import (
	"errors"

	"github.com/shopspring/decimal"

	"opay/pkg/phone"
)

const (
	FlowFlexyDeposit   = "flexy_deposit"
	FlowQRTransfer     = "qr_transfer"
	FlowGiftCardRedeem = "gift_card_redeem"
)

var (
	ErrOperatorRequired  = errors.New("请选择运营商")
	ErrPhoneInvalid      = errors.New("手机号格式不正确")
	ErrReceiptRequired   = errors.New("请上传转账凭证")
	ErrAmountRequired    = errors.New("请输入金额")
	ErrRecipientRequired = errors.New("请先扫描收款码")
	ErrCardCodeRequired  = errors.New("请先扫描礼品卡")
	ErrUniqueAmountEmpty = errors.New("尚未分配唯一金额")
)

var knownOperators = map[string]bool{
	phone.OperatorMobilis: true,
	phone.OperatorDjezzy:  true,
	phone.OperatorOoredoo: true,
}

// AmountCheck 校验金额是否落在运营商手续费策略的金额区间内
type AmountCheck func(operator string, amount decimal.Decimal) error

// NewFlexyDepositFlow Flexy 充值：选运营商 -> 填金额 -> 确认（手机号+凭证）-> 提交
//
// 【关键点】第 3 步 confirm 必须同时具备合法手机号和凭证图片，否则无法进入
func NewFlexyDepositFlow(checkAmount AmountCheck) *Flow {
	return &Flow{
		Name:  FlowFlexyDeposit,
		Steps: []Step{StepChoose, StepAmount, StepConfirm, StepSubmit},
		Guards: map[Step]Guard{
			StepAmount: func(d *Data) error {
				if !knownOperators[d.Operator] {
					return ErrOperatorRequired
				}
				return nil
			},
			StepConfirm: func(d *Data) error {
				if !d.Amount.IsPositive() {
					return ErrAmountRequired
				}
				if checkAmount != nil {
					if err := checkAmount(d.Operator, d.Amount); err != nil {
						return err
					}
				}
				if !phone.Valid(d.Phone) {
					return ErrPhoneInvalid
				}
				if d.ReceiptPath == "" {
					return ErrReceiptRequired
				}
				d.Phone = phone.Normalize(d.Phone)
				return nil
			},
			StepSubmit: func(d *Data) error {
				if !d.UniqueAmount.IsPositive() {
					return ErrUniqueAmountEmpty
				}
				return nil
			},
		},
	}
}

// NewQRTransferFlow 扫码转账：选方式 -> 扫码/摄像头 -> 确认金额 -> 提交
func NewQRTransferFlow() *Flow {
	return &Flow{
		Name:  FlowQRTransfer,
		Steps: []Step{StepChoose, stepCapture, StepConfirm, StepSubmit},
		Guards: map[Step]Guard{
			StepConfirm: func(d *Data) error {
				if d.RecipientCode == "" {
					return ErrRecipientRequired
				}
				return nil
			},
			StepSubmit: func(d *Data) error {
				if !d.Amount.IsPositive() {
					return ErrAmountRequired
				}
				return nil
			},
		},
	}
}

// NewGiftCardRedeemFlow 礼品卡兑换：选方式 -> 扫码/摄像头 -> 确认 -> 提交
func NewGiftCardRedeemFlow() *Flow {
	return &Flow{
		Name:  FlowGiftCardRedeem,
		Steps: []Step{StepChoose, stepCapture, StepConfirm, StepSubmit},
		Guards: map[Step]Guard{
			StepConfirm: func(d *Data) error {
				if d.CardCode == "" {
					return ErrCardCodeRequired
				}
				return nil
			},
		},
	}
}

// NewCatalog 注册全部流程
func NewCatalog(checkAmount AmountCheck) Catalog {
	return Catalog{
		FlowFlexyDeposit:   NewFlexyDepositFlow(checkAmount),
		FlowQRTransfer:     NewQRTransferFlow(),
		FlowGiftCardRedeem: NewGiftCardRedeemFlow(),
	}
}

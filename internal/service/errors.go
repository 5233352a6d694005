package service

import "errors"

var (
	ErrInvalidAmount       = errors.New("金额不合法")
	ErrAmountOutOfRange    = errors.New("金额超出允许范围")
	ErrInsufficientBalance = errors.New("余额不足")
	ErrInvalidPhone        = errors.New("手机号格式不正确")
	ErrInvalidOperator     = errors.New("不支持的运营商")
	ErrInvalidChannel      = errors.New("不支持的充值渠道")
	ErrReceiptRequired     = errors.New("请上传转账凭证")
	ErrReceiptInvalid      = errors.New("转账凭证路径无效")
	ErrForbidden           = errors.New("没有权限")
	ErrRequestBusy         = errors.New("请求处理中，请勿重复提交")
	ErrNoUniqueAmount      = errors.New("暂时无法分配唯一金额，请稍后重试")
	ErrPolicyNotFound      = errors.New("手续费策略不存在")
	ErrSelfTransfer        = errors.New("不能给自己转账")
	ErrRecipientNotFound   = errors.New("收款码无效")
	ErrGiftCardUnavailable = errors.New("礼品卡不存在或已被使用")
	ErrInvalidProductURL   = errors.New("请输入速卖通商品链接")
	ErrUnsupportedCurrency = errors.New("不支持的币种")
	ErrProductUnavailable  = errors.New("商品不存在或已下架")
	ErrPriceMismatch       = errors.New("商品价格已变动，请刷新后重试")
	ErrNotAtCamera         = errors.New("当前步骤不是摄像头扫码")
)

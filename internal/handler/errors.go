package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/repository"
	"opay/internal/service"
	"opay/internal/wizard"
	"opay/pkg/response"
)

// 业务错误 -> 响应码
var errorCodes = []struct {
	err  error
	code int
}{
	{repository.ErrRequestNotFound, response.CodeRequestNotFound},
	{repository.ErrStatusInvalid, response.CodeStatusInvalid},
	{repository.ErrDuplicateRequest, response.CodeDuplicateRequest},
	{service.ErrInsufficientBalance, response.CodeBalanceNotEnough},
	{service.ErrAmountOutOfRange, response.CodeAmountOutOfRange},
	{service.ErrNoUniqueAmount, response.CodeNoUniqueAmount},
	{service.ErrPolicyNotFound, response.CodePolicyNotFound},
	{service.ErrGiftCardUnavailable, response.CodeGiftCardUnavailable},
	{backend.ErrGiftCardUnavailable, response.CodeGiftCardUnavailable},
	{service.ErrInvalidPhone, response.CodeInvalidPhone},
	{wizard.ErrPhoneInvalid, response.CodeInvalidPhone},
	{service.ErrRequestBusy, response.CodeRequestBusy},
	{service.ErrForbidden, response.CodeForbidden},
	{service.ErrTransferFailed, response.CodeBackendRejected},
	{wizard.ErrSessionNotFound, response.CodeNotFound},

	{service.ErrInvalidAmount, response.CodeParamError},
	{service.ErrInvalidOperator, response.CodeParamError},
	{service.ErrInvalidChannel, response.CodeParamError},
	{service.ErrReceiptRequired, response.CodeParamError},
	{service.ErrReceiptInvalid, response.CodeParamError},
	{service.ErrSelfTransfer, response.CodeParamError},
	{service.ErrRecipientNotFound, response.CodeParamError},
	{service.ErrInvalidProductURL, response.CodeParamError},
	{service.ErrUnsupportedCurrency, response.CodeParamError},
	{service.ErrProductUnavailable, response.CodeParamError},
	{service.ErrPriceMismatch, response.CodeParamError},

	{service.ErrNotAtCamera, response.CodeWizardInvalid},
	{wizard.ErrUnknownFlow, response.CodeWizardInvalid},
	{wizard.ErrAtStart, response.CodeWizardInvalid},
	{wizard.ErrAtEnd, response.CodeWizardInvalid},
	{wizard.ErrFinished, response.CodeWizardInvalid},
	{wizard.ErrModeRequired, response.CodeWizardInvalid},
	{wizard.ErrOperatorRequired, response.CodeWizardInvalid},
	{wizard.ErrReceiptRequired, response.CodeWizardInvalid},
	{wizard.ErrAmountRequired, response.CodeWizardInvalid},
	{wizard.ErrRecipientRequired, response.CodeWizardInvalid},
	{wizard.ErrCardCodeRequired, response.CodeWizardInvalid},
	{wizard.ErrUniqueAmountEmpty, response.CodeWizardInvalid},
}

// writeError 业务错误返回对应码和原因；后端拒绝时原样展示后端给出的原因；其余记日志后返回通用错误
func (h *Handler) writeError(c *gin.Context, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			response.BusinessError(c, e.code, err.Error())
			return
		}
	}

	var be *backend.Error
	if errors.As(err, &be) {
		response.BusinessError(c, response.CodeBackendRejected, be.Message)
		return
	}

	h.log.Error("请求处理失败",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("user_id", userID(c)),
		zap.Error(err))
	response.ServerError(c, "服务器内部错误")
}

package handler

import (
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"opay/pkg/phone"
)

const dzPhoneTag = "dzphone"

// RegisterValidators 在 gin 的校验引擎上注册自定义规则，错误信息用 json 字段名
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(dzPhoneTag, func(fl validator.FieldLevel) bool {
		return phone.Valid(fl.Field().String())
	})
}

// bindingMessage 把校验错误转成一句话
func bindingMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return "参数错误: " + err.Error()
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " 不能为空"
	case dzPhoneTag:
		return fe.Field() + " 不是有效的阿尔及利亚手机号"
	case "oneof":
		return fe.Field() + " 只能是 " + fe.Param()
	}
	return fe.Field() + " 校验失败: " + fe.Tag()
}

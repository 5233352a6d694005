package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformedResult = errors.New("后端返回结构不符合预期")
	ErrNotFound        = errors.New("后端记录不存在")
)

// PostgREST 单行查询没有结果时的错误码
const codeNoRows = "PGRST116"

// Error 后端拒绝请求。Message 是后端给出的可读原因，直接展示给用户
type Error struct {
	Status  int
	Code    string
	Message string
	Hint    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// Error 状态码 >= 400 时解析后端错误体
func (r *Response) Error() error {
	if r.StatusCode < http.StatusBadRequest {
		return nil
	}

	e := &Error{Status: r.StatusCode}
	if gjson.ValidBytes(r.Body) {
		body := gjson.ParseBytes(r.Body)
		e.Code = body.Get("code").String()
		e.Hint = body.Get("hint").String()
		for _, key := range []string{"message", "msg", "error_description", "error"} {
			if v := body.Get(key); v.Exists() && v.String() != "" {
				e.Message = v.String()
				break
			}
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(r.StatusCode)
	}
	return e
}

// Message 取后端给出的错误描述，不是后端错误时返回空
func Message(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	return ""
}

func isNoRows(err error) bool {
	var be *Error
	return errors.As(err, &be) && (be.Code == codeNoRows || be.Status == http.StatusNotAcceptable)
}

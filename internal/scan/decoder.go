package scan

import (
	"regexp"
	"strings"
)

const (
	KindUser = "user" // 用户收款码
	KindGift = "gift" // 礼品卡
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9-]{6,64}$`)

// PayloadDecoder 识别 OpaY 二维码内容：opay:<kind>:<code>，或者直接是编码本身
//
// 客户端负责把图像识别成文本，服务端只校验格式和类型
type PayloadDecoder struct {
	Kind string
}

func NewPayloadDecoder(kind string) *PayloadDecoder {
	return &PayloadDecoder{Kind: kind}
}

func (d *PayloadDecoder) Decode(f Frame) (string, bool) {
	return ParsePayload(d.Kind, string(f.Data))
}

func (d *PayloadDecoder) Close() {}

// ParsePayload 解析二维码文本
func ParsePayload(kind, raw string) (string, bool) {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(strings.ToLower(s), "opay:") {
		parts := strings.SplitN(s, ":", 3)
		if len(parts) != 3 || !strings.EqualFold(parts[1], kind) {
			return "", false
		}
		s = parts[2]
	}

	if !codePattern.MatchString(s) {
		return "", false
	}
	return strings.ToUpper(s), true
}

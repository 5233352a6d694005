package phone

import (
	"regexp"
	"strings"
)

// 阿尔及利亚手机号：05 Ooredoo，06 Mobilis，07 Djezzy，后跟 8 位数字
// 允许 +213 / 00213 / 213 国际前缀

const (
	OperatorMobilis = "mobilis"
	OperatorDjezzy  = "djezzy"
	OperatorOoredoo = "ooredoo"
)

var (
	cleaner     = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")
	localMobile = regexp.MustCompile(`^0[567][0-9]{8}$`)
)

// Normalize 统一成本地格式 0XXXXXXXXX，非法号码返回空串
func Normalize(raw string) string {
	s := cleaner.Replace(strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(s, "+213"):
		s = "0" + s[4:]
	case strings.HasPrefix(s, "00213"):
		s = "0" + s[5:]
	case strings.HasPrefix(s, "213") && len(s) == 12:
		s = "0" + s[3:]
	}

	if !localMobile.MatchString(s) {
		return ""
	}
	return s
}

// Valid 是否为合法的阿尔及利亚手机号
func Valid(raw string) bool {
	return Normalize(raw) != ""
}

// Operator 根据号段识别运营商
func Operator(raw string) string {
	n := Normalize(raw)
	if n == "" {
		return ""
	}
	switch n[1] {
	case '5':
		return OperatorOoredoo
	case '6':
		return OperatorMobilis
	case '7':
		return OperatorDjezzy
	}
	return ""
}

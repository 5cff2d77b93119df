// Package fastparse 提供上游告警载荷中的宽松数值解析。
// 告警模板中的数值字段有时是 JSON 数字，有时是字符串（如 "12.5"），统一在此处理。
package fastparse

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNonFinite 数值为 NaN 或 Inf
var ErrNonFinite = errors.New("数值非有限")

// Float 可接受 JSON 数字或数字字符串的浮点数
// 空字符串与 null 解析为 0。
type Float float64

// UnmarshalJSON 实现 json.Unmarshaler
func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("数值字符串格式错误: %w", err)
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			*f = 0
			return nil
		}
	}
	v, err := ParseFloat(s)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Value 返回 float64 值
func (f Float) Value() float64 {
	return float64(f)
}

// ParseFloat 解析浮点数字符串，拒绝 NaN/Inf
// 参数 s: 待解析的字符串，如 "12345.67"
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("解析数值失败 %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNonFinite, s)
	}
	return v, nil
}

// Int 可接受 JSON 数字或数字字符串的整数
type Int int64

// UnmarshalJSON 实现 json.Unmarshaler
// 允许 "45" 与 45.0 这类写法，小数部分必须为 0。
func (i *Int) UnmarshalJSON(data []byte) error {
	var f Float
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	if float64(f) != math.Trunc(float64(f)) {
		return fmt.Errorf("期望整数，得到 %v", float64(f))
	}
	*i = Int(f)
	return nil
}

// FormatFloat 格式化浮点数为字符串
// 参数 prec: 小数位数，-1 表示最短表示
func FormatFloat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}

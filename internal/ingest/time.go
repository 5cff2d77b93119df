package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flexTime 上游时间戳：RFC3339 字符串，或 Unix 秒/毫秒（数字或数字字符串）
type flexTime time.Time

// 大于该值的数字按毫秒解析（约 2001-09-09 的秒级时间戳的 1000 倍）
const millisThreshold = 1e12

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = flexTime{}
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		var unq string
		if err := json.Unmarshal(data, &unq); err != nil {
			return err
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			*t = flexTime{}
			return nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*t = flexTime(ts.UTC())
			return nil
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("无法解析时间戳 %q", s)
	}
	if n < 0 {
		return fmt.Errorf("时间戳不能为负数: %q", s)
	}
	if n >= millisThreshold {
		*t = flexTime(time.UnixMilli(int64(n)).UTC())
	} else {
		sec := int64(n)
		*t = flexTime(time.Unix(sec, int64((n-float64(sec))*1e9)).UTC())
	}
	return nil
}

func (t flexTime) Time() time.Time {
	return time.Time(t)
}

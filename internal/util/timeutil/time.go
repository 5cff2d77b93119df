// Package timeutil 提供时钟与美股交易时段相关的工具函数。
// 所有交易时段判断统一使用 America/New_York 时区。
package timeutil

import (
	"math"
	"time"
	_ "time/tzdata" // 容器内可能没有系统时区库
)

// MarketTimezone 美股交易所时区
const MarketTimezone = "America/New_York"

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()

	marketLoc = mustLoadLocation(MarketTimezone)
)

// Clock 可注入的时钟；存储与流水线均通过 Clock 读取当前时间，测试中替换为固定时钟
type Clock func() time.Time

// SystemClock 系统 UTC 时钟
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Fixed 返回始终给出 t 的时钟
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// NowNano 获取当前时间的纳秒时间戳
// 使用“单调时钟 + 启动时 Unix 时间”组合，系统时间跳变时差值仍保持单调。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// InMarket 将时间转换到交易所时区
func InMarket(t time.Time) time.Time {
	return t.In(marketLoc)
}

// MinuteOfDay 返回交易所时区内的当日分钟数（0-1439）
func MinuteOfDay(t time.Time) int {
	m := InMarket(t)
	return m.Hour()*60 + m.Minute()
}

// MarketWeekday 返回交易所时区内的星期
func MarketWeekday(t time.Time) time.Weekday {
	return InMarket(t).Weekday()
}

// DaysUntil 计算从 t（交易所时区日期）到下一个 wd 的天数
// 参数 sameDay: 为 true 时当天即为 wd 返回 0，否则返回 7
func DaysUntil(t time.Time, wd time.Weekday, sameDay bool) int {
	d := (int(wd) - int(MarketWeekday(t)) + 7) % 7
	if d == 0 && !sameDay {
		return 7
	}
	return d
}

// MarketDate 返回 t 在交易所时区的日期（当日 00:00）加上 days 天
func MarketDate(t time.Time, days int) time.Time {
	m := InMarket(t)
	return time.Date(m.Year(), m.Month(), m.Day()+days, 0, 0, 0, 0, marketLoc)
}

// HoldDays 计算两个时间点之间的自然日（浮点，负值归零）
func HoldDays(start, end time.Time) float64 {
	d := end.Sub(start).Hours() / 24
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("加载时区失败: " + name + ": " + err.Error())
	}
	return loc
}

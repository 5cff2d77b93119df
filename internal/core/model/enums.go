// Package model 定义决策与模拟执行流水线中的核心数据结构。
// 所有枚举均为封闭集合，落账前通过 Valid() 校验。
package model

// Direction 信号方向
type Direction string

const (
	// DirectionLong 做多（买入 CALL）
	DirectionLong Direction = "LONG"
	// DirectionShort 做空（买入 PUT）
	DirectionShort Direction = "SHORT"
)

// Valid 判断方向是否合法
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign 方向系数：多头 1，空头 -1
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Bias 阶段/趋势的方向偏向
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// Valid 判断偏向是否合法
func (b Bias) Valid() bool {
	return b == BiasBullish || b == BiasBearish || b == BiasNeutral
}

// Agrees 判断偏向是否与信号方向一致；NEUTRAL 与任何方向都不一致
func (b Bias) Agrees(d Direction) bool {
	switch b {
	case BiasBullish:
		return d == DirectionLong
	case BiasBearish:
		return d == DirectionShort
	default:
		return false
	}
}

// Timeframe 周期标识
type Timeframe string

const (
	TF3M  Timeframe = "3m"
	TF5M  Timeframe = "5m"
	TF15M Timeframe = "15m"
	TF30M Timeframe = "30m"
	TF1H  Timeframe = "1h"
	TF4H  Timeframe = "4h"
	TF1D  Timeframe = "1D"
)

// Minutes 返回周期对应的分钟数；未知周期返回 0
func (tf Timeframe) Minutes() int {
	switch tf {
	case TF3M:
		return 3
	case TF5M:
		return 5
	case TF15M:
		return 15
	case TF30M:
		return 30
	case TF1H:
		return 60
	case TF4H:
		return 240
	case TF1D:
		return 1440
	default:
		return 0
	}
}

// Valid 判断周期是否合法
func (tf Timeframe) Valid() bool {
	return tf.Minutes() > 0
}

// SignalTimeframe 判断周期是否可用于交易信号（3m-4h）
func (tf Timeframe) SignalTimeframe() bool {
	m := tf.Minutes()
	return m > 0 && m <= 240
}

// Quality 信号质量等级
type Quality string

const (
	QualityExtreme Quality = "EXTREME"
	QualityHigh    Quality = "HIGH"
	QualityMedium  Quality = "MEDIUM"
)

// Rank 质量排序值，越大越好；未知质量返回 0
func (q Quality) Rank() int {
	switch q {
	case QualityExtreme:
		return 3
	case QualityHigh:
		return 2
	case QualityMedium:
		return 1
	default:
		return 0
	}
}

// Valid 判断质量等级是否合法
func (q Quality) Valid() bool {
	return q.Rank() > 0
}

// Session 美股交易时段
type Session string

const (
	// SessionOpen 09:30-10:30 ET
	SessionOpen Session = "OPEN"
	// SessionMidday 10:30-15:00 ET
	SessionMidday Session = "MIDDAY"
	// SessionPowerHour 15:00-16:00 ET
	SessionPowerHour Session = "POWER_HOUR"
	// SessionAfterHours 其余时间
	SessionAfterHours Session = "AFTERHOURS"
)

// Valid 判断时段是否合法
func (s Session) Valid() bool {
	switch s {
	case SessionOpen, SessionMidday, SessionPowerHour, SessionAfterHours:
		return true
	default:
		return false
	}
}

// PhaseRole 阶段事件所对应的周期角色
type PhaseRole string

const (
	RoleRegime     PhaseRole = "REGIME"
	RoleBias       PhaseRole = "BIAS"
	RoleSetup      PhaseRole = "SETUP"
	RoleStructural PhaseRole = "STRUCTURAL"
)

// Valid 判断角色是否合法
func (r PhaseRole) Valid() bool {
	switch r {
	case RoleRegime, RoleBias, RoleSetup, RoleStructural:
		return true
	default:
		return false
	}
}

// ConfidenceTier 阶段置信度等级
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "HIGH"
	TierMedium ConfidenceTier = "MEDIUM"
	TierLow    ConfidenceTier = "LOW"
)

// Valid 判断置信度等级是否合法
func (t ConfidenceTier) Valid() bool {
	return t == TierHigh || t == TierMedium || t == TierLow
}

// Verdict 决策结论
type Verdict string

const (
	VerdictExecute Verdict = "EXECUTE"
	VerdictWait    Verdict = "WAIT"
	VerdictSkip    Verdict = "SKIP"
)

// Valid 判断决策结论是否合法
func (v Verdict) Valid() bool {
	return v == VerdictExecute || v == VerdictWait || v == VerdictSkip
}

// HTFAlignment 高周期对齐程度
type HTFAlignment string

const (
	// HTFNone 未评估（WAIT 时的中性值）
	HTFNone    HTFAlignment = "NONE"
	HTFPerfect HTFAlignment = "PERFECT"
	HTFGood    HTFAlignment = "GOOD"
	HTFWeak    HTFAlignment = "WEAK"
	HTFCounter HTFAlignment = "COUNTER"
)

// Valid 判断对齐程度是否合法
func (a HTFAlignment) Valid() bool {
	switch a {
	case HTFNone, HTFPerfect, HTFGood, HTFWeak, HTFCounter:
		return true
	default:
		return false
	}
}

// OptionType 期权类型
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Valid 判断期权类型是否合法
func (o OptionType) Valid() bool {
	return o == OptionCall || o == OptionPut
}

// FillQuality 成交质量
type FillQuality string

const (
	FillFull    FillQuality = "FULL"
	FillPartial FillQuality = "PARTIAL"
)

// Valid 判断成交质量是否合法
func (f FillQuality) Valid() bool {
	return f == FillFull || f == FillPartial
}

// DTEBucket 到期天数分组
type DTEBucket string

const (
	Bucket0DTE    DTEBucket = "0DTE"
	BucketWeekly  DTEBucket = "WEEKLY"
	BucketMonthly DTEBucket = "MONTHLY"
	BucketLeap    DTEBucket = "LEAP"
)

// BucketForDTE 根据到期天数归类
func BucketForDTE(dte int) DTEBucket {
	switch {
	case dte <= 0:
		return Bucket0DTE
	case dte <= 7:
		return BucketWeekly
	case dte <= 60:
		return BucketMonthly
	default:
		return BucketLeap
	}
}

// Valid 判断分组是否合法
func (b DTEBucket) Valid() bool {
	switch b {
	case Bucket0DTE, BucketWeekly, BucketMonthly, BucketLeap:
		return true
	default:
		return false
	}
}

// ExitReason 平仓原因
type ExitReason string

const (
	ExitTarget1  ExitReason = "TARGET_1"
	ExitTarget2  ExitReason = "TARGET_2"
	ExitStopLoss ExitReason = "STOP_LOSS"
	ExitTime     ExitReason = "TIME_EXIT"
	ExitExpired  ExitReason = "EXPIRED"
	ExitManual   ExitReason = "MANUAL"
)

// Valid 判断平仓原因是否合法
func (r ExitReason) Valid() bool {
	switch r {
	case ExitTarget1, ExitTarget2, ExitStopLoss, ExitTime, ExitExpired, ExitManual:
		return true
	default:
		return false
	}
}

// TrendStrength 多周期趋势对齐强度
type TrendStrength string

const (
	TrendStrong   TrendStrength = "STRONG"
	TrendModerate TrendStrength = "MODERATE"
	TrendWeak     TrendStrength = "WEAK"
)

// Valid 判断强度是否合法
func (s TrendStrength) Valid() bool {
	return s == TrendStrong || s == TrendModerate || s == TrendWeak
}

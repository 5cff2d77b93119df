package model

import (
	"math"
	"time"

	"confluence-paper-trader/internal/util/timeutil"
)

// Signal 单一周期上的交易机会
// 入库后视为不可变；同一 (ticker, timeframe) 只能被更高质量的信号替换。
type Signal struct {
	// ID 信号标识（上游未提供时由流水线生成）
	ID string `json:"id"`
	// Ticker 标的代码，如 SPY
	Ticker string `json:"ticker"`
	// Exchange 上游报告的交易所
	Exchange string `json:"exchange,omitempty"`
	// Direction 方向: LONG / SHORT
	Direction Direction `json:"direction"`
	// Timeframe 信号周期
	Timeframe Timeframe `json:"timeframe"`
	// Quality 质量等级: EXTREME / HIGH / MEDIUM
	Quality Quality `json:"quality"`
	// AIScore 置信分（0-10）
	AIScore float64 `json:"ai_score"`
	// Price 触发时标的价格
	Price float64 `json:"price"`
	// Entry 入场计划
	Entry EntryPlan `json:"entry"`
	// Risk 风险与仓位提示
	Risk RiskPlan `json:"risk"`
	// Market 市场环境快照
	Market MarketContext `json:"market_context"`
	// Trend 趋势环境快照
	Trend TrendContext `json:"trend_context"`
	// Session 上游标注的交易时段；为空时按 Timestamp 推断
	Session Session `json:"session,omitempty"`
	// Timestamp 信号时间
	Timestamp time.Time `json:"timestamp"`
}

// EntryPlan 入场、止损与目标价
type EntryPlan struct {
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"stop_loss"`
	Target1    float64 `json:"target_1"`
	Target2    float64 `json:"target_2"`
	StopReason string  `json:"stop_reason,omitempty"`
}

// RiskPlan 风险提示
type RiskPlan struct {
	// Amount 单笔风险金额（美元）
	Amount float64 `json:"amount"`
	// RRRatioT1 相对第一目标的盈亏比
	RRRatioT1 float64 `json:"rr_ratio_t1"`
	// RRRatioT2 相对第二目标的盈亏比
	RRRatioT2            float64 `json:"rr_ratio_t2"`
	StopDistancePct      float64 `json:"stop_distance_pct"`
	RecommendedShares    float64 `json:"recommended_shares"`
	RecommendedContracts float64 `json:"recommended_contracts"`
	PositionMultiplier   float64 `json:"position_multiplier"`
}

// MarketContext 市场环境快照
type MarketContext struct {
	VWAP           float64 `json:"vwap"`
	PremarketHigh  float64 `json:"pmh"`
	PremarketLow   float64 `json:"pml"`
	DayOpen        float64 `json:"day_open"`
	DayChangePct   float64 `json:"day_change_pct"`
	PriceVsVWAPPct float64 `json:"price_vs_vwap_pct"`
	ATR            float64 `json:"atr"`
	// VolumeVsAvg 成交量相对均量倍数
	VolumeVsAvg float64 `json:"volume_vs_avg"`
	// ImpliedVol 隐含波动率（小数，0 表示未知）
	ImpliedVol float64 `json:"implied_vol,omitempty"`
}

// TrendContext 信号附带的趋势快照
type TrendContext struct {
	EMA8      float64 `json:"ema_8"`
	EMA21     float64 `json:"ema_21"`
	EMA50     float64 `json:"ema_50"`
	Alignment Bias    `json:"alignment"`
	// Strength 趋势强度（0-100）
	Strength float64 `json:"strength"`
	RSI      float64 `json:"rsi"`
}

// RiskReward 返回第一目标盈亏比；上游未给出时按入场/止损/目标价计算
func (s *Signal) RiskReward() float64 {
	if s.Risk.RRRatioT1 > 0 {
		return s.Risk.RRRatioT1
	}
	risk := math.Abs(s.Entry.Price - s.Entry.StopLoss)
	if risk == 0 {
		return 0
	}
	return math.Abs(s.Entry.Target1-s.Entry.Price) / risk
}

// EffectiveSession 返回信号所属时段
func (s *Signal) EffectiveSession() Session {
	if s.Session.Valid() {
		return s.Session
	}
	return SessionAt(s.Timestamp)
}

// UnderlyingPrice 返回用于期权定价的标的价格
func (s *Signal) UnderlyingPrice() float64 {
	if s.Price > 0 {
		return s.Price
	}
	return s.Entry.Price
}

// Clone 深拷贝（Signal 只包含值字段）
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// SessionAt 根据交易所时区时间推断交易时段
func SessionAt(t time.Time) Session {
	if t.IsZero() {
		return SessionAfterHours
	}
	wd := timeutil.MarketWeekday(t)
	if wd == time.Saturday || wd == time.Sunday {
		return SessionAfterHours
	}
	m := timeutil.MinuteOfDay(t)
	switch {
	case m >= 9*60+30 && m < 10*60+30:
		return SessionOpen
	case m >= 10*60+30 && m < 15*60:
		return SessionMidday
	case m >= 15*60 && m < 16*60:
		return SessionPowerHour
	default:
		return SessionAfterHours
	}
}

package model

import "time"

// FrameTrend 单一周期的趋势方向
type FrameTrend struct {
	Direction Bias    `json:"direction"`
	Open      float64 `json:"open"`
	Close     float64 `json:"close"`
}

// TrendFrames 固定八个周期的趋势（3m…1mo）
type TrendFrames struct {
	M3  FrameTrend `json:"3m"`
	M5  FrameTrend `json:"5m"`
	M15 FrameTrend `json:"15m"`
	M30 FrameTrend `json:"30m"`
	H1  FrameTrend `json:"1h"`
	H4  FrameTrend `json:"4h"`
	W1  FrameTrend `json:"1w"`
	MO1 FrameTrend `json:"1mo"`
}

// All 按从短到长的固定顺序返回八个周期
func (f TrendFrames) All() [8]FrameTrend {
	return [8]FrameTrend{f.M3, f.M5, f.M15, f.M30, f.H1, f.H4, f.W1, f.MO1}
}

// Trend 标的多周期趋势快照，每次更新整体替换
type Trend struct {
	Ticker    string      `json:"ticker"`
	Exchange  string      `json:"exchange,omitempty"`
	Price     float64     `json:"price"`
	Frames    TrendFrames `json:"timeframes"`
	Timestamp time.Time   `json:"timestamp"`
}

// TrendAlignment 多周期对齐统计
type TrendAlignment struct {
	Dominant Bias `json:"dominant"`
	Bullish  int  `json:"bullish"`
	Bearish  int  `json:"bearish"`
	// Score 占优方向占比（0-100）
	Score    float64       `json:"score"`
	Strength TrendStrength `json:"strength"`
}

// Alignment 统计八个周期的多空对齐度
// 占优方向不少于 6 个周期为 STRONG，不少于 4 个为 MODERATE。
func (t *Trend) Alignment() TrendAlignment {
	var a TrendAlignment
	for _, fr := range t.Frames.All() {
		switch fr.Direction {
		case BiasBullish:
			a.Bullish++
		case BiasBearish:
			a.Bearish++
		}
	}

	top := a.Bullish
	a.Dominant = BiasBullish
	switch {
	case a.Bearish > a.Bullish:
		top = a.Bearish
		a.Dominant = BiasBearish
	case a.Bearish == a.Bullish:
		a.Dominant = BiasNeutral
	}

	a.Score = float64(top) / 8 * 100
	switch {
	case a.Dominant != BiasNeutral && a.Score >= 75:
		a.Strength = TrendStrong
	case a.Dominant != BiasNeutral && a.Score >= 50:
		a.Strength = TrendModerate
	default:
		a.Strength = TrendWeak
	}
	return a
}

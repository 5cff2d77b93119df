package ingest

import (
	"strings"

	"confluence-paper-trader/internal/core/exit"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/fastparse"
)

// 载荷结构与上游告警模板一一对应，数值字段同时接受数字与数字字符串。

type signalPayload struct {
	ID        string          `json:"id" validate:"omitempty,max=64"`
	Ticker    string          `json:"ticker" validate:"required,max=16"`
	Exchange  string          `json:"exchange" validate:"omitempty,max=32"`
	Direction string          `json:"direction" validate:"required,oneof=LONG SHORT"`
	Timeframe string          `json:"timeframe" validate:"required,oneof=3m 5m 15m 30m 1h 4h"`
	Quality   string          `json:"quality" validate:"required,oneof=EXTREME HIGH MEDIUM"`
	AIScore   fastparse.Float `json:"ai_score" validate:"gte=0,lte=10"`
	Price     fastparse.Float `json:"price" validate:"gte=0"`
	Entry     entryPayload    `json:"entry"`
	Risk      riskPayload     `json:"risk"`
	Market    marketPayload   `json:"market_context"`
	Trend     trendCtxPayload `json:"trend_context"`
	Session   string          `json:"session" validate:"omitempty,oneof=OPEN MIDDAY POWER_HOUR AFTERHOURS"`
	Timestamp flexTime        `json:"timestamp"`
}

type entryPayload struct {
	Price      fastparse.Float `json:"price" validate:"gt=0"`
	StopLoss   fastparse.Float `json:"stop_loss" validate:"gte=0"`
	Target1    fastparse.Float `json:"target_1" validate:"gte=0"`
	Target2    fastparse.Float `json:"target_2" validate:"gte=0"`
	StopReason string          `json:"stop_reason" validate:"omitempty,max=128"`
}

type riskPayload struct {
	Amount               fastparse.Float `json:"amount" validate:"gte=0"`
	RRRatioT1            fastparse.Float `json:"rr_ratio_t1" validate:"gte=0"`
	RRRatioT2            fastparse.Float `json:"rr_ratio_t2" validate:"gte=0"`
	StopDistancePct      fastparse.Float `json:"stop_distance_pct" validate:"gte=0"`
	RecommendedShares    fastparse.Float `json:"recommended_shares" validate:"gte=0"`
	RecommendedContracts fastparse.Float `json:"recommended_contracts" validate:"gte=0"`
	PositionMultiplier   fastparse.Float `json:"position_multiplier" validate:"gte=0"`
}

type marketPayload struct {
	VWAP           fastparse.Float `json:"vwap" validate:"gte=0"`
	PremarketHigh  fastparse.Float `json:"pmh" validate:"gte=0"`
	PremarketLow   fastparse.Float `json:"pml" validate:"gte=0"`
	DayOpen        fastparse.Float `json:"day_open" validate:"gte=0"`
	DayChangePct   fastparse.Float `json:"day_change_pct"`
	PriceVsVWAPPct fastparse.Float `json:"price_vs_vwap_pct"`
	ATR            fastparse.Float `json:"atr" validate:"gte=0"`
	VolumeVsAvg    fastparse.Float `json:"volume_vs_avg" validate:"gte=0"`
	ImpliedVol     fastparse.Float `json:"implied_vol" validate:"gte=0,lte=5"`
}

type trendCtxPayload struct {
	EMA8      fastparse.Float `json:"ema_8" validate:"gte=0"`
	EMA21     fastparse.Float `json:"ema_21" validate:"gte=0"`
	EMA50     fastparse.Float `json:"ema_50" validate:"gte=0"`
	Alignment string          `json:"alignment" validate:"omitempty,oneof=BULLISH BEARISH NEUTRAL"`
	Strength  fastparse.Float `json:"strength" validate:"gte=0,lte=100"`
	RSI       fastparse.Float `json:"rsi" validate:"gte=0,lte=100"`
}

func (p *signalPayload) normalize() {
	p.Ticker = normalizeTicker(p.Ticker)
	p.Direction = upper(p.Direction)
	p.Timeframe = normalizeTimeframe(p.Timeframe)
	p.Quality = upper(p.Quality)
	p.Session = upper(p.Session)
	p.Trend.Alignment = upper(p.Trend.Alignment)
}

func (p *signalPayload) toModel() *model.Signal {
	return &model.Signal{
		ID:        strings.TrimSpace(p.ID),
		Ticker:    p.Ticker,
		Exchange:  p.Exchange,
		Direction: model.Direction(p.Direction),
		Timeframe: model.Timeframe(p.Timeframe),
		Quality:   model.Quality(p.Quality),
		AIScore:   p.AIScore.Value(),
		Price:     p.Price.Value(),
		Entry: model.EntryPlan{
			Price:      p.Entry.Price.Value(),
			StopLoss:   p.Entry.StopLoss.Value(),
			Target1:    p.Entry.Target1.Value(),
			Target2:    p.Entry.Target2.Value(),
			StopReason: p.Entry.StopReason,
		},
		Risk: model.RiskPlan{
			Amount:               p.Risk.Amount.Value(),
			RRRatioT1:            p.Risk.RRRatioT1.Value(),
			RRRatioT2:            p.Risk.RRRatioT2.Value(),
			StopDistancePct:      p.Risk.StopDistancePct.Value(),
			RecommendedShares:    p.Risk.RecommendedShares.Value(),
			RecommendedContracts: p.Risk.RecommendedContracts.Value(),
			PositionMultiplier:   p.Risk.PositionMultiplier.Value(),
		},
		Market: model.MarketContext{
			VWAP:           p.Market.VWAP.Value(),
			PremarketHigh:  p.Market.PremarketHigh.Value(),
			PremarketLow:   p.Market.PremarketLow.Value(),
			DayOpen:        p.Market.DayOpen.Value(),
			DayChangePct:   p.Market.DayChangePct.Value(),
			PriceVsVWAPPct: p.Market.PriceVsVWAPPct.Value(),
			ATR:            p.Market.ATR.Value(),
			VolumeVsAvg:    p.Market.VolumeVsAvg.Value(),
			ImpliedVol:     p.Market.ImpliedVol.Value(),
		},
		Trend: model.TrendContext{
			EMA8:      p.Trend.EMA8.Value(),
			EMA21:     p.Trend.EMA21.Value(),
			EMA50:     p.Trend.EMA50.Value(),
			Alignment: model.Bias(p.Trend.Alignment),
			Strength:  p.Trend.Strength.Value(),
			RSI:       p.Trend.RSI.Value(),
		},
		Session:   model.Session(p.Session),
		Timestamp: p.Timestamp.Time(),
	}
}

type phasePayload struct {
	Ticker          string          `json:"ticker" validate:"required,max=16"`
	Timeframe       string          `json:"timeframe" validate:"required,oneof=3m 5m 15m 30m 1h 4h 1D"`
	Role            string          `json:"role" validate:"required,oneof=REGIME BIAS SETUP STRUCTURAL"`
	Name            string          `json:"phase" validate:"omitempty,max=64"`
	Bias            string          `json:"bias" validate:"required,oneof=BULLISH BEARISH NEUTRAL"`
	ConfidenceScore fastparse.Float `json:"confidence_score" validate:"gte=0,lte=100"`
	Tier            string          `json:"tier" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
	HTFAligned      bool            `json:"htf_aligned"`
	DecayMinutes    fastparse.Int   `json:"decay_minutes" validate:"gte=0,lte=10080"`
	Timestamp       flexTime        `json:"timestamp"`
}

func (p *phasePayload) normalize() {
	p.Ticker = normalizeTicker(p.Ticker)
	p.Timeframe = normalizeTimeframe(p.Timeframe)
	p.Role = upper(p.Role)
	p.Name = upper(p.Name)
	p.Bias = upper(p.Bias)
	p.Tier = upper(p.Tier)
}

func (p *phasePayload) toModel() *model.Phase {
	tier := model.ConfidenceTier(p.Tier)
	if tier == "" {
		tier = tierFor(p.ConfidenceScore.Value())
	}
	return &model.Phase{
		Ticker:          p.Ticker,
		Timeframe:       model.Timeframe(p.Timeframe),
		Role:            model.PhaseRole(p.Role),
		Name:            p.Name,
		Bias:            model.Bias(p.Bias),
		ConfidenceScore: p.ConfidenceScore.Value(),
		Tier:            tier,
		HTFAligned:      p.HTFAligned,
		DecayMinutes:    int(p.DecayMinutes),
		Timestamp:       p.Timestamp.Time(),
	}
}

// tierFor 上游未给出等级时按置信分推断
func tierFor(score float64) model.ConfidenceTier {
	switch {
	case score >= 70:
		return model.TierHigh
	case score >= 50:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

type framePayload struct {
	Direction string          `json:"direction" validate:"required,oneof=BULLISH BEARISH NEUTRAL"`
	Open      fastparse.Float `json:"open" validate:"gte=0"`
	Close     fastparse.Float `json:"close" validate:"gte=0"`
}

type framesPayload struct {
	M3  framePayload `json:"3m"`
	M5  framePayload `json:"5m"`
	M15 framePayload `json:"15m"`
	M30 framePayload `json:"30m"`
	H1  framePayload `json:"1h"`
	H4  framePayload `json:"4h"`
	W1  framePayload `json:"1w"`
	MO1 framePayload `json:"1mo"`
}

type trendPayload struct {
	Ticker     string          `json:"ticker" validate:"required,max=16"`
	Exchange   string          `json:"exchange" validate:"omitempty,max=32"`
	Price      fastparse.Float `json:"price" validate:"gte=0"`
	Timeframes framesPayload   `json:"timeframes"`
	Timestamp  flexTime        `json:"timestamp"`
}

func (p *trendPayload) normalize() {
	p.Ticker = normalizeTicker(p.Ticker)
	for _, f := range []*framePayload{
		&p.Timeframes.M3, &p.Timeframes.M5, &p.Timeframes.M15, &p.Timeframes.M30,
		&p.Timeframes.H1, &p.Timeframes.H4, &p.Timeframes.W1, &p.Timeframes.MO1,
	} {
		f.Direction = upper(f.Direction)
	}
}

func (f framePayload) toModel() model.FrameTrend {
	return model.FrameTrend{Direction: model.Bias(f.Direction), Open: f.Open.Value(), Close: f.Close.Value()}
}

func (p *trendPayload) toModel() *model.Trend {
	tf := p.Timeframes
	return &model.Trend{
		Ticker:   p.Ticker,
		Exchange: p.Exchange,
		Price:    p.Price.Value(),
		Frames: model.TrendFrames{
			M3: tf.M3.toModel(), M5: tf.M5.toModel(), M15: tf.M15.toModel(), M30: tf.M30.toModel(),
			H1: tf.H1.toModel(), H4: tf.H4.toModel(), W1: tf.W1.toModel(), MO1: tf.MO1.toModel(),
		},
		Timestamp: p.Timestamp.Time(),
	}
}

type exitPayload struct {
	LedgerID        string          `json:"ledger_id" validate:"required,max=64"`
	ExitPrice       fastparse.Float `json:"exit_price" validate:"gte=0"`
	UnderlyingPrice fastparse.Float `json:"underlying_price" validate:"gt=0"`
	ExitIV          fastparse.Float `json:"exit_iv" validate:"gte=0,lte=5"`
	Reason          string          `json:"reason" validate:"required,oneof=TARGET_1 TARGET_2 STOP_LOSS TIME_EXIT EXPIRED MANUAL"`
	Timestamp       flexTime        `json:"timestamp"`
}

func (p *exitPayload) normalize() {
	p.LedgerID = strings.TrimSpace(p.LedgerID)
	p.Reason = upper(p.Reason)
}

func (p *exitPayload) toModel() *Exit {
	return &Exit{
		LedgerID: p.LedgerID,
		Request: exit.Request{
			ExitTime:        p.Timestamp.Time(),
			UnderlyingPrice: p.UnderlyingPrice.Value(),
			ExitPrice:       p.ExitPrice.Value(),
			ExitIV:          p.ExitIV.Value(),
			Reason:          model.ExitReason(p.Reason),
		},
	}
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// normalizeTicker 去掉交易所前缀（NASDAQ:QQQ）并转大写
func normalizeTicker(s string) string {
	s = upper(s)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// normalizeTimeframe 统一周期写法：分钟数与大小写变体都映射到标准标识
func normalizeTimeframe(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "3", "3m":
		return "3m"
	case "5", "5m":
		return "5m"
	case "15", "15m":
		return "15m"
	case "30", "30m":
		return "30m"
	case "60", "1h":
		return "1h"
	case "240", "4h":
		return "4h"
	case "d", "1d", "1440":
		return "1D"
	default:
		return strings.TrimSpace(s)
	}
}

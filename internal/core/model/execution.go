package model

import "time"

// Contract 期权合约
type Contract struct {
	Ticker     string     `json:"ticker"`
	OptionType OptionType `json:"option_type"`
	Strike     float64    `json:"strike"`
	// Expiry 到期日（交易所时区 00:00）
	Expiry time.Time `json:"expiry"`
	// DTE 到期天数
	DTE int `json:"dte"`
	// ImpliedVol 定价使用的隐含波动率（小数）
	ImpliedVol float64 `json:"implied_vol"`
}

// Bucket 返回合约的到期分组
func (c Contract) Bucket() DTEBucket {
	return BucketForDTE(c.DTE)
}

// Greeks 期权希腊值（多头视角）
// Theta 为每自然日，Vega 为每 1 个波动率点。
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Execution 模拟成交结果，生成后不可变
type Execution struct {
	Contract
	// Contracts 请求张数
	Contracts int `json:"contracts"`
	// FilledContracts 实际成交张数
	FilledContracts int `json:"filled_contracts"`
	// EntryPrice 每股成交价（含半价差与滑点，按最小报价单位向上取整）
	EntryPrice float64 `json:"entry_price"`
	// TheoreticalPrice 模型中间价
	TheoreticalPrice float64 `json:"theoretical_price"`
	// AskPrice 模拟卖一价
	AskPrice    float64 `json:"ask_price"`
	EntryGreeks Greeks  `json:"entry_greeks"`
	// GreeksFallback 是否使用了保守默认值
	GreeksFallback bool        `json:"greeks_fallback"`
	SpreadPct      float64     `json:"spread_pct"`
	SpreadCost     float64     `json:"spread_cost"`
	SlippageCost   float64     `json:"slippage_cost"`
	Commission     float64     `json:"commission"`
	FillQuality    FillQuality `json:"fill_quality"`
	// UnderlyingPrice 入场时标的价格
	UnderlyingPrice float64 `json:"underlying_price"`
	// Multiplier 合约乘数（美股期权 100）
	Multiplier int       `json:"multiplier"`
	DTEBucket  DTEBucket `json:"dte_bucket"`
	EntryTime  time.Time `json:"entry_time"`
}

// PremiumPaid 实付权利金（美元）
func (e *Execution) PremiumPaid() float64 {
	return e.EntryPrice * float64(e.Multiplier) * float64(e.FilledContracts)
}

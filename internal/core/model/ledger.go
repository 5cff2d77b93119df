package model

import "time"

// Attribution 盈亏按希腊值拆分，四项之和等于毛利
type Attribution struct {
	PnLFromDelta float64 `json:"pnl_from_delta"`
	PnLFromIV    float64 `json:"pnl_from_iv"`
	PnLFromTheta float64 `json:"pnl_from_theta"`
	PnLFromGamma float64 `json:"pnl_from_gamma"`
}

// Sum 四项之和
func (a Attribution) Sum() float64 {
	return a.PnLFromDelta + a.PnLFromIV + a.PnLFromTheta + a.PnLFromGamma
}

// ExitData 平仓数据，只能在账本记录上追加一次
type ExitData struct {
	ExitTime        time.Time  `json:"exit_time"`
	ExitPrice       float64    `json:"exit_price"`
	UnderlyingPrice float64    `json:"underlying_price"`
	ExitIV          float64    `json:"exit_iv"`
	ExitGreeks      Greeks     `json:"exit_greeks"`
	ExitReason      ExitReason `json:"exit_reason"`
	PnLGross        float64    `json:"pnl_gross"`
	PnLNet          float64    `json:"pnl_net"`
	// HoldMinutes 持仓时长（分钟）
	HoldMinutes  int64       `json:"hold_minutes"`
	HoldDays     float64     `json:"hold_days"`
	Attribution  Attribution `json:"attribution"`
	Commission   float64     `json:"commission"`
	SpreadCost   float64     `json:"spread_cost"`
	SlippageCost float64     `json:"slippage_cost"`
	TotalCosts   float64     `json:"total_costs"`
	RiskAmount   float64     `json:"risk_amount"`
	RealizedR    float64     `json:"realized_r"`
}

// RegimeSnapshot 决策时刻的市场状态摘要
type RegimeSnapshot struct {
	RegimeBias     Bias          `json:"regime_bias"`
	BiasBias       Bias          `json:"bias_bias"`
	SetupBias      Bias          `json:"setup_bias"`
	StructuralBias Bias          `json:"structural_bias"`
	TrendDominant  Bias          `json:"trend_dominant"`
	TrendStrength  TrendStrength `json:"trend_strength"`
	TrendScore     float64       `json:"trend_score"`
	Session        Session       `json:"session"`
	Weekday        string        `json:"weekday"`
}

// HypotheticalStatus 假设结果状态
type HypotheticalStatus string

// HypotheticalPending 等待外部分析回填
const HypotheticalPending HypotheticalStatus = "PENDING"

// HypotheticalOutcome 未执行信号的假设交易
type HypotheticalOutcome struct {
	Contract         Contract           `json:"contract"`
	TheoreticalPrice float64            `json:"theoretical_price"`
	Greeks           Greeks             `json:"greeks"`
	Contracts        int                `json:"contracts"`
	Status           HypotheticalStatus `json:"status"`
}

// LedgerEntry 账本记录
// 决策时追加一次；之后只允许写入一次 Exit，其余字段冻结。
type LedgerEntry struct {
	ID            string               `json:"id"`
	CreatedAt     time.Time            `json:"created_at"`
	EngineVersion string               `json:"engine_version"`
	Signal        *Signal              `json:"signal"`
	Phase         *PhaseContext        `json:"phase_context,omitempty"`
	Decision      Decision             `json:"decision"`
	Execution     *Execution           `json:"execution,omitempty"`
	Exit          *ExitData            `json:"exit,omitempty"`
	Regime        RegimeSnapshot       `json:"regime"`
	Hypothetical  *HypotheticalOutcome `json:"hypothetical,omitempty"`
}

// Timeframe 返回触发信号周期（用于查询过滤）
func (e *LedgerEntry) Timeframe() Timeframe {
	if e.Signal != nil {
		return e.Signal.Timeframe
	}
	return ""
}

// Quality 返回触发信号质量
func (e *LedgerEntry) Quality() Quality {
	if e.Signal != nil {
		return e.Signal.Quality
	}
	return ""
}

// DTEBucket 返回成交或假设合约的到期分组；均无时为空
func (e *LedgerEntry) DTEBucket() DTEBucket {
	switch {
	case e.Execution != nil:
		return e.Execution.DTEBucket
	case e.Hypothetical != nil:
		return e.Hypothetical.Contract.Bucket()
	default:
		return ""
	}
}

// Clone 深拷贝，账本内部保存与返回的都是独立副本
func (e *LedgerEntry) Clone() *LedgerEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Signal = e.Signal.Clone()
	c.Decision.Signal = e.Decision.Signal.Clone()
	if e.Phase != nil {
		pc := PhaseContext{}
		for _, role := range []PhaseRole{RoleRegime, RoleBias, RoleSetup, RoleStructural} {
			if p := e.Phase.Get(role); p != nil {
				cp := *p
				switch role {
				case RoleRegime:
					pc.Regime = &cp
				case RoleBias:
					pc.Bias = &cp
				case RoleSetup:
					pc.Setup = &cp
				case RoleStructural:
					pc.Structural = &cp
				}
			}
		}
		c.Phase = &pc
	}
	if e.Execution != nil {
		x := *e.Execution
		c.Execution = &x
	}
	if e.Exit != nil {
		x := *e.Exit
		c.Exit = &x
	}
	if e.Hypothetical != nil {
		h := *e.Hypothetical
		c.Hypothetical = &h
	}
	return &c
}

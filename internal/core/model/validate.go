package model

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// ErrInvalid 记录包含非有限数值或越界枚举
var ErrInvalid = errors.New("记录不合法")

// checker 收集字段问题
type checker struct {
	err error
}

func (c *checker) finite(field string, vals ...float64) {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			c.err = multierr.Append(c.err, fmt.Errorf("%s: 非有限数值 %v", field, v))
			return
		}
	}
}

func (c *checker) enum(field string, ok bool, v any) {
	if !ok {
		c.err = multierr.Append(c.err, fmt.Errorf("%s: 非法取值 %q", field, fmt.Sprint(v)))
	}
}

func (c *checker) nested(field string, err error) {
	if err != nil {
		c.err = multierr.Append(c.err, fmt.Errorf("%s: %w", field, err))
	}
}

func (c *checker) result() error {
	if c.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, c.err)
}

// Validate 校验信号
func (s *Signal) Validate() error {
	var c checker
	c.enum("direction", s.Direction.Valid(), s.Direction)
	c.enum("timeframe", s.Timeframe.Valid(), s.Timeframe)
	c.enum("quality", s.Quality.Valid(), s.Quality)
	if s.Session != "" {
		c.enum("session", s.Session.Valid(), s.Session)
	}
	if s.Trend.Alignment != "" {
		c.enum("trend_context.alignment", s.Trend.Alignment.Valid(), s.Trend.Alignment)
	}
	c.finite("ai_score", s.AIScore)
	c.finite("price", s.Price)
	c.finite("entry", s.Entry.Price, s.Entry.StopLoss, s.Entry.Target1, s.Entry.Target2)
	c.finite("risk", s.Risk.Amount, s.Risk.RRRatioT1, s.Risk.RRRatioT2, s.Risk.StopDistancePct,
		s.Risk.RecommendedShares, s.Risk.RecommendedContracts, s.Risk.PositionMultiplier)
	c.finite("market_context", s.Market.VWAP, s.Market.PremarketHigh, s.Market.PremarketLow, s.Market.DayOpen,
		s.Market.DayChangePct, s.Market.PriceVsVWAPPct, s.Market.ATR, s.Market.VolumeVsAvg, s.Market.ImpliedVol)
	c.finite("trend_context", s.Trend.EMA8, s.Trend.EMA21, s.Trend.EMA50, s.Trend.Strength, s.Trend.RSI)
	return c.result()
}

// Validate 校验阶段
func (p *Phase) Validate() error {
	var c checker
	c.enum("timeframe", p.Timeframe.Valid(), p.Timeframe)
	c.enum("role", p.Role.Valid(), p.Role)
	c.enum("bias", p.Bias.Valid(), p.Bias)
	c.enum("tier", p.Tier.Valid(), p.Tier)
	c.finite("confidence_score", p.ConfidenceScore)
	return c.result()
}

// Validate 校验趋势快照
func (t *Trend) Validate() error {
	var c checker
	c.finite("price", t.Price)
	for i, fr := range t.Frames.All() {
		c.enum(fmt.Sprintf("timeframes[%d].direction", i), fr.Direction.Valid(), fr.Direction)
		c.finite(fmt.Sprintf("timeframes[%d]", i), fr.Open, fr.Close)
	}
	return c.result()
}

// Validate 校验决策
func (d *Decision) Validate() error {
	var c checker
	c.enum("decision", d.Verdict.Valid(), d.Verdict)
	if d.Direction != "" || d.Verdict != VerdictWait {
		c.enum("direction", d.Direction.Valid(), d.Direction)
	}
	c.finite("confluence_score", d.ConfluenceScore)
	c.finite("stop_loss", d.StopLoss, d.Target1, d.Target2)
	b := d.Breakdown
	c.enum("breakdown.htf_alignment", b.HTFAlignment.Valid(), b.HTFAlignment)
	c.finite("breakdown", b.ConfluenceScore, b.ConfluenceMultiplier, b.QualityMultiplier, b.HTFAlignmentMultiplier,
		b.RRRatio, b.RRMultiplier, b.VolumeMultiplier, b.TrendStrengthMultiplier, b.SessionMultiplier,
		b.DayOfWeekMultiplier, b.PhaseConfidenceBoost, b.PhasePositionBoost, b.TrendAlignmentBoost,
		b.RawMultiplier, b.FinalMultiplier)
	if d.Signal != nil {
		c.nested("signal", d.Signal.Validate())
	}
	return c.result()
}

// Validate 校验成交
func (e *Execution) Validate() error {
	var c checker
	c.enum("option_type", e.OptionType.Valid(), e.OptionType)
	c.enum("fill_quality", e.FillQuality.Valid(), e.FillQuality)
	c.enum("dte_bucket", e.DTEBucket.Valid(), e.DTEBucket)
	c.finite("prices", e.Strike, e.ImpliedVol, e.EntryPrice, e.TheoreticalPrice, e.AskPrice, e.UnderlyingPrice)
	c.finite("entry_greeks", e.EntryGreeks.Delta, e.EntryGreeks.Gamma, e.EntryGreeks.Theta, e.EntryGreeks.Vega)
	c.finite("costs", e.SpreadPct, e.SpreadCost, e.SlippageCost, e.Commission)
	return c.result()
}

// Validate 校验平仓数据
func (x *ExitData) Validate() error {
	var c checker
	c.enum("exit_reason", x.ExitReason.Valid(), x.ExitReason)
	c.finite("prices", x.ExitPrice, x.UnderlyingPrice, x.ExitIV)
	c.finite("exit_greeks", x.ExitGreeks.Delta, x.ExitGreeks.Gamma, x.ExitGreeks.Theta, x.ExitGreeks.Vega)
	c.finite("pnl", x.PnLGross, x.PnLNet, x.HoldDays, x.RiskAmount, x.RealizedR)
	c.finite("attribution", x.Attribution.PnLFromDelta, x.Attribution.PnLFromIV, x.Attribution.PnLFromTheta, x.Attribution.PnLFromGamma)
	c.finite("costs", x.Commission, x.SpreadCost, x.SlippageCost, x.TotalCosts)
	return c.result()
}

// Validate 校验账本记录（不含 ID/CreatedAt，这两项由账本分配）
func (e *LedgerEntry) Validate() error {
	var c checker
	if e.Signal == nil {
		c.err = multierr.Append(c.err, errors.New("signal: 缺少信号快照"))
	} else {
		c.nested("signal", e.Signal.Validate())
	}
	c.nested("decision", e.Decision.Validate())
	if e.Execution != nil {
		c.nested("execution", e.Execution.Validate())
	}
	if e.Exit != nil {
		c.nested("exit", e.Exit.Validate())
	}
	if e.Phase != nil {
		for _, role := range []PhaseRole{RoleRegime, RoleBias, RoleSetup, RoleStructural} {
			if p := e.Phase.Get(role); p != nil {
				c.nested("phase_context."+string(role), p.Validate())
			}
		}
	}
	r := e.Regime
	c.enum("regime.regime_bias", r.RegimeBias.Valid(), r.RegimeBias)
	c.enum("regime.bias_bias", r.BiasBias.Valid(), r.BiasBias)
	c.enum("regime.setup_bias", r.SetupBias.Valid(), r.SetupBias)
	c.enum("regime.structural_bias", r.StructuralBias.Valid(), r.StructuralBias)
	c.enum("regime.trend_dominant", r.TrendDominant.Valid(), r.TrendDominant)
	c.enum("regime.trend_strength", r.TrendStrength.Valid(), r.TrendStrength)
	c.enum("regime.session", r.Session.Valid(), r.Session)
	c.finite("regime.trend_score", r.TrendScore)
	if h := e.Hypothetical; h != nil {
		c.enum("hypothetical.option_type", h.Contract.OptionType.Valid(), h.Contract.OptionType)
		c.finite("hypothetical", h.Contract.Strike, h.Contract.ImpliedVol, h.TheoreticalPrice,
			h.Greeks.Delta, h.Greeks.Gamma, h.Greeks.Theta, h.Greeks.Vega)
	}
	return c.result()
}

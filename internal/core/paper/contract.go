package paper

import (
	"errors"
	"fmt"
	"math"
	"time"

	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/timeutil"
)

// ErrInvalidContract 合约参数非法（行权价或张数非正、DTE 为负）
var ErrInvalidContract = errors.New("合约参数非法")

// strikeCandidates 中心行权价两侧各取的档数
const strikeCandidates = 5

// strikeStep 行权价网格步长
func strikeStep(price float64) float64 {
	switch {
	case price < 25:
		return 0.5
	case price < 100:
		return 1
	case price < 250:
		return 2.5
	default:
		return 5
	}
}

// targetDelta 各到期分组的目标 |delta|
func targetDelta(b model.DTEBucket) float64 {
	switch b {
	case model.BucketMonthly:
		return 0.60
	case model.BucketLeap:
		return 0.70
	default:
		return 0.50
	}
}

// dteFor 按信号周期确定到期天数
// <=5m 当日到期；<=1h 下一个周五（当天为周五取下周）；<=4h 第 30 天起的第一个周五；其余 LEAP。
func (e *Executor) dteFor(tf model.Timeframe, at time.Time) int {
	m := tf.Minutes()
	switch {
	case m <= 5:
		return 0
	case m <= 60:
		return timeutil.DaysUntil(at, time.Friday, false)
	case m <= 240:
		return 30 + timeutil.DaysUntil(timeutil.MarketDate(at, 30), time.Friday, true)
	default:
		return e.cfg.LeapDays
	}
}

func (e *Executor) impliedVol(sig *model.Signal) float64 {
	iv := sig.Market.ImpliedVol
	if iv > 0 && !math.IsInf(iv, 0) && !math.IsNaN(iv) {
		return iv
	}
	return e.cfg.DefaultIV
}

// SelectContract 选择合约
// 在入场价附近的行权价网格上取 |delta| 最接近目标的档位；
// 距离相同取更接近入场价者，再相同取较低行权价。
func (e *Executor) SelectContract(sig *model.Signal, d *model.Decision) (model.Contract, error) {
	if sig == nil {
		return model.Contract{}, fmt.Errorf("%w: 缺少信号", ErrInvalidContract)
	}
	dir := sig.Direction
	if d != nil && d.Direction.Valid() {
		dir = d.Direction
	}
	typ := model.OptionCall
	if dir == model.DirectionShort {
		typ = model.OptionPut
	}

	at := sig.Timestamp
	if at.IsZero() {
		at = e.clock()
	}
	dte := e.dteFor(sig.Timeframe, at)

	c := model.Contract{
		Ticker:     sig.Ticker,
		OptionType: typ,
		DTE:        dte,
		Expiry:     timeutil.MarketDate(at, dte),
		ImpliedVol: e.impliedVol(sig),
	}

	spot := sig.UnderlyingPrice()
	ref := sig.Entry.Price
	if ref <= 0 {
		ref = spot
	}
	if ref <= 0 || spot <= 0 || math.IsNaN(ref) || math.IsNaN(spot) {
		return c, fmt.Errorf("%w: 标的价格 %v 非法", ErrInvalidContract, spot)
	}

	step := strikeStep(ref)
	center := math.Round(ref/step) * step
	target := targetDelta(c.Bucket())

	best, bestDiff := center, math.Inf(1)
	for k := -strikeCandidates; k <= strikeCandidates; k++ {
		strike := center + float64(k)*step
		if strike <= 0 {
			continue
		}
		p, err := BlackScholes(typ, spot, strike, float64(dte), c.ImpliedVol, e.cfg.RiskFreeRate)
		if err != nil {
			continue
		}
		diff := math.Abs(math.Abs(p.Greeks.Delta) - target)
		better := diff < bestDiff-1e-12 ||
			(math.Abs(diff-bestDiff) <= 1e-12 && closerStrike(strike, best, ref))
		if better {
			best, bestDiff = strike, diff
		}
	}
	c.Strike = best
	return c, nil
}

// closerStrike a 是否比 b 更优：更接近 ref，距离相同取较低者
func closerStrike(a, b, ref float64) bool {
	da, db := math.Abs(a-ref), math.Abs(b-ref)
	if da != db {
		return da < db
	}
	return a < b
}

// validateContract 成交前的参数检查
func validateContract(c model.Contract, contracts int) error {
	switch {
	case !(c.Strike > 0):
		return fmt.Errorf("%w: strike=%v", ErrInvalidContract, c.Strike)
	case c.DTE < 0:
		return fmt.Errorf("%w: dte=%d", ErrInvalidContract, c.DTE)
	case contracts <= 0:
		return fmt.Errorf("%w: contracts=%d", ErrInvalidContract, contracts)
	case !c.OptionType.Valid():
		return fmt.Errorf("%w: option_type=%q", ErrInvalidContract, c.OptionType)
	default:
		return nil
	}
}

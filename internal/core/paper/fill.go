package paper

import (
	"math"

	"github.com/shopspring/decimal"

	"confluence-paper-trader/internal/core/model"
)

// 权利金在此区间内线性决定价差在分组区间中的位置：越便宜价差越宽
const (
	cheapPremium = 0.50
	richPremium  = 10.0
)

// spreadBand 各到期分组的买卖价差区间（相对中间价）
func spreadBand(b model.DTEBucket) (lo, hi float64) {
	switch b {
	case model.Bucket0DTE:
		return 0.03, 0.05
	case model.BucketWeekly:
		return 0.02, 0.03
	case model.BucketMonthly:
		return 0.01, 0.02
	default:
		return 0.005, 0.01
	}
}

// SpreadPct 按分组与权利金确定价差比例
func SpreadPct(b model.DTEBucket, premium float64) float64 {
	lo, hi := spreadBand(b)
	w := (premium - cheapPremium) / (richPremium - cheapPremium)
	w = math.Max(0, math.Min(1, w))
	return hi - (hi-lo)*w
}

// Fill 模拟成交明细
type Fill struct {
	Theoretical  float64
	Ask          float64
	Entry        float64
	SpreadPct    float64
	SpreadCost   float64
	SlippageCost float64
	Commission   float64
	Filled       int
	Quality      model.FillQuality
}

// ceilCent 向上取整到 0.01
func ceilCent(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).RoundCeil(2).Float64()
	return math.Max(f, 0.01)
}

// SimulateFill 模拟买入成交
// 成交价 = 中间价 × (1 + 价差/2) + 中间价 × 滑点，向上取整到最小报价单位，保证不低于卖一价。
// 超过部分成交阈值时只成交 floor(张数 × 比例)，至少 1 张。
func (e *Executor) SimulateFill(c model.Contract, theo float64, contracts int) (Fill, error) {
	if err := validateContract(c, contracts); err != nil {
		return Fill{}, err
	}
	if !(theo > 0) || math.IsInf(theo, 0) {
		theo = e.cfg.MinPremium
	}

	f := Fill{
		Theoretical: theo,
		SpreadPct:   SpreadPct(c.Bucket(), theo),
		Filled:      contracts,
		Quality:     model.FillFull,
	}
	if contracts > e.cfg.PartialFillThreshold {
		f.Filled = int(math.Floor(float64(contracts) * e.cfg.PartialFillRatio))
		if f.Filled < 1 {
			f.Filled = 1
		}
		f.Quality = model.FillPartial
	}

	f.Ask = theo * (1 + f.SpreadPct/2)
	f.Entry = ceilCent(f.Ask + theo*e.cfg.SlippagePct)

	units := e.cfg.ContractMultiplier * float64(f.Filled)
	f.SpreadCost = (f.Ask - theo) * units
	f.SlippageCost = (f.Entry - f.Ask) * units
	f.Commission = e.cfg.CommissionPerContract * float64(f.Filled)
	return f, nil
}

package paper

import (
	"errors"
	"fmt"
	"math"

	"confluence-paper-trader/internal/core/model"
)

// ErrGreeks 输入或结果非有限，无法计算 Greeks
var ErrGreeks = errors.New("greeks 计算失败")

// minSqrtT sqrt(T) 下限，防止 0DTE 时除零
const minSqrtT = 0.001

// Abramowitz & Stegun 26.2.17 系数
const (
	asP  = 0.2316419
	asB1 = 0.319381530
	asB2 = -0.356563782
	asB3 = 1.781477937
	asB4 = -1.821255978
	asB5 = 1.330274429
)

// normPDF 标准正态密度
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// normCDF 标准正态分布函数，有理多项式近似（绝对误差 < 7.5e-8）
func normCDF(x float64) float64 {
	if x < 0 {
		return 1 - normCDF(-x)
	}
	t := 1 / (1 + asP*x)
	poly := t * (asB1 + t*(asB2+t*(asB3+t*(asB4+t*asB5))))
	return 1 - normPDF(x)*poly
}

// Pricing 定价结果
type Pricing struct {
	// Price 理论中间价（每股）
	Price  float64
	Greeks model.Greeks
}

// BlackScholes 欧式期权定价
// 参数 dteDays: 剩余自然日，可为小数；0 表示当日到期
// 参数 iv: 年化隐含波动率（小数）
// 参数 rate: 无风险利率（年化小数）
// 返回的 Greeks 满足 -1<=delta<=1、gamma>=0、vega>=0、theta<=0。
func BlackScholes(typ model.OptionType, spot, strike, dteDays, iv, rate float64) (Pricing, error) {
	for _, v := range []float64{spot, strike, dteDays, iv, rate} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Pricing{}, fmt.Errorf("%w: 非有限输入", ErrGreeks)
		}
	}
	if spot <= 0 || strike <= 0 || iv <= 0 || dteDays < 0 {
		return Pricing{}, fmt.Errorf("%w: spot=%v strike=%v iv=%v dte=%v", ErrGreeks, spot, strike, iv, dteDays)
	}
	if !typ.Valid() {
		return Pricing{}, fmt.Errorf("%w: 未知期权类型 %q", ErrGreeks, typ)
	}

	sqrtT := math.Max(math.Sqrt(dteDays/365), minSqrtT)
	t := sqrtT * sqrtT
	volT := iv * sqrtT
	d1 := (math.Log(spot/strike) + (rate+0.5*iv*iv)*t) / volT
	d2 := d1 - volT
	disc := strike * math.Exp(-rate*t)
	pdf := normPDF(d1)

	var p Pricing
	decay := -spot * pdf * iv / (2 * sqrtT)
	if typ == model.OptionCall {
		p.Price = spot*normCDF(d1) - disc*normCDF(d2)
		p.Greeks.Delta = normCDF(d1)
		p.Greeks.Theta = (decay - rate*disc*normCDF(d2)) / 365
	} else {
		p.Price = disc*normCDF(-d2) - spot*normCDF(-d1)
		p.Greeks.Delta = normCDF(d1) - 1
		p.Greeks.Theta = (decay + rate*disc*normCDF(-d2)) / 365
	}
	p.Greeks.Gamma = pdf / (spot * volT)
	p.Greeks.Vega = spot * pdf * sqrtT / 100

	p.Price = math.Max(p.Price, 0)
	p.Greeks.Delta = math.Max(-1, math.Min(1, p.Greeks.Delta))
	p.Greeks.Gamma = math.Max(p.Greeks.Gamma, 0)
	p.Greeks.Vega = math.Max(p.Greeks.Vega, 0)
	// 深度实值看跌的 theta 可能为正，按多头持仓口径截断
	p.Greeks.Theta = math.Min(p.Greeks.Theta, 0)

	for _, v := range []float64{p.Price, p.Greeks.Delta, p.Greeks.Gamma, p.Greeks.Theta, p.Greeks.Vega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Pricing{}, fmt.Errorf("%w: 非有限结果", ErrGreeks)
		}
	}
	return p, nil
}

// Intrinsic 内在价值
func Intrinsic(typ model.OptionType, spot, strike float64) float64 {
	if typ == model.OptionPut {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

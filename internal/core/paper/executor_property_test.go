package paper

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"confluence-paper-trader/internal/core/model"
)

func optionTypeGen() gopter.Gen {
	return gen.Bool().Map(func(call bool) model.OptionType {
		if call {
			return model.OptionCall
		}
		return model.OptionPut
	})
}

func TestGreeks_Validity_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("delta∈[-1,1]，gamma/vega>=0，theta<=0", prop.ForAll(
		func(typ model.OptionType, spot, moneyness float64, dte int, iv float64) bool {
			p, err := BlackScholes(typ, spot, spot*moneyness, float64(dte), iv, 0.05)
			if err != nil {
				return false
			}
			g := p.Greeks
			return g.Delta >= -1 && g.Delta <= 1 && g.Gamma >= 0 && g.Vega >= 0 && g.Theta <= 0 && p.Price >= 0
		},
		optionTypeGen(),
		gen.Float64Range(1, 5000),
		gen.Float64Range(0.5, 1.5),
		gen.IntRange(0, 800),
		gen.Float64Range(0.05, 2.0),
	))

	properties.Property("看涨 delta 为正，看跌 delta 为负", prop.ForAll(
		func(spot, moneyness float64, dte int) bool {
			c, err1 := BlackScholes(model.OptionCall, spot, spot*moneyness, float64(dte), 0.3, 0.05)
			p, err2 := BlackScholes(model.OptionPut, spot, spot*moneyness, float64(dte), 0.3, 0.05)
			return err1 == nil && err2 == nil && c.Greeks.Delta >= 0 && p.Greeks.Delta <= 0
		},
		gen.Float64Range(1, 5000),
		gen.Float64Range(0.8, 1.2),
		gen.IntRange(0, 400),
	))

	properties.TestingRun(t)
}

func TestNormCDF_Accuracy_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 1000
	properties := gopter.NewProperties(parameters)

	properties.Property("与 erfc 精确值误差 < 1e-7", prop.ForAll(
		func(x float64) bool {
			exact := 0.5 * math.Erfc(-x/math.Sqrt2)
			return math.Abs(normCDF(x)-exact) < 1e-7
		},
		gen.Float64Range(-10, 10),
	))

	properties.TestingRun(t)
}

func TestSimulateFill_Invariants_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)
	e := newTestExecutor()

	properties.Property("成交价不低于卖一价，价差在分组区间内，部分成交规则", prop.ForAll(
		func(dte int, theo float64, contracts int) bool {
			c := model.Contract{OptionType: model.OptionCall, Strike: 100, DTE: dte}
			f, err := e.SimulateFill(c, theo, contracts)
			if err != nil {
				return false
			}
			lo, hi := spreadBand(c.Bucket())
			if f.SpreadPct < lo || f.SpreadPct > hi {
				return false
			}
			if f.Entry < f.Ask || f.Ask < f.Theoretical {
				return false
			}
			if contracts > 50 {
				return f.Quality == model.FillPartial && f.Filled == int(math.Floor(float64(contracts)*0.85))
			}
			return f.Quality == model.FillFull && f.Filled == contracts &&
				math.Abs(f.Commission-0.65*float64(contracts)) < 1e-9
		},
		gen.IntRange(0, 800),
		gen.Float64Range(0.01, 80),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}

// Package paper 实现期权影子成交：选约、Black-Scholes 定价与成交模拟。
// 重要：仅用于研究，严禁真实下单。
package paper

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/timeutil"
)

// ErrNotExecutable 决策不是 EXECUTE
var ErrNotExecutable = errors.New("决策不可执行")

// Executor 影子成交执行器
// 无内部可变状态，可被多个 goroutine 并发调用。
type Executor struct {
	cfg   config.PaperConfig
	clock timeutil.Clock
	log   *zap.Logger
}

// NewExecutor 创建影子成交执行器
// 参数 cfg: 影子成交配置
// 参数 clock: 信号缺少时间戳时使用；为 nil 时使用系统时钟
func NewExecutor(cfg config.PaperConfig, clock timeutil.Clock, log *zap.Logger) *Executor {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{cfg: cfg, clock: clock, log: log.Named("paper")}
}

// CalculateGreeks 计算合约 Greeks
// 计算失败时返回保守默认值（delta ±0.5，其余为 0，价格取内在价值与最低权利金的较大者）并记录告警，
// 第三个返回值标记是否使用了默认值。
func (e *Executor) CalculateGreeks(c model.Contract, underlying float64) (Pricing, bool) {
	p, err := BlackScholes(c.OptionType, underlying, c.Strike, float64(c.DTE), c.ImpliedVol, e.cfg.RiskFreeRate)
	if err == nil {
		return p, false
	}

	e.log.Warn("Greeks 计算失败，使用保守默认值",
		zap.String("ticker", c.Ticker),
		zap.String("option_type", string(c.OptionType)),
		zap.Float64("strike", c.Strike),
		zap.Int("dte", c.DTE),
		zap.Float64("underlying", underlying),
		zap.Error(err),
	)
	return e.fallback(c, underlying), true
}

func (e *Executor) fallback(c model.Contract, underlying float64) Pricing {
	delta := 0.5
	if c.OptionType == model.OptionPut {
		delta = -0.5
	}
	intrinsic := 0.0
	if underlying > 0 && !math.IsInf(underlying, 0) && c.Strike > 0 {
		intrinsic = Intrinsic(c.OptionType, underlying, c.Strike)
	}
	return Pricing{
		Price:  math.Max(intrinsic, e.cfg.MinPremium),
		Greeks: model.Greeks{Delta: delta},
	}
}

// Execute 为 EXECUTE 决策生成模拟成交
// 合约参数非法时返回 ErrInvalidContract；定价失败不会返回错误。
func (e *Executor) Execute(sig *model.Signal, d *model.Decision) (*model.Execution, error) {
	if d == nil || d.Verdict != model.VerdictExecute {
		return nil, ErrNotExecutable
	}
	if sig == nil {
		sig = d.Signal
	}
	c, err := e.SelectContract(sig, d)
	if err != nil {
		return nil, err
	}
	if err := validateContract(c, d.RecommendedContracts); err != nil {
		return nil, err
	}

	spot := sig.UnderlyingPrice()
	pricing, fallback := e.CalculateGreeks(c, spot)
	fill, err := e.SimulateFill(c, pricing.Price, d.RecommendedContracts)
	if err != nil {
		return nil, fmt.Errorf("模拟成交失败: %w", err)
	}

	at := sig.Timestamp
	if at.IsZero() {
		at = e.clock()
	}
	return &model.Execution{
		Contract:         c,
		Contracts:        d.RecommendedContracts,
		FilledContracts:  fill.Filled,
		EntryPrice:       fill.Entry,
		TheoreticalPrice: fill.Theoretical,
		AskPrice:         fill.Ask,
		EntryGreeks:      pricing.Greeks,
		GreeksFallback:   fallback,
		SpreadPct:        fill.SpreadPct,
		SpreadCost:       fill.SpreadCost,
		SlippageCost:     fill.SlippageCost,
		Commission:       fill.Commission,
		FillQuality:      fill.Quality,
		UnderlyingPrice:  spot,
		Multiplier:       int(e.cfg.ContractMultiplier),
		DTEBucket:        c.Bucket(),
		EntryTime:        at.UTC(),
	}, nil
}

// Quote 为 WAIT/SKIP 决策给出假设合约与理论价，结果状态为 PENDING
func (e *Executor) Quote(sig *model.Signal, d *model.Decision) (*model.HypotheticalOutcome, error) {
	if sig == nil {
		return nil, fmt.Errorf("%w: 缺少信号", ErrInvalidContract)
	}
	c, err := e.SelectContract(sig, d)
	if err != nil {
		return nil, err
	}
	contracts := 1
	if d != nil && d.RecommendedContracts > 0 {
		contracts = d.RecommendedContracts
	}
	pricing, _ := e.CalculateGreeks(c, sig.UnderlyingPrice())
	return &model.HypotheticalOutcome{
		Contract:         c,
		TheoreticalPrice: pricing.Price,
		Greeks:           pricing.Greeks,
		Contracts:        contracts,
		Status:           model.HypotheticalPending,
	}, nil
}

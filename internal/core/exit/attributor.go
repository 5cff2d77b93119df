// Package exit 计算平仓盈亏并按希腊值拆分归因。
package exit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/core/paper"
	"confluence-paper-trader/internal/util/timeutil"
)

// ErrInvalidExit 平仓请求非法
var ErrInvalidExit = errors.New("平仓请求非法")

// Request 平仓请求
type Request struct {
	ExitTime time.Time
	// UnderlyingPrice 平仓时标的价格
	UnderlyingPrice float64
	// ExitPrice 期权每股平仓价；<=0 时按模型中间价估算
	ExitPrice float64
	// ExitIV 平仓时隐含波动率；<=0 时沿用入场 IV
	ExitIV float64
	Reason model.ExitReason
}

// Attributor 平仓归因器，无状态
type Attributor struct {
	cfg config.PaperConfig
	log *zap.Logger
}

// NewAttributor 创建平仓归因器
func NewAttributor(cfg config.PaperConfig, log *zap.Logger) *Attributor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Attributor{cfg: cfg, log: log.Named("exit")}
}

// AttributePnL 计算平仓数据
// 毛利 = (平仓价 - 入场价) × 乘数 × 成交张数，拆分为 delta / theta / iv 三项一阶贡献，
// gamma 项取残差，四项之和恒等于毛利。
// 参数 sig: 入场信号，用于取风险金额；可为空
func (a *Attributor) AttributePnL(exec *model.Execution, sig *model.Signal, req Request) (model.ExitData, error) {
	if exec == nil {
		return model.ExitData{}, fmt.Errorf("%w: 缺少成交记录", ErrInvalidExit)
	}
	if !(req.UnderlyingPrice > 0) || math.IsInf(req.UnderlyingPrice, 0) {
		return model.ExitData{}, fmt.Errorf("%w: underlying_price=%v", ErrInvalidExit, req.UnderlyingPrice)
	}
	if math.IsNaN(req.ExitPrice) || math.IsInf(req.ExitPrice, 0) || math.IsNaN(req.ExitIV) || math.IsInf(req.ExitIV, 0) {
		return model.ExitData{}, fmt.Errorf("%w: 非有限平仓价或 IV", ErrInvalidExit)
	}
	if !req.Reason.Valid() {
		return model.ExitData{}, fmt.Errorf("%w: exit_reason=%q", ErrInvalidExit, req.Reason)
	}
	if req.ExitTime.IsZero() {
		return model.ExitData{}, fmt.Errorf("%w: 缺少平仓时间", ErrInvalidExit)
	}

	holdDays := timeutil.HoldDays(exec.EntryTime, req.ExitTime)
	remaining := math.Max(float64(exec.DTE)-holdDays, 0)

	exitIV := req.ExitIV
	if exitIV <= 0 {
		exitIV = exec.ImpliedVol
	}

	var exitGreeks model.Greeks
	mark, err := paper.BlackScholes(exec.OptionType, req.UnderlyingPrice, exec.Strike, remaining, exitIV, a.cfg.RiskFreeRate)
	if err != nil {
		a.log.Warn("平仓定价失败，按内在价值处理",
			zap.String("ticker", exec.Ticker),
			zap.Float64("strike", exec.Strike),
			zap.Error(err),
		)
		mark = paper.Pricing{Price: paper.Intrinsic(exec.OptionType, req.UnderlyingPrice, exec.Strike)}
	} else {
		exitGreeks = mark.Greeks
	}

	exitPrice := req.ExitPrice
	if exitPrice <= 0 {
		exitPrice = mark.Price
		if req.Reason == model.ExitExpired {
			exitPrice = paper.Intrinsic(exec.OptionType, req.UnderlyingPrice, exec.Strike)
		}
	}

	units := float64(exec.Multiplier) * float64(exec.FilledContracts)
	gross := (exitPrice - exec.EntryPrice) * units

	g := exec.EntryGreeks
	attr := model.Attribution{
		PnLFromDelta: g.Delta * (req.UnderlyingPrice - exec.UnderlyingPrice) * units,
		PnLFromTheta: g.Theta * holdDays * units,
		PnLFromIV:    g.Vega * (exitIV - exec.ImpliedVol) * 100 * units,
	}
	attr.PnLFromGamma = gross - attr.PnLFromDelta - attr.PnLFromTheta - attr.PnLFromIV

	// 平仓侧成本；入场侧价差与滑点已含在入场价中
	exitCommission := a.cfg.CommissionPerContract * float64(exec.FilledContracts)
	spreadCost := 0.0
	slippageCost := 0.0
	if exitPrice > 0 {
		spreadPct := paper.SpreadPct(model.BucketForDTE(int(math.Ceil(remaining))), exitPrice)
		spreadCost = exitPrice * spreadPct / 2 * units
		slippageCost = exitPrice * a.cfg.SlippagePct * units
	}
	commission := exec.Commission + exitCommission
	total := commission + spreadCost + slippageCost
	net := gross - total

	risk := exec.PremiumPaid()
	if sig != nil && sig.Risk.Amount > 0 {
		risk = sig.Risk.Amount
	}
	realizedR := 0.0
	if risk > 0 {
		realizedR = net / risk
	}

	return model.ExitData{
		ExitTime:        req.ExitTime.UTC(),
		ExitPrice:       exitPrice,
		UnderlyingPrice: req.UnderlyingPrice,
		ExitIV:          exitIV,
		ExitGreeks:      exitGreeks,
		ExitReason:      req.Reason,
		PnLGross:        gross,
		PnLNet:          net,
		HoldMinutes:     int64(req.ExitTime.Sub(exec.EntryTime) / time.Minute),
		HoldDays:        holdDays,
		Attribution:     attr,
		Commission:      commission,
		SpreadCost:      spreadCost,
		SlippageCost:    slippageCost,
		TotalCosts:      total,
		RiskAmount:      risk,
		RealizedR:       realizedR,
	}, nil
}

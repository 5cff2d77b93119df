// Package ev 统计已平仓模拟交易的滚动期望值（EV）。
// EV = p × (R - f) + (1 - p) × (-L - f)
// p_required = (L + f) / (R + L)
// 结果只用于分析，不回写决策引擎。
package ev

import (
	"confluence-paper-trader/internal/core/model"
)

type tradeSample struct {
	win      bool
	gross    float64
	cost     float64
	realized float64
}

// EVStats EV 统计信息（滚动窗口，金额单位为美元）
type EVStats struct {
	// Count 样本数
	Count int64 `json:"count"`
	// WinCount 盈利样本数（净利>0）
	WinCount int64 `json:"win_count"`
	// LossCount 亏损样本数（净利<=0）
	LossCount int64 `json:"loss_count"`

	// WinRate 胜率 p
	WinRate float64 `json:"win_rate"`
	// AvgProfit 平均盈利 R（毛利）
	AvgProfit float64 `json:"avg_profit"`
	// AvgLoss 平均亏损 L（毛亏损绝对值）
	AvgLoss float64 `json:"avg_loss"`
	// AvgCost 平均交易成本 f（佣金+点差+滑点）
	AvgCost float64 `json:"avg_cost"`

	// EV 每笔期望值
	EV float64 `json:"ev"`
	// PRequired 盈亏平衡胜率 p_required
	PRequired float64 `json:"p_required"`
	// AvgR 平均实现 R 倍数
	AvgR float64 `json:"avg_r"`
}

// Calculator EV 计算器（滚动窗口）
// 非并发安全，并发场景使用 Tracker。
type Calculator struct {
	// windowSize 滚动窗口大小
	windowSize int
	// buf 环形缓冲区
	buf []tradeSample
	// pos 写入位置
	pos int
	// full 是否已填满
	full bool

	// 维护滚动统计（O(1) 更新）
	count     int64
	winCount  int64
	lossCount int64
	sumWinR   float64
	sumLossL  float64
	sumCost   float64
	sumR      float64
}

// NewCalculator 创建 EV 计算器
// 参数 windowSize: 滚动窗口大小（建议 200）
func NewCalculator(windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = 200
	}
	return &Calculator{
		windowSize: windowSize,
		buf:        make([]tradeSample, windowSize),
	}
}

// Add 添加一笔平仓结果到滚动统计
func (c *Calculator) Add(x *model.ExitData) {
	if x == nil {
		return
	}

	s := tradeSample{
		win:      x.PnLNet > 0,
		gross:    x.PnLGross,
		cost:     x.TotalCosts,
		realized: x.RealizedR,
	}

	// 若环已满，移除旧样本对统计的贡献
	if c.full {
		old := c.buf[c.pos]
		c.count--
		if old.win {
			c.winCount--
			c.sumWinR -= old.gross
		} else {
			c.lossCount--
			c.sumLossL -= abs(old.gross)
		}
		c.sumCost -= old.cost
		c.sumR -= old.realized
	}

	c.buf[c.pos] = s
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}

	c.count++
	if s.win {
		c.winCount++
		c.sumWinR += s.gross
	} else {
		c.lossCount++
		c.sumLossL += abs(s.gross)
	}
	c.sumCost += s.cost
	c.sumR += s.realized
}

// Stats 返回滚动窗口统计
func (c *Calculator) Stats() EVStats {
	out := EVStats{
		Count:     c.count,
		WinCount:  c.winCount,
		LossCount: c.lossCount,
	}
	if c.count <= 0 {
		return out
	}

	out.WinRate = float64(c.winCount) / float64(c.count)
	out.AvgCost = c.sumCost / float64(c.count)
	out.AvgR = c.sumR / float64(c.count)

	if c.winCount > 0 {
		out.AvgProfit = c.sumWinR / float64(c.winCount)
	}
	if c.lossCount > 0 {
		out.AvgLoss = c.sumLossL / float64(c.lossCount)
	}

	// EV = p × (R - f) + (1 - p) × (-L - f)
	p := out.WinRate
	R := out.AvgProfit
	L := out.AvgLoss
	f := out.AvgCost
	out.EV = p*(R-f) + (1-p)*(-L-f)

	// p_required = (L + f) / (R + L)
	den := R + L
	if den > 0 {
		out.PRequired = (L + f) / den
	} else {
		out.PRequired = 1
	}

	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package ev

import (
	"sync"

	"go.uber.org/zap"

	"confluence-paper-trader/internal/bus"
	"confluence-paper-trader/internal/core/model"
)

// Tracker 订阅 TRADE_CLOSED 的滚动 EV 统计，整体与按平仓原因分别统计
type Tracker struct {
	mu       sync.Mutex
	window   int
	all      *Calculator
	byReason map[model.ExitReason]*Calculator
	// total 累计平仓笔数（不受窗口限制）
	total int64
	// logEvery 每 N 笔平仓输出一次汇总日志，0 表示不输出
	logEvery int64
	log      *zap.Logger
}

// NewTracker 创建统计器
// 参数 window: 滚动窗口大小
// 参数 logEvery: 每 N 笔输出一次汇总日志
func NewTracker(window int, logEvery int64, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		window:   window,
		all:      NewCalculator(window),
		byReason: make(map[model.ExitReason]*Calculator),
		logEvery: logEvery,
		log:      log.Named("ev"),
	}
}

// Attach 在总线上订阅平仓事件
func (t *Tracker) Attach(b *bus.Bus) (*bus.Subscription, error) {
	return b.Subscribe("ev", t.handle, bus.TradeClosed)
}

func (t *Tracker) handle(e bus.Event) {
	switch x := e.Payload.(type) {
	case *model.ExitData:
		t.Add(x)
	case *model.LedgerEntry:
		t.Add(x.Exit)
	}
}

// Add 记录一笔平仓
func (t *Tracker) Add(x *model.ExitData) {
	if x == nil {
		return
	}
	t.mu.Lock()
	t.all.Add(x)
	c, ok := t.byReason[x.ExitReason]
	if !ok {
		c = NewCalculator(t.window)
		t.byReason[x.ExitReason] = c
	}
	c.Add(x)
	t.total++
	total := t.total
	s := t.all.Stats()
	t.mu.Unlock()

	if t.logEvery > 0 && total%t.logEvery == 0 {
		t.log.Info("滚动 EV",
			zap.Int64("total", total),
			zap.Int64("window", s.Count),
			zap.Float64("win_rate", s.WinRate),
			zap.Float64("ev", s.EV),
			zap.Float64("p_required", s.PRequired),
			zap.Float64("avg_r", s.AvgR))
	}
}

// Stats 返回整体统计
func (t *Tracker) Stats() EVStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.all.Stats()
}

// ByReason 返回按平仓原因的统计
func (t *Tracker) ByReason() map[model.ExitReason]EVStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.ExitReason]EVStats, len(t.byReason))
	for r, c := range t.byReason {
		out[r] = c.Stats()
	}
	return out
}

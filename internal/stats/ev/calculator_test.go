package ev

import (
	"math"
	"testing"
	"time"

	"confluence-paper-trader/internal/bus"
	"confluence-paper-trader/internal/core/model"
)

func exitData(gross, cost, r float64) *model.ExitData {
	return &model.ExitData{PnLGross: gross, TotalCosts: cost, PnLNet: gross - cost, RealizedR: r, ExitReason: model.ExitManual}
}

func TestCalculator_Empty(t *testing.T) {
	c := NewCalculator(10)
	stats := c.Stats()
	if stats.Count != 0 {
		t.Fatalf("Count=%d, want 0", stats.Count)
	}
	if stats.EV != 0 {
		t.Fatalf("EV=%f, want 0", stats.EV)
	}
}

func TestCalculator_EVFormula(t *testing.T) {
	c := NewCalculator(100)

	// 2 赢 1 输；成本 2 美元
	c.Add(exitData(10, 2, 0.5))
	c.Add(exitData(20, 2, 1.0))
	c.Add(exitData(-15, 2, -1.0))

	stats := c.Stats()
	if stats.Count != 3 {
		t.Fatalf("Count=%d, want 3", stats.Count)
	}
	if stats.WinCount != 2 || stats.LossCount != 1 {
		t.Fatalf("WinCount=%d LossCount=%d, want 2/1", stats.WinCount, stats.LossCount)
	}

	// p=2/3, R=15, L=15, f=2 => EV=3
	if math.Abs(stats.EV-3.0) > 1e-9 {
		t.Fatalf("EV=%f, want 3", stats.EV)
	}
	if math.Abs(stats.PRequired-17.0/30.0) > 1e-9 {
		t.Fatalf("PRequired=%f, want %f", stats.PRequired, 17.0/30.0)
	}
	if math.Abs(stats.AvgR-0.5/3) > 1e-9 {
		t.Fatalf("AvgR=%f, want %f", stats.AvgR, 0.5/3)
	}
}

func TestCalculator_CostTurnsWinIntoLoss(t *testing.T) {
	c := NewCalculator(10)
	// 毛利 1，成本 3，净亏
	c.Add(exitData(1, 3, -0.1))

	stats := c.Stats()
	if stats.WinCount != 0 || stats.LossCount != 1 {
		t.Fatalf("WinCount=%d LossCount=%d, want 0/1", stats.WinCount, stats.LossCount)
	}
	if math.Abs(stats.AvgLoss-1) > 1e-9 {
		t.Fatalf("AvgLoss=%f, want 1", stats.AvgLoss)
	}
}

func TestCalculator_RollingWindow(t *testing.T) {
	c := NewCalculator(2)

	c.Add(exitData(10, 2, 1))
	c.Add(exitData(-10, 2, -1))
	c.Add(exitData(20, 2, 2))

	stats := c.Stats()
	if stats.Count != 2 {
		t.Fatalf("Count=%d, want 2", stats.Count)
	}
	// 窗口内应包含：loss(-10) 与 win(20)
	if stats.WinCount != 1 || stats.LossCount != 1 {
		t.Fatalf("WinCount=%d LossCount=%d, want 1/1", stats.WinCount, stats.LossCount)
	}
	if math.Abs(stats.AvgProfit-20.0) > 1e-9 {
		t.Fatalf("AvgProfit=%f, want 20", stats.AvgProfit)
	}
	if math.Abs(stats.AvgLoss-10.0) > 1e-9 {
		t.Fatalf("AvgLoss=%f, want 10", stats.AvgLoss)
	}
	if math.Abs(stats.AvgR-0.5) > 1e-9 {
		t.Fatalf("AvgR=%f, want 0.5", stats.AvgR)
	}
}

func TestTracker_ConsumesTradeClosedOnly(t *testing.T) {
	b := bus.New(16, nil)
	tr := NewTracker(50, 1, nil)
	if _, err := tr.Attach(b); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	b.Publish(bus.Event{Type: bus.TradeOpened, Time: now, Payload: exitData(100, 1, 1)})
	b.Publish(bus.Event{Type: bus.TradeClosed, Time: now, Payload: exitData(10, 1, 0.5)})
	x := exitData(-5, 1, -0.3)
	x.ExitReason = model.ExitStopLoss
	b.Publish(bus.Event{Type: bus.TradeClosed, Time: now, Payload: &model.LedgerEntry{Exit: x}})
	b.Close()

	stats := tr.Stats()
	if stats.Count != 2 {
		t.Fatalf("Count=%d, want 2", stats.Count)
	}
	by := tr.ByReason()
	if by[model.ExitManual].Count != 1 || by[model.ExitStopLoss].Count != 1 {
		t.Fatalf("ByReason=%+v", by)
	}
}

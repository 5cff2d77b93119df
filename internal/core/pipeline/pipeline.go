// Package pipeline 串联存储、决策引擎、模拟执行与账本。
//
// 数据流: 入站载荷 -> 存储更新 -> 对该标的做快照并决策 -> (EXECUTE) 模拟成交 -> 账本追加。
// 平仓事件经归因后写回同一条账本记录。所有事件以不阻塞的方式发布到总线。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"confluence-paper-trader/internal/bus"
	"confluence-paper-trader/internal/core/decision"
	"confluence-paper-trader/internal/core/exit"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/core/paper"
	"confluence-paper-trader/internal/core/store"
	"confluence-paper-trader/internal/ingest"
	"confluence-paper-trader/internal/ledger"
	"confluence-paper-trader/internal/util/timeutil"
)

// ErrNoExecution 账本记录没有成交，不能平仓
var ErrNoExecution = errors.New("记录没有模拟成交，无法平仓")

// Deps 流水线依赖
type Deps struct {
	Signals    *store.SignalStore
	Phases     *store.PhaseStore
	Trends     *store.TrendStore
	Engine     *decision.Engine
	Executor   *paper.Executor
	Attributor *exit.Attributor
	Ledger     *ledger.Ledger
	// Bus 可为空，为空时不发布事件
	Bus   *bus.Bus
	Clock timeutil.Clock
	Log   *zap.Logger
}

// Result 单个信号的处理结果
type Result struct {
	Outcome store.Outcome
	// Entry 写入账本的记录；信号被丢弃或已过期时为空
	Entry *model.LedgerEntry
}

// Pipeline 决策流水线
type Pipeline struct {
	signals    *store.SignalStore
	phases     *store.PhaseStore
	trends     *store.TrendStore
	engine     *decision.Engine
	executor   *paper.Executor
	attributor *exit.Attributor
	ledger     *ledger.Ledger
	bus        *bus.Bus
	decoder    *ingest.Decoder
	clock      timeutil.Clock
	log        *zap.Logger

	// rejectLog 入站校验失败日志采样
	rejectLog rate.Sometimes
}

// New 创建流水线
func New(d Deps) *Pipeline {
	clock := d.Clock
	if clock == nil {
		clock = timeutil.SystemClock
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		signals:    d.Signals,
		phases:     d.Phases,
		trends:     d.Trends,
		engine:     d.Engine,
		executor:   d.Executor,
		attributor: d.Attributor,
		ledger:     d.Ledger,
		bus:        d.Bus,
		decoder:    ingest.NewDecoder(),
		clock:      clock,
		log:        log.Named("pipeline"),
		rejectLog:  rate.Sometimes{First: 10, Interval: 5 * time.Second},
	}
}

// Ingest 解码信封并分发到对应处理函数
// 校验失败返回 *ingest.ValidationError，此时任何存储都未被修改。
func (p *Pipeline) Ingest(ctx context.Context, raw []byte) error {
	msg, err := p.decoder.Decode(raw)
	if err != nil {
		p.rejectLog.Do(func() {
			p.log.Warn("入站载荷校验失败", zap.Error(err))
		})
		return err
	}

	switch msg.Type {
	case ingest.TypeSignal:
		_, err = p.HandleSignal(ctx, msg.Signal)
	case ingest.TypePhase:
		err = p.HandlePhase(msg.Phase)
	case ingest.TypeTrend:
		err = p.HandleTrend(msg.Trend)
	case ingest.TypeExit:
		_, err = p.HandleExit(ctx, msg.Exit.LedgerID, msg.Exit.Request)
	}
	return err
}

// HandleSignal 写入信号并对该标的做一次决策
// 信号因质量不足被丢弃时不产生决策，返回的 Entry 为空。
func (p *Pipeline) HandleSignal(ctx context.Context, in *model.Signal) (*Result, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: 空信号", model.ErrInvalid)
	}
	sig := in.Clone()
	now := p.clock().UTC()
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = now
	}

	outcome, err := p.signals.Update(sig)
	if err != nil {
		return nil, err
	}
	p.publish(bus.Event{Type: bus.SignalReceived, Time: now, Ticker: sig.Ticker, Payload: sig})

	if outcome == store.Discarded {
		p.log.Warn("同周期已有更高或同等质量信号，新信号被丢弃",
			zap.String("ticker", sig.Ticker),
			zap.String("timeframe", string(sig.Timeframe)),
			zap.String("quality", string(sig.Quality)))
		return &Result{Outcome: outcome}, nil
	}
	if outcome == store.Expired {
		p.log.Warn("信号到达时已过期，不参与决策",
			zap.String("ticker", sig.Ticker),
			zap.String("timeframe", string(sig.Timeframe)),
			zap.Time("signal_ts", sig.Timestamp))
		return &Result{Outcome: outcome}, nil
	}

	// 先快照再决策
	phases := p.phases.ActiveForTicker(sig.Ticker)
	var trend *model.Trend
	if t, ok := p.trends.Get(sig.Ticker); ok {
		trend = &t
	}
	d := p.engine.Decide(decision.Snapshot{
		Ticker:  sig.Ticker,
		Signals: p.signals.ActiveForTicker(sig.Ticker),
		Phases:  phases,
		Trend:   trend,
		Trigger: sig,
	})
	p.publish(bus.Event{Type: bus.DecisionMade, Time: now, Ticker: sig.Ticker, Payload: &d})

	phaseCtx := model.NewPhaseContext(phases)
	entry := &model.LedgerEntry{
		EngineVersion: d.EngineVersion,
		Signal:        sig,
		Phase:         phaseCtx,
		Decision:      d,
		Regime:        regimeSnapshot(phaseCtx, trend, sig),
	}

	if d.Verdict == model.VerdictExecute {
		exec, err := p.executor.Execute(sig, &d)
		if err != nil {
			p.log.Error("模拟成交被拒绝",
				zap.String("ticker", sig.Ticker),
				zap.Int("contracts", d.RecommendedContracts),
				zap.Error(err))
		} else {
			entry.Execution = exec
		}
	} else {
		hyp, err := p.executor.Quote(sig, &d)
		if err != nil {
			p.log.Debug("假设合约报价失败", zap.String("ticker", sig.Ticker), zap.Error(err))
		} else {
			entry.Hypothetical = hyp
		}
	}

	saved, err := p.ledger.Append(ctx, entry)
	if err != nil {
		p.log.Error("账本追加失败",
			zap.String("ticker", sig.Ticker),
			zap.String("decision", string(d.Verdict)),
			zap.Error(err))
		return nil, err
	}

	p.publish(bus.Event{Type: bus.LedgerEntryCreated, Time: now, Ticker: sig.Ticker, LedgerID: saved.ID, Payload: saved})
	if saved.Execution != nil {
		p.publish(bus.Event{Type: bus.TradeOpened, Time: now, Ticker: sig.Ticker, LedgerID: saved.ID, Payload: saved.Execution})
		p.log.Info("模拟开仓",
			zap.String("id", saved.ID),
			zap.String("ticker", sig.Ticker),
			zap.String("option_type", string(saved.Execution.OptionType)),
			zap.Float64("strike", saved.Execution.Strike),
			zap.Int("dte", saved.Execution.DTE),
			zap.Int("filled", saved.Execution.FilledContracts),
			zap.Float64("entry_price", saved.Execution.EntryPrice))
	}
	return &Result{Outcome: outcome, Entry: saved}, nil
}

// HandlePhase 写入阶段事件
func (p *Pipeline) HandlePhase(ph *model.Phase) error {
	if ph == nil {
		return fmt.Errorf("%w: 空阶段", model.ErrInvalid)
	}
	outcome, err := p.phases.Update(ph)
	if err != nil {
		return err
	}
	p.log.Debug("阶段已更新",
		zap.String("ticker", ph.Ticker),
		zap.String("role", string(ph.Role)),
		zap.String("bias", string(ph.Bias)),
		zap.Stringer("outcome", outcome))
	return nil
}

// HandleTrend 整体替换趋势快照
func (p *Pipeline) HandleTrend(t *model.Trend) error {
	if t == nil {
		return fmt.Errorf("%w: 空趋势", model.ErrInvalid)
	}
	outcome, err := p.trends.Update(t)
	if err != nil {
		return err
	}
	p.log.Debug("趋势已更新", zap.String("ticker", t.Ticker), zap.Stringer("outcome", outcome))
	return nil
}

// HandleExit 计算平仓归因并写回账本
func (p *Pipeline) HandleExit(ctx context.Context, ledgerID string, req exit.Request) (*model.ExitData, error) {
	entry, err := p.ledger.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if entry.Execution == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoExecution, ledgerID)
	}
	if entry.Exit != nil {
		return nil, ledger.ErrExitAlreadyRecorded
	}
	if req.ExitTime.IsZero() {
		req.ExitTime = p.clock().UTC()
	}

	x, err := p.attributor.AttributePnL(entry.Execution, entry.Signal, req)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.UpdateExit(ctx, ledgerID, &x); err != nil {
		return nil, err
	}

	p.publish(bus.Event{Type: bus.TradeClosed, Time: req.ExitTime, Ticker: entry.Decision.Ticker, LedgerID: ledgerID, Payload: &x})
	p.log.Info("模拟平仓",
		zap.String("id", ledgerID),
		zap.String("reason", string(x.ExitReason)),
		zap.Float64("pnl_net", x.PnLNet),
		zap.Float64("realized_r", x.RealizedR))
	return &x, nil
}

// CleanupExpired 清理三个存储中的过期条目
func (p *Pipeline) CleanupExpired() (signals, phases, trends int) {
	signals = p.signals.CleanupExpired()
	phases = p.phases.CleanupExpired()
	trends = p.trends.CleanupExpired()
	if signals+phases+trends > 0 {
		p.log.Debug("过期条目已清理",
			zap.Int("signals", signals),
			zap.Int("phases", phases),
			zap.Int("trends", trends))
	}
	return signals, phases, trends
}

// RunCleanup 按间隔清理过期条目，直到 ctx 结束
// 过期判断本身是读时惰性的，这里只负责回收内存。
func (p *Pipeline) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CleanupExpired()
		}
	}
}

func (p *Pipeline) publish(e bus.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

// regimeSnapshot 决策时刻的阶段与趋势摘要；缺失的部分取中性值
func regimeSnapshot(pc *model.PhaseContext, trend *model.Trend, sig *model.Signal) model.RegimeSnapshot {
	r := model.RegimeSnapshot{
		RegimeBias:     pc.BiasOf(model.RoleRegime),
		BiasBias:       pc.BiasOf(model.RoleBias),
		SetupBias:      pc.BiasOf(model.RoleSetup),
		StructuralBias: pc.BiasOf(model.RoleStructural),
		TrendDominant:  model.BiasNeutral,
		TrendStrength:  model.TrendWeak,
		Session:        sig.EffectiveSession(),
		Weekday:        timeutil.MarketWeekday(sig.Timestamp).String(),
	}
	if trend != nil {
		a := trend.Alignment()
		r.TrendDominant = a.Dominant
		r.TrendStrength = a.Strength
		r.TrendScore = a.Score
	}
	return r
}

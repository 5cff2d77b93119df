// Package decision 实现确定性决策引擎。
// 引擎只读取调用方传入的快照，不做 I/O，不持有可变状态；
// 相同快照必然得到逐字节一致的决策与乘数明细。
package decision

import (
	"fmt"
	"math"
	"sort"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/timeutil"
)

// Snapshot 决策时刻某标的的状态快照
type Snapshot struct {
	Ticker  string
	Signals []model.Signal
	Phases  []model.Phase
	// Trend 可为空
	Trend *model.Trend
	// Trigger 触发本次决策的信号；为空时取多数方向中权重最高的信号
	Trigger *model.Signal
}

// Engine 决策引擎
type Engine struct {
	baseContracts int
}

// NewEngine 创建决策引擎
// 配置中声明的表版本与编译期版本不一致属于致命错误，直接 panic，
// 避免以不同的查表产生无法回放的决策。
func NewEngine(cfg config.EngineConfig) *Engine {
	if cfg.TableVersion != "" && cfg.TableVersion != EngineVersion {
		panic(fmt.Sprintf("决策表版本不一致: 配置 %s, 引擎 %s", cfg.TableVersion, EngineVersion))
	}
	base := cfg.BaseContracts
	if base <= 0 {
		base = 1
	}
	return &Engine{baseContracts: base}
}

// Version 返回查表版本
func (e *Engine) Version() string {
	return EngineVersion
}

type weighted struct {
	sig    model.Signal
	weight int
}

// Decide 根据快照给出 EXECUTE / WAIT / SKIP 决策
func (e *Engine) Decide(snap Snapshot) model.Decision {
	d := model.Decision{
		EngineVersion: EngineVersion,
		Ticker:        snap.Ticker,
		Breakdown:     model.NeutralBreakdown(),
		Signal:        snap.Trigger.Clone(),
	}

	active := e.eligible(snap)
	if len(active) == 0 {
		d.Verdict = model.VerdictWait
		d.Reason = "无活跃信号"
		return d
	}

	// 1. 共振
	var longW, shortW int
	for _, w := range active {
		if w.sig.Direction == model.DirectionLong {
			longW += w.weight
		} else {
			shortW += w.weight
		}
	}
	dir := active[0].sig.Direction
	switch {
	case longW > shortW:
		dir = model.DirectionLong
	case shortW > longW:
		dir = model.DirectionShort
	}
	agree := longW
	if dir == model.DirectionShort {
		agree = shortW
	}
	score := math.Min(float64(agree), 100)

	d.Direction = dir
	d.ConfluenceScore = score
	d.Breakdown.ConfluenceScore = score

	// 2. 门槛
	if score < GateScore {
		d.Verdict = model.VerdictWait
		d.Reason = fmt.Sprintf("共振分 %.0f 低于 %d", score, GateScore)
		return d
	}
	if !hasHTFConviction(active) {
		d.Verdict = model.VerdictWait
		d.Reason = fmt.Sprintf("缺少置信分 >= %.0f 的 4h/1h 信号", GateAIScore)
		return d
	}

	trigger := snap.Trigger
	if trigger != nil && !containsSignal(active, trigger) {
		d.Verdict = model.VerdictWait
		d.Reason = fmt.Sprintf("触发信号 %s/%s 不在活跃信号中", trigger.Ticker, trigger.Timeframe)
		return d
	}
	if trigger == nil {
		for i := range active {
			if active[i].sig.Direction == dir {
				trigger = &active[i].sig
				break
			}
		}
	}
	d.Signal = trigger.Clone()
	if trigger.Direction != dir {
		d.Verdict = model.VerdictWait
		d.Reason = fmt.Sprintf("触发信号方向 %s 与多数方向 %s 相反", trigger.Direction, dir)
		return d
	}

	// 3. 乘数链
	b := &d.Breakdown
	b.ConfluenceMultiplier = confluenceMultiplier(score)
	b.QualityMultiplier = qualityMultiplier(trigger.Quality)
	b.HTFAlignment = htfAlignment(active, dir)
	b.HTFAlignmentMultiplier = htfMultiplier(b.HTFAlignment)
	b.RRRatio = trigger.RiskReward()
	b.RRMultiplier = rrMultiplier(b.RRRatio)
	b.VolumeMultiplier = volumeMultiplier(trigger.Market.VolumeVsAvg)
	b.TrendStrengthMultiplier = trendStrengthMultiplier(trigger.Trend.Strength)
	b.SessionMultiplier = sessionMultiplier(trigger.EffectiveSession())
	b.DayOfWeekMultiplier = 1.0
	if !trigger.Timestamp.IsZero() {
		b.DayOfWeekMultiplier = dayOfWeekMultiplier(timeutil.MarketWeekday(trigger.Timestamp))
	}
	b.PhaseConfidenceBoost, b.PhasePositionBoost = phaseBoosts(snap.Phases, snap.Ticker, dir)
	b.TrendAlignmentBoost = trendBoost(snap.Trend, snap.Ticker, dir)

	raw := b.ConfluenceMultiplier *
		b.QualityMultiplier *
		b.HTFAlignmentMultiplier *
		b.RRMultiplier *
		b.VolumeMultiplier *
		b.TrendStrengthMultiplier *
		b.SessionMultiplier *
		b.DayOfWeekMultiplier *
		(1 + b.PhaseConfidenceBoost) *
		(1 + b.PhasePositionBoost) *
		(1 + b.TrendAlignmentBoost)
	b.RawMultiplier = raw
	b.FinalMultiplier = math.Max(MinMultiplier, math.Min(MaxMultiplier, raw))

	// 4. 边界
	if raw < MinMultiplier {
		d.Verdict = model.VerdictSkip
		d.Reason = fmt.Sprintf("乘数 %.4f 低于下限 %.1f", raw, MinMultiplier)
		return d
	}

	d.Verdict = model.VerdictExecute
	d.Reason = fmt.Sprintf("共振分 %.0f, HTF %s, 最终乘数 %.2f", score, b.HTFAlignment, b.FinalMultiplier)
	d.RecommendedContracts = int(math.Round(float64(e.baseContracts) * b.FinalMultiplier))
	if d.RecommendedContracts < 1 {
		d.RecommendedContracts = 1
	}
	d.StopLoss = trigger.Entry.StopLoss
	d.Target1 = trigger.Entry.Target1
	d.Target2 = trigger.Entry.Target2
	return d
}

// eligible 过滤出属于该标的、方向与周期合法的信号，按权重降序排序
// 排序保证结果与调用方传入顺序无关。
// containsSignal 触发信号必须是快照中的活跃信号
func containsSignal(active []weighted, sig *model.Signal) bool {
	for i := range active {
		s := &active[i].sig
		if s.ID == sig.ID && s.Ticker == sig.Ticker && s.Timeframe == sig.Timeframe && s.Timestamp.Equal(sig.Timestamp) {
			return true
		}
	}
	return false
}

func (e *Engine) eligible(snap Snapshot) []weighted {
	out := make([]weighted, 0, len(snap.Signals))
	for _, s := range snap.Signals {
		if snap.Ticker != "" && s.Ticker != snap.Ticker {
			continue
		}
		if !s.Direction.Valid() {
			continue
		}
		w := confluenceWeight(s.Timeframe)
		if w == 0 {
			continue
		}
		out = append(out, weighted{sig: s, weight: w})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		if out[i].sig.Quality.Rank() != out[j].sig.Quality.Rank() {
			return out[i].sig.Quality.Rank() > out[j].sig.Quality.Rank()
		}
		if !out[i].sig.Timestamp.Equal(out[j].sig.Timestamp) {
			return out[i].sig.Timestamp.After(out[j].sig.Timestamp)
		}
		if out[i].sig.Direction != out[j].sig.Direction {
			return out[i].sig.Direction < out[j].sig.Direction
		}
		return out[i].sig.ID < out[j].sig.ID
	})
	return out
}

func hasHTFConviction(active []weighted) bool {
	for _, w := range active {
		if (w.sig.Timeframe == model.TF4H || w.sig.Timeframe == model.TF1H) && w.sig.AIScore >= GateAIScore {
			return true
		}
	}
	return false
}

// htfAlignment 按 4H/1H 信号与方向的关系判定对齐等级
func htfAlignment(active []weighted, dir model.Direction) model.HTFAlignment {
	var h4, h1 *model.Signal
	for i := range active {
		switch active[i].sig.Timeframe {
		case model.TF4H:
			if h4 == nil {
				h4 = &active[i].sig
			}
		case model.TF1H:
			if h1 == nil {
				h1 = &active[i].sig
			}
		}
	}
	h4Agrees := h4 != nil && h4.Direction == dir
	h1Agrees := h1 != nil && h1.Direction == dir

	switch {
	case h4Agrees && h1Agrees:
		return model.HTFPerfect
	case h4Agrees:
		return model.HTFGood
	case h4 == nil && h1Agrees:
		return model.HTFWeak
	case h4 != nil || h1 != nil:
		return model.HTFCounter
	default:
		return model.HTFNone
	}
}

// phaseBoosts REGIME/BIAS 阶段加成；每项最多计一次，NEUTRAL 阶段不加不减
func phaseBoosts(phases []model.Phase, ticker string, dir model.Direction) (confidence, position float64) {
	for _, p := range phases {
		if ticker != "" && p.Ticker != ticker {
			continue
		}
		if p.Role != model.RoleRegime && p.Role != model.RoleBias {
			continue
		}
		if !p.HTFAligned || !p.Bias.Agrees(dir) {
			continue
		}
		confidence = phaseConfidenceBoost
		if p.ConfidenceScore >= phasePositionMinScore {
			position = phasePositionBoost
		}
	}
	return confidence, position
}

// trendBoost 多周期趋势加成，最多 0.45
func trendBoost(t *model.Trend, ticker string, dir model.Direction) float64 {
	if t == nil || (ticker != "" && t.Ticker != ticker) {
		return 0
	}
	boost := 0.0
	a := t.Alignment()
	if a.Strength == model.TrendStrong && a.Dominant.Agrees(dir) {
		boost += trendStrongBoost
	}
	if t.Frames.H4.Direction.Agrees(dir) {
		boost += trendH4AgreementBoost
	}
	return boost
}

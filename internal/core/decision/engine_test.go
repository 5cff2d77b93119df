package decision

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/model"
)

// 2024-03-05 周二 12:00 ET
var t0 = time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(config.EngineConfig{BaseContracts: 2})
}

// sig 构造 R:R=3、量比与趋势强度均为常态的信号
func sig(tf model.Timeframe, dir model.Direction, q model.Quality, ai float64) model.Signal {
	stop, target := 98.0, 106.0
	if dir == model.DirectionShort {
		stop, target = 102.0, 94.0
	}
	return model.Signal{
		ID:        string(tf) + "-" + string(dir),
		Ticker:    "SPY",
		Direction: dir,
		Timeframe: tf,
		Quality:   q,
		AIScore:   ai,
		Price:     100,
		Entry:     model.EntryPlan{Price: 100, StopLoss: stop, Target1: target, Target2: target + (target - 100)},
		Market:    model.MarketContext{VolumeVsAvg: 1.0},
		Trend:     model.TrendContext{Strength: 70},
		Timestamp: t0,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDecide_AlignedHTFExecutes(t *testing.T) {
	e := newTestEngine()
	snap := Snapshot{
		Ticker: "SPY",
		Signals: []model.Signal{
			sig(model.TF4H, model.DirectionLong, model.QualityExtreme, 8),
			sig(model.TF1H, model.DirectionLong, model.QualityExtreme, 8),
			sig(model.TF15M, model.DirectionLong, model.QualityHigh, 7),
			sig(model.TF5M, model.DirectionLong, model.QualityHigh, 7),
		},
	}

	d := e.Decide(snap)
	if d.Verdict != model.VerdictExecute {
		t.Fatalf("verdict=%s reason=%s", d.Verdict, d.Reason)
	}
	b := d.Breakdown
	if d.ConfluenceScore != 82 {
		t.Errorf("confluence=%v, want 82", d.ConfluenceScore)
	}
	if b.ConfluenceMultiplier != 2.0 || b.QualityMultiplier != 1.3 || b.HTFAlignmentMultiplier != 1.3 {
		t.Errorf("multipliers: %+v", b)
	}
	if b.HTFAlignment != model.HTFPerfect {
		t.Errorf("htf=%s, want PERFECT", b.HTFAlignment)
	}
	if b.RRMultiplier != 1.1 || b.VolumeMultiplier != 1.0 || b.TrendStrengthMultiplier != 1.0 || b.SessionMultiplier != 1.0 {
		t.Errorf("context multipliers: %+v", b)
	}
	if b.DayOfWeekMultiplier != 1.05 {
		t.Errorf("day_of_week=%v, want 1.05", b.DayOfWeekMultiplier)
	}
	if b.RawMultiplier <= MaxMultiplier || b.FinalMultiplier != MaxMultiplier {
		t.Errorf("raw=%v final=%v, want final clamped to 3", b.RawMultiplier, b.FinalMultiplier)
	}
	if d.RecommendedContracts != 6 {
		t.Errorf("contracts=%d, want 6", d.RecommendedContracts)
	}
	if d.StopLoss != 98 || d.Target1 != 106 || d.Signal == nil || d.Signal.Timeframe != model.TF4H {
		t.Errorf("stops/trigger not copied: %+v", d)
	}
	if d.EngineVersion != EngineVersion {
		t.Errorf("engine_version=%s", d.EngineVersion)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDecide_Single15MWaits(t *testing.T) {
	e := newTestEngine()
	for _, q := range []model.Quality{model.QualityExtreme, model.QualityHigh, model.QualityMedium} {
		d := e.Decide(Snapshot{Ticker: "SPY", Signals: []model.Signal{sig(model.TF15M, model.DirectionLong, q, 10)}})
		if d.Verdict != model.VerdictWait {
			t.Errorf("%s: verdict=%s, want WAIT", q, d.Verdict)
		}
		if d.Breakdown != neutralWith(d.ConfluenceScore) {
			t.Errorf("%s: WAIT 应保持中性明细, got %+v", q, d.Breakdown)
		}
	}
}

func neutralWith(score float64) model.Breakdown {
	b := model.NeutralBreakdown()
	b.ConfluenceScore = score
	return b
}

func TestDecide_GateRequiresHTFConviction(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(Snapshot{Ticker: "SPY", Signals: []model.Signal{
		sig(model.TF4H, model.DirectionLong, model.QualityExtreme, 5),
		sig(model.TF30M, model.DirectionLong, model.QualityExtreme, 9),
		sig(model.TF15M, model.DirectionLong, model.QualityExtreme, 9),
		sig(model.TF5M, model.DirectionLong, model.QualityExtreme, 9),
		sig(model.TF3M, model.DirectionLong, model.QualityExtreme, 9),
	}})
	if d.ConfluenceScore != 75 {
		t.Fatalf("confluence=%v, want 75", d.ConfluenceScore)
	}
	if d.Verdict != model.VerdictWait {
		t.Fatalf("verdict=%s, want WAIT", d.Verdict)
	}
}

func TestDecide_CounterTrendSkips(t *testing.T) {
	e := newTestEngine()
	weak := func(tf model.Timeframe) model.Signal {
		s := sig(tf, model.DirectionLong, model.QualityMedium, 7)
		s.Entry.Target1 = 102 // R:R = 1
		return s
	}
	d := e.Decide(Snapshot{Ticker: "SPY", Signals: []model.Signal{
		sig(model.TF4H, model.DirectionShort, model.QualityHigh, 8),
		weak(model.TF1H), weak(model.TF30M), weak(model.TF15M), weak(model.TF5M), weak(model.TF3M),
	}})

	if d.Direction != model.DirectionLong || d.ConfluenceScore != 60 {
		t.Fatalf("direction=%s score=%v", d.Direction, d.ConfluenceScore)
	}
	if d.Verdict != model.VerdictSkip {
		t.Fatalf("verdict=%s, want SKIP (reason %s)", d.Verdict, d.Reason)
	}
	b := d.Breakdown
	if b.HTFAlignment != model.HTFCounter || b.HTFAlignmentMultiplier != 0.5 {
		t.Errorf("htf=%s %v", b.HTFAlignment, b.HTFAlignmentMultiplier)
	}
	if !approx(b.RawMultiplier, 0.2625) || b.FinalMultiplier != MinMultiplier {
		t.Errorf("raw=%v final=%v", b.RawMultiplier, b.FinalMultiplier)
	}
	if d.RecommendedContracts != 0 {
		t.Errorf("SKIP 不应给出张数, got %d", d.RecommendedContracts)
	}
}

func TestDecide_OpposingTriggerWaits(t *testing.T) {
	e := newTestEngine()
	opp := sig(model.TF5M, model.DirectionShort, model.QualityExtreme, 9)
	d := e.Decide(Snapshot{
		Ticker: "SPY",
		Signals: []model.Signal{
			sig(model.TF4H, model.DirectionLong, model.QualityHigh, 8),
			sig(model.TF1H, model.DirectionLong, model.QualityHigh, 8),
			opp,
		},
		Trigger: &opp,
	})
	if d.Verdict != model.VerdictWait {
		t.Fatalf("verdict=%s, want WAIT", d.Verdict)
	}
	if d.Signal == nil || d.Signal.ID != opp.ID {
		t.Fatalf("应记录触发信号快照, got %+v", d.Signal)
	}
}

func TestDecide_InactiveTriggerWaits(t *testing.T) {
	e := newTestEngine()
	stale := sig(model.TF3M, model.DirectionLong, model.QualityExtreme, 9)
	stale.Timestamp = t0.Add(-24 * time.Hour)
	d := e.Decide(Snapshot{
		Ticker: "SPY",
		Signals: []model.Signal{
			sig(model.TF4H, model.DirectionLong, model.QualityExtreme, 8),
			sig(model.TF1H, model.DirectionLong, model.QualityExtreme, 8),
		},
		Trigger: &stale,
	})
	if d.Verdict != model.VerdictWait {
		t.Fatalf("verdict=%s, want WAIT", d.Verdict)
	}
	if d.RecommendedContracts != 0 || d.Breakdown.FinalMultiplier != model.NeutralBreakdown().FinalMultiplier {
		t.Fatalf("不活跃的触发信号不应进入乘数链: %+v", d.Breakdown)
	}
}

func TestDecide_HTFAlignmentLevels(t *testing.T) {
	long, short := model.DirectionLong, model.DirectionShort
	cases := []struct {
		name string
		h4   *model.Direction
		h1   *model.Direction
		want model.HTFAlignment
	}{
		{"4h+1h 同向", &long, &long, model.HTFPerfect},
		{"仅 4h 同向", &long, nil, model.HTFGood},
		{"4h 同向 1h 反向", &long, &short, model.HTFGood},
		{"仅 1h 同向", nil, &long, model.HTFWeak},
		{"4h 反向", &short, &long, model.HTFCounter},
	}
	for _, c := range cases {
		var active []weighted
		if c.h4 != nil {
			active = append(active, weighted{sig: sig(model.TF4H, *c.h4, model.QualityHigh, 8), weight: 40})
		}
		if c.h1 != nil {
			active = append(active, weighted{sig: sig(model.TF1H, *c.h1, model.QualityHigh, 8), weight: 25})
		}
		if got := htfAlignment(active, model.DirectionLong); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestDecide_PhaseAndTrendBoosts(t *testing.T) {
	e := newTestEngine()
	signals := []model.Signal{
		sig(model.TF1H, model.DirectionLong, model.QualityMedium, 8),
		sig(model.TF30M, model.DirectionLong, model.QualityMedium, 8),
		sig(model.TF15M, model.DirectionLong, model.QualityMedium, 8),
		sig(model.TF5M, model.DirectionLong, model.QualityMedium, 8),
		sig(model.TF3M, model.DirectionLong, model.QualityMedium, 8),
	}
	phases := []model.Phase{
		{Ticker: "SPY", Timeframe: model.TF4H, Role: model.RoleRegime, Bias: model.BiasBullish, HTFAligned: true, ConfidenceScore: 80},
		{Ticker: "SPY", Timeframe: model.TF1H, Role: model.RoleBias, Bias: model.BiasBullish, HTFAligned: true, ConfidenceScore: 90},
		{Ticker: "SPY", Timeframe: model.TF15M, Role: model.RoleSetup, Bias: model.BiasBullish, HTFAligned: true, ConfidenceScore: 90},
	}
	bull := model.FrameTrend{Direction: model.BiasBullish}
	trend := &model.Trend{Ticker: "SPY", Frames: model.TrendFrames{M3: bull, M5: bull, M15: bull, M30: bull, H1: bull, H4: bull, W1: bull, MO1: bull}}

	d := e.Decide(Snapshot{Ticker: "SPY", Signals: signals, Phases: phases, Trend: trend})
	b := d.Breakdown
	if b.PhaseConfidenceBoost != 0.20 || b.PhasePositionBoost != 0.10 {
		t.Errorf("phase boosts=%v/%v, want 0.20/0.10（每项只计一次）", b.PhaseConfidenceBoost, b.PhasePositionBoost)
	}
	if !approx(b.TrendAlignmentBoost, 0.45) {
		t.Errorf("trend boost=%v, want 0.45", b.TrendAlignmentBoost)
	}

	// NEUTRAL 阶段与趋势不加不减
	neutral := model.FrameTrend{Direction: model.BiasNeutral}
	phases[0].Bias, phases[1].Bias = model.BiasNeutral, model.BiasNeutral
	trend.Frames = model.TrendFrames{M3: neutral, M5: neutral, M15: neutral, M30: neutral, H1: neutral, H4: neutral, W1: neutral, MO1: neutral}
	d = e.Decide(Snapshot{Ticker: "SPY", Signals: signals, Phases: phases, Trend: trend})
	b = d.Breakdown
	if b.PhaseConfidenceBoost != 0 || b.PhasePositionBoost != 0 || b.TrendAlignmentBoost != 0 {
		t.Errorf("NEUTRAL 不应产生加成: %+v", b)
	}

	// 反向阶段同样不产生惩罚
	phases[0].Bias = model.BiasBearish
	d = e.Decide(Snapshot{Ticker: "SPY", Signals: signals, Phases: phases})
	if d.Breakdown.PhaseConfidenceBoost != 0 {
		t.Errorf("反向阶段不应加成: %+v", d.Breakdown)
	}
}

func TestDecide_OrderIndependent(t *testing.T) {
	e := newTestEngine()
	a := []model.Signal{
		sig(model.TF4H, model.DirectionShort, model.QualityHigh, 8),
		sig(model.TF1H, model.DirectionShort, model.QualityExtreme, 7),
		sig(model.TF30M, model.DirectionLong, model.QualityMedium, 6),
		sig(model.TF15M, model.DirectionShort, model.QualityHigh, 6),
	}
	b := []model.Signal{a[3], a[1], a[2], a[0]}

	d1, _ := json.Marshal(e.Decide(Snapshot{Ticker: "SPY", Signals: a}))
	d2, _ := json.Marshal(e.Decide(Snapshot{Ticker: "SPY", Signals: b}))
	if string(d1) != string(d2) {
		t.Fatalf("输入顺序不应影响决策:\n%s\n%s", d1, d2)
	}
}

func TestDecide_NoSignals(t *testing.T) {
	d := newTestEngine().Decide(Snapshot{Ticker: "SPY"})
	if d.Verdict != model.VerdictWait || d.Direction != "" {
		t.Fatalf("got %+v", d)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("无信号 WAIT 应可入账: %v", err)
	}
}

func TestNewEngine_TableVersionMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("表版本不一致应 panic")
		}
	}()
	NewEngine(config.EngineConfig{BaseContracts: 1, TableVersion: "confluence-0.0.1"})
}

func TestTables(t *testing.T) {
	rr := map[float64]float64{5: 1.2, 4.5: 1.15, 3: 1.1, 2: 1.0, 1.5: 0.8, 1.49: 0.5}
	for in, want := range rr {
		if got := rrMultiplier(in); got != want {
			t.Errorf("rrMultiplier(%v)=%v, want %v", in, got, want)
		}
	}
	conf := map[float64]float64{95: 2.5, 80: 2.0, 70: 1.5, 60: 1.0, 55: 0.7, 10: 0.5}
	for in, want := range conf {
		if got := confluenceMultiplier(in); got != want {
			t.Errorf("confluenceMultiplier(%v)=%v, want %v", in, got, want)
		}
	}
	sum := 0
	for _, tf := range []model.Timeframe{model.TF4H, model.TF1H, model.TF30M, model.TF15M, model.TF5M, model.TF3M} {
		sum += confluenceWeight(tf)
	}
	if sum != 100 {
		t.Errorf("周期权重合计 %d, want 100", sum)
	}
	if volumeMultiplier(0.5) != 0.7 || volumeMultiplier(2) != 1.1 {
		t.Error("volumeMultiplier")
	}
	if trendStrengthMultiplier(85) != 1.2 || trendStrengthMultiplier(40) != 0.8 {
		t.Error("trendStrengthMultiplier")
	}
	if dayOfWeekMultiplier(time.Friday) != 0.9 || dayOfWeekMultiplier(time.Sunday) != 0.5 {
		t.Error("dayOfWeekMultiplier")
	}
}

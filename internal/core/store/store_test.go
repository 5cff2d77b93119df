package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"confluence-paper-trader/internal/core/model"
)

// 2024-03-05 周二 12:00 ET（MIDDAY）
var t0 = time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// movableClock 测试用可前进时钟
type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSignal(ticker string, tf model.Timeframe, q model.Quality, ts time.Time) *model.Signal {
	return &model.Signal{
		Ticker:    ticker,
		Direction: model.DirectionLong,
		Timeframe: tf,
		Quality:   q,
		AIScore:   7,
		Timestamp: ts,
	}
}

func TestValidityMinutes_Table(t *testing.T) {
	cases := []struct {
		tf   model.Timeframe
		q    model.Quality
		s    model.Session
		want float64
	}{
		{model.TF4H, model.QualityExtreme, model.SessionMidday, 720},   // 240*2*1.5 = 720
		{model.TF4H, model.QualityHigh, model.SessionMidday, 480},      // 240*2
		{model.TF1H, model.QualityHigh, model.SessionOpen, 72},         // 60*1.5*0.8
		{model.TF15M, model.QualityMedium, model.SessionAfterHours, 15}, // 低于周期，取下限
		{model.TF5M, model.QualityExtreme, model.SessionMidday, 7.5},
	}
	for _, c := range cases {
		if got := ValidityMinutes(c.tf, c.q, c.s); got != c.want {
			t.Errorf("ValidityMinutes(%s,%s,%s)=%v, want %v", c.tf, c.q, c.s, got, c.want)
		}
	}
	if got := ValidityMinutes("2h", model.QualityHigh, model.SessionMidday); got != 0 {
		t.Errorf("未知周期应返回 0, got %v", got)
	}
}

func TestSignalStore_LazyExpiry(t *testing.T) {
	clk := &movableClock{now: t0}
	s := NewSignalStore(clk.Now)

	// 1h HIGH MIDDAY => 90 分钟
	if _, err := s.Update(testSignal("SPY", model.TF1H, model.QualityHigh, t0)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	clk.Advance(89 * time.Minute)
	if _, ok := s.Get("SPY", model.TF1H); !ok {
		t.Fatal("有效期内应可读取")
	}
	clk.Advance(time.Minute)
	if _, ok := s.Get("SPY", model.TF1H); ok {
		t.Fatal("到期后不应读取到")
	}
	if n := len(s.ActiveSnapshot()); n != 0 {
		t.Fatalf("快照应排除过期信号, got %d", n)
	}
	// 惰性过期：槽位仍在，直到显式清理
	if s.Len() != 1 {
		t.Fatalf("Len=%d, want 1", s.Len())
	}
	if n := s.CleanupExpired(); n != 1 {
		t.Fatalf("CleanupExpired=%d, want 1", n)
	}
	if s.Len() != 0 {
		t.Fatalf("清理后 Len=%d", s.Len())
	}
}

func TestSignalStore_ExpiredOccupantReplaced(t *testing.T) {
	clk := &movableClock{now: t0}
	s := NewSignalStore(clk.Now)

	old := testSignal("QQQ", model.TF5M, model.QualityExtreme, t0)
	if _, err := s.Update(old); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour)

	fresh := testSignal("QQQ", model.TF5M, model.QualityMedium, clk.Now())
	fresh.ID = "fresh"
	outcome, err := s.Update(fresh)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Replaced {
		t.Fatalf("outcome=%s, want replaced", outcome)
	}
	got, ok := s.Get("QQQ", model.TF5M)
	if !ok || got.ID != "fresh" {
		t.Fatalf("过期旧信号应被替换, got %+v ok=%v", got, ok)
	}
}

func TestSignalStore_ExpiredOnArrivalNotStored(t *testing.T) {
	s := NewSignalStore(fixedClock(t0))

	live := testSignal("SPY", model.TF5M, model.QualityMedium, t0)
	live.ID = "live"
	if _, err := s.Update(live); err != nil {
		t.Fatal(err)
	}

	// 更高质量但一天前的信号不能顶掉仍有效的旧信号
	stale := testSignal("SPY", model.TF5M, model.QualityExtreme, t0.Add(-24*time.Hour))
	stale.ID = "stale"
	outcome, err := s.Update(stale)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Expired {
		t.Fatalf("outcome=%s, want expired", outcome)
	}
	got, ok := s.Get("SPY", model.TF5M)
	if !ok || got.ID != "live" {
		t.Fatalf("槽位不应被改动, got %+v ok=%v", got, ok)
	}

	if out, _ := s.Update(testSignal("SPY", model.TF3M, model.QualityHigh, t0.Add(-time.Hour))); out != Expired {
		t.Fatalf("空槽位收到过期信号 outcome=%s, want expired", out)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d, want 1", s.Len())
	}
}

func TestSignalStore_RejectsDailyTimeframe(t *testing.T) {
	s := NewSignalStore(fixedClock(t0))
	_, err := s.Update(testSignal("SPY", model.TF1D, model.QualityHigh, t0))
	if !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Fatalf("err=%v, want ErrUnsupportedTimeframe", err)
	}
}

func TestSignalStore_ZeroTimestampUsesReceiptTime(t *testing.T) {
	s := NewSignalStore(fixedClock(t0))
	sig := testSignal("SPY", model.TF3M, model.QualityHigh, time.Time{})
	sig.Session = model.SessionMidday
	if _, err := s.Update(sig); err != nil {
		t.Fatal(err)
	}
	exp, ok := s.ExpiresAt("SPY", model.TF3M)
	if !ok || !exp.Equal(t0.Add(3*time.Minute)) {
		t.Fatalf("expiresAt=%v, want %v", exp, t0.Add(3*time.Minute))
	}
}

func TestSignalStore_SnapshotOrder(t *testing.T) {
	s := NewSignalStore(fixedClock(t0))
	for _, tf := range []model.Timeframe{model.TF5M, model.TF4H, model.TF15M, model.TF1H} {
		if _, err := s.Update(testSignal("SPY", tf, model.QualityHigh, t0)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Update(testSignal("AAPL", model.TF1H, model.QualityHigh, t0)); err != nil {
		t.Fatal(err)
	}

	snap := s.ActiveForTicker("SPY")
	want := []model.Timeframe{model.TF4H, model.TF1H, model.TF15M, model.TF5M}
	if len(snap) != len(want) {
		t.Fatalf("len=%d, want %d", len(snap), len(want))
	}
	for i := range want {
		if snap[i].Timeframe != want[i] {
			t.Fatalf("snap[%d]=%s, want %s", i, snap[i].Timeframe, want[i])
		}
	}
	all := s.ActiveSnapshot()
	if len(all) != 5 || all[0].Ticker != "AAPL" {
		t.Fatalf("全量快照排序错误: %+v", all)
	}
}

func TestSignalStore_ConcurrentSameKey(t *testing.T) {
	s := NewSignalStore(fixedClock(t0))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := qualities[i%len(qualities)].(model.Quality)
			sig := testSignal("SPY", model.TF15M, q, t0)
			sig.ID = fmt.Sprintf("s-%d", i)
			if _, err := s.Update(sig); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	got, ok := s.Get("SPY", model.TF15M)
	if !ok {
		t.Fatal("应存在信号")
	}
	if got.Quality != model.QualityExtreme {
		t.Fatalf("并发写入后应保留最高质量, got %s", got.Quality)
	}
}

func TestPhaseStore_ReplaceAndDecay(t *testing.T) {
	clk := &movableClock{now: t0}
	s := NewPhaseStore(clk.Now)

	p := &model.Phase{Ticker: "SPY", Timeframe: model.TF4H, Role: model.RoleRegime, Bias: model.BiasBullish, Timestamp: t0}
	if out, err := s.Update(p); err != nil || out != Stored {
		t.Fatalf("Update: %v %v", out, err)
	}
	p2 := *p
	p2.Bias = model.BiasBearish
	p2.DecayMinutes = 30
	if out, err := s.Update(&p2); err != nil || out != Replaced {
		t.Fatalf("Update: %v %v", out, err)
	}
	got, ok := s.Get("SPY", model.RoleRegime)
	if !ok || got.Bias != model.BiasBearish {
		t.Fatalf("新阶段应替换旧阶段, got %+v", got)
	}

	clk.Advance(30 * time.Minute)
	if _, ok := s.Get("SPY", model.RoleRegime); ok {
		t.Fatal("显式 decay 到期后不应读取到")
	}

	if _, err := s.Update(&model.Phase{Ticker: "SPY", Role: "MACRO"}); err == nil {
		t.Fatal("非法角色应报错")
	}
}

func TestPhaseStore_DefaultDecay(t *testing.T) {
	want := map[model.Timeframe]int{
		model.TF15M: 45, model.TF30M: 90, model.TF1H: 180, model.TF4H: 720, model.TF1D: 1440, model.TF5M: 60,
	}
	for tf, m := range want {
		p := &model.Phase{Timeframe: tf, Timestamp: t0}
		if got := PhaseExpiry(p, t0); !got.Equal(t0.Add(time.Duration(m) * time.Minute)) {
			t.Errorf("%s: expiry=%v, want +%dm", tf, got, m)
		}
	}
}

func TestPhaseStore_ActiveForTickerOrder(t *testing.T) {
	s := NewPhaseStore(fixedClock(t0))
	for _, r := range []model.PhaseRole{model.RoleStructural, model.RoleBias, model.RoleRegime} {
		if _, err := s.Update(&model.Phase{Ticker: "SPY", Timeframe: model.TF1H, Role: r, Timestamp: t0}); err != nil {
			t.Fatal(err)
		}
	}
	got := s.ActiveForTicker("SPY")
	if len(got) != 3 || got[0].Role != model.RoleRegime || got[2].Role != model.RoleStructural {
		t.Fatalf("排序错误: %+v", got)
	}
}

func TestTrendStore_WholesaleReplaceAndTTL(t *testing.T) {
	clk := &movableClock{now: t0}
	s := NewTrendStore(clk.Now)

	tr := &model.Trend{Ticker: "SPY", Price: 500, Timestamp: t0}
	tr.Frames.H4 = model.FrameTrend{Direction: model.BiasBullish, Open: 495, Close: 500}
	tr.Frames.H1 = model.FrameTrend{Direction: model.BiasBullish}
	if _, err := s.Update(tr); err != nil {
		t.Fatal(err)
	}

	next := &model.Trend{Ticker: "SPY", Price: 501, Timestamp: t0}
	next.Frames.H4 = model.FrameTrend{Direction: model.BiasBearish}
	if out, err := s.Update(next); err != nil || out != Replaced {
		t.Fatalf("Update: %v %v", out, err)
	}
	got, ok := s.Get("SPY")
	if !ok {
		t.Fatal("应存在趋势")
	}
	if got.Frames.H1.Direction != "" {
		t.Fatalf("整体替换不应保留旧字段, got %+v", got.Frames.H1)
	}

	clk.Advance(TrendTTL)
	if _, ok := s.Get("SPY"); ok {
		t.Fatal("TTL 到期后不应读取到")
	}
	if n := s.CleanupExpired(); n != 1 {
		t.Fatalf("CleanupExpired=%d", n)
	}
}

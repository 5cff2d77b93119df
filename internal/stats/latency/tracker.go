// Package latency 统计上游信号的送达时延（接收时间 - 信号时间戳）。
// 按周期维护独立的滚动窗口，另有一个全量窗口。
package latency

import (
	"sort"
	"sync"
	"time"

	"confluence-paper-trader/internal/bus"
	"confluence-paper-trader/internal/core/model"
)

// LatencyStats 时延统计快照（滚动窗口）
// 单位：毫秒。
type LatencyStats struct {
	// Timeframe 信号周期，全量统计时为空
	Timeframe model.Timeframe `json:"timeframe,omitempty"`
	// Count 样本总数（累计）
	Count int64 `json:"count"`

	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P99Ms float64 `json:"p99_ms"`
	// MaxMs 窗口内最大时延
	MaxMs float64 `json:"max_ms"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		values[i] = tmp[idx]
	}
	return count, values
}

func (w *rollingWindow) stats(tf model.Timeframe) LatencyStats {
	count, qs := w.snapshotQuantiles(0.50, 0.90, 0.99, 1)
	return LatencyStats{
		Timeframe: tf,
		Count:     count,
		P50Ms:     float64(qs[0]) / 1_000_000.0,
		P90Ms:     float64(qs[1]) / 1_000_000.0,
		P99Ms:     float64(qs[2]) / 1_000_000.0,
		MaxMs:     float64(qs[3]) / 1_000_000.0,
	}
}

// Tracker 信号送达时延追踪器，可并发使用
type Tracker struct {
	windowSize int
	all        *rollingWindow

	mu   sync.RWMutex
	byTF map[model.Timeframe]*rollingWindow
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 滚动窗口大小（建议 10000），用于 P50/P90/P99。
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		all:        newRollingWindow(windowSize),
		byTF:       make(map[model.Timeframe]*rollingWindow),
	}
}

// Attach 在总线上订阅 SIGNAL_RECEIVED
func (t *Tracker) Attach(b *bus.Bus) (*bus.Subscription, error) {
	return b.Subscribe("latency", func(e bus.Event) {
		if sig, ok := e.Payload.(*model.Signal); ok && sig != nil {
			t.Add(sig.Timeframe, sig.Timestamp, e.Time)
		}
	}, bus.SignalReceived)
}

// Add 记录一条信号的送达时延
// 时延定义：lag_ns = receivedAt - signalTs。
// 缺省时间戳的信号以接收时间补齐，时延恒为 0，不计入。
func (t *Tracker) Add(tf model.Timeframe, signalTs, receivedAt time.Time) {
	if signalTs.IsZero() || receivedAt.IsZero() {
		return
	}
	lag := receivedAt.Sub(signalTs).Nanoseconds()
	if lag == 0 {
		return
	}

	t.all.add(lag)
	t.window(tf).add(lag)
}

func (t *Tracker) window(tf model.Timeframe) *rollingWindow {
	t.mu.RLock()
	w, ok := t.byTF[tf]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok = t.byTF[tf]; !ok {
		w = newRollingWindow(t.windowSize)
		t.byTF[tf] = w
	}
	return w
}

// Overall 全部周期的统计快照
func (t *Tracker) Overall() LatencyStats {
	return t.all.stats("")
}

// Stats 获取指定周期的统计快照
func (t *Tracker) Stats(tf model.Timeframe) LatencyStats {
	t.mu.RLock()
	w, ok := t.byTF[tf]
	t.mu.RUnlock()
	if !ok {
		return LatencyStats{Timeframe: tf}
	}
	return w.stats(tf)
}

// ByTimeframe 返回所有已出现周期的统计快照
func (t *Tracker) ByTimeframe() []LatencyStats {
	t.mu.RLock()
	tfs := make([]model.Timeframe, 0, len(t.byTF))
	for tf := range t.byTF {
		tfs = append(tfs, tf)
	}
	t.mu.RUnlock()

	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Minutes() < tfs[j].Minutes() })
	out := make([]LatencyStats, 0, len(tfs))
	for _, tf := range tfs {
		out = append(out, t.Stats(tf))
	}
	return out
}

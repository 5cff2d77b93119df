package latency

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"confluence-paper-trader/internal/bus"
	"confluence-paper-trader/internal/core/model"
)

var base = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

func TestTracker_LagCalculation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("单样本时各分位数等于时延", prop.ForAll(
		func(lagMs int64) bool {
			tr := NewTracker(100)
			tr.Add(model.TF5M, base, base.Add(time.Duration(lagMs)*time.Millisecond))

			s := tr.Stats(model.TF5M)
			want := float64(lagMs)
			return s.Count == 1 &&
				approxEqual(s.P50Ms, want, 1e-9) &&
				approxEqual(s.P99Ms, want, 1e-9) &&
				approxEqual(s.MaxMs, want, 1e-9) &&
				approxEqual(tr.Overall().P50Ms, want, 1e-9)
		},
		gen.Int64Range(1, 3_600_000),
	))

	properties.TestingRun(t)
}

func TestTracker_Percentiles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("P50/P90/P99 与排序分位数一致", prop.ForAll(
		func(lagsMs []int64) bool {
			tr := NewTracker(1000)
			for _, ms := range lagsMs {
				tr.Add(model.TF1H, base, base.Add(time.Duration(ms)*time.Millisecond))
			}

			stats := tr.Stats(model.TF1H)

			sorted := make([]int64, len(lagsMs))
			copy(sorted, lagsMs)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			want50 := float64(sorted[idxQuantile(sorted, 0.50)])
			want90 := float64(sorted[idxQuantile(sorted, 0.90)])
			want99 := float64(sorted[idxQuantile(sorted, 0.99)])

			return approxEqual(stats.P50Ms, want50, 1e-9) &&
				approxEqual(stats.P90Ms, want90, 1e-9) &&
				approxEqual(stats.P99Ms, want99, 1e-9) &&
				stats.P50Ms <= stats.P90Ms && stats.P90Ms <= stats.P99Ms && stats.P99Ms <= stats.MaxMs
		},
		gen.SliceOfN(20, gen.Int64Range(1, 5000)),
	))

	properties.TestingRun(t)
}

func TestTracker_TimeframeIndependence(t *testing.T) {
	tr := NewTracker(100)

	tr.Add(model.TF5M, base, base.Add(10*time.Millisecond))
	tr.Add(model.TF4H, base, base.Add(100*time.Millisecond))
	// 缺省时间戳（时延 0）与零值时间不计入
	tr.Add(model.TF4H, base, base)
	tr.Add(model.TF4H, time.Time{}, base)

	if s := tr.Stats(model.TF5M); math.Abs(s.P50Ms-10) > 1e-9 {
		t.Fatalf("5m P50Ms=%f, want 10", s.P50Ms)
	}
	if s := tr.Stats(model.TF4H); math.Abs(s.P50Ms-100) > 1e-9 || s.Count != 1 {
		t.Fatalf("4h stats=%+v, want P50 100 / Count 1", s)
	}
	if got := tr.Overall().Count; got != 2 {
		t.Fatalf("Overall Count=%d, want 2", got)
	}
	if got := tr.Stats(model.TF1H); got.Count != 0 {
		t.Fatalf("1h Count=%d, want 0", got.Count)
	}

	all := tr.ByTimeframe()
	if len(all) != 2 || all[0].Timeframe != model.TF5M || all[1].Timeframe != model.TF4H {
		t.Fatalf("ByTimeframe=%+v", all)
	}
}

func TestTracker_RollingWindowEvicts(t *testing.T) {
	tr := NewTracker(2)
	for _, ms := range []int{1000, 5, 7} {
		tr.Add(model.TF15M, base, base.Add(time.Duration(ms)*time.Millisecond))
	}
	s := tr.Stats(model.TF15M)
	if s.Count != 3 {
		t.Fatalf("Count=%d, want 3", s.Count)
	}
	if math.Abs(s.MaxMs-7) > 1e-9 {
		t.Fatalf("MaxMs=%f, want 7", s.MaxMs)
	}
}

func TestTracker_AttachConsumesSignalReceived(t *testing.T) {
	b := bus.New(8, nil)
	tr := NewTracker(10)
	if _, err := tr.Attach(b); err != nil {
		t.Fatal(err)
	}

	sig := &model.Signal{Timeframe: model.TF30M, Timestamp: base}
	b.Publish(bus.Event{Type: bus.SignalReceived, Time: base.Add(250 * time.Millisecond), Payload: sig})
	b.Publish(bus.Event{Type: bus.DecisionMade, Time: base.Add(time.Second), Payload: sig})
	b.Close()

	s := tr.Stats(model.TF30M)
	if s.Count != 1 || math.Abs(s.P50Ms-250) > 1e-9 {
		t.Fatalf("stats=%+v, want one 250ms sample", s)
	}
}

func idxQuantile(sorted []int64, q float64) int {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return 0
	}
	if q >= 1 {
		return len(sorted) - 1
	}
	idx := int(float64(len(sorted)-1) * q)
	if idx < 0 {
		return 0
	}
	if idx >= len(sorted) {
		return len(sorted) - 1
	}
	return idx
}

func approxEqual(a, b float64, eps float64) bool {
	return math.Abs(a-b) <= eps
}

package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/timeutil"
)

type trendSlot struct {
	trend     model.Trend
	expiresAt time.Time
}

// TrendStore 按 ticker 保存多周期趋势快照，每次整体替换，不做字段合并
type TrendStore struct {
	mu    sync.RWMutex
	clock timeutil.Clock
	slots map[string]trendSlot
}

// NewTrendStore 创建趋势存储
func NewTrendStore(clock timeutil.Clock) *TrendStore {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &TrendStore{
		clock: clock,
		slots: make(map[string]trendSlot),
	}
}

// Update 整体替换某标的的趋势快照
func (s *TrendStore) Update(t *model.Trend) (Outcome, error) {
	if t == nil || t.Ticker == "" {
		return Discarded, errors.New("趋势缺少 ticker")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	start := t.Timestamp
	if start.IsZero() {
		start = now
	}
	_, existed := s.slots[t.Ticker]
	s.slots[t.Ticker] = trendSlot{trend: *t, expiresAt: start.Add(TrendTTL)}
	if existed {
		return Replaced, nil
	}
	return Stored, nil
}

// Get 获取未过期的趋势快照
func (s *TrendStore) Get(ticker string) (model.Trend, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[ticker]
	if !ok || !s.clock().Before(slot.expiresAt) {
		return model.Trend{}, false
	}
	return slot.trend, true
}

// ActiveSnapshot 返回所有未过期趋势，按 ticker 排序
func (s *TrendStore) ActiveSnapshot() []model.Trend {
	s.mu.RLock()
	now := s.clock()
	out := make([]model.Trend, 0, len(s.slots))
	for _, slot := range s.slots {
		if now.Before(slot.expiresAt) {
			out = append(out, slot.trend)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// CleanupExpired 删除已过期快照，返回删除数量
func (s *TrendStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	n := 0
	for k, slot := range s.slots {
		if !now.Before(slot.expiresAt) {
			delete(s.slots, k)
			n++
		}
	}
	return n
}

// Package store 维护每个标的最新的信号、阶段与趋势状态。
// 过期采用读时惰性判断，不依赖定时器；每个存储一把读写锁，
// 同 key 的写入在锁内比较并替换，读取返回锁内拷贝的快照。
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/timeutil"
)

// ErrUnsupportedTimeframe 信号周期不在 3m-4h 之间
var ErrUnsupportedTimeframe = errors.New("不支持的信号周期")

// Outcome 写入结果
type Outcome int

const (
	// Stored 空槽位写入
	Stored Outcome = iota
	// Replaced 替换了已过期或质量更低的旧信号
	Replaced
	// Discarded 旧信号质量不低于新信号，新信号被丢弃
	Discarded
	// Expired 新信号到达时已超出有效期，不写入
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Replaced:
		return "replaced"
	case Discarded:
		return "discarded"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type signalKey struct {
	ticker    string
	timeframe model.Timeframe
}

type signalSlot struct {
	signal    model.Signal
	expiresAt time.Time
}

// SignalStore 按 (ticker, timeframe) 保存最新信号
type SignalStore struct {
	mu    sync.RWMutex
	clock timeutil.Clock
	slots map[signalKey]signalSlot
}

// NewSignalStore 创建信号存储
// 参数 clock: 为 nil 时使用系统时钟
func NewSignalStore(clock timeutil.Clock) *SignalStore {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &SignalStore{
		clock: clock,
		slots: make(map[signalKey]signalSlot),
	}
}

// Update 写入信号
// 槽位为空或旧信号已过期时直接写入；否则仅当新信号质量严格更高时替换，平局保留旧信号。
// 到达时已过期的信号返回 Expired，槽位不变。
// 返回 Discarded/Expired 时 err 为 nil。
func (s *SignalStore) Update(sig *model.Signal) (Outcome, error) {
	if sig == nil || sig.Ticker == "" {
		return Discarded, errors.New("信号缺少 ticker")
	}
	if !sig.Timeframe.SignalTimeframe() {
		return Discarded, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, sig.Timeframe)
	}

	key := signalKey{ticker: sig.Ticker, timeframe: sig.Timeframe}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	slot := signalSlot{signal: *sig, expiresAt: SignalExpiry(sig, now)}
	if !now.Before(slot.expiresAt) {
		return Expired, nil
	}

	old, ok := s.slots[key]
	switch {
	case !ok:
		s.slots[key] = slot
		return Stored, nil
	case !now.Before(old.expiresAt):
		s.slots[key] = slot
		return Replaced, nil
	case sig.Quality.Rank() > old.signal.Quality.Rank():
		s.slots[key] = slot
		return Replaced, nil
	default:
		return Discarded, nil
	}
}

// Get 获取未过期的信号
func (s *SignalStore) Get(ticker string, tf model.Timeframe) (model.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[signalKey{ticker: ticker, timeframe: tf}]
	if !ok || !s.clock().Before(slot.expiresAt) {
		return model.Signal{}, false
	}
	return slot.signal, true
}

// ExpiresAt 返回槽位的过期时间（含已过期槽位）
func (s *SignalStore) ExpiresAt(ticker string, tf model.Timeframe) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[signalKey{ticker: ticker, timeframe: tf}]
	return slot.expiresAt, ok
}

// ActiveSnapshot 返回所有未过期信号的拷贝
// 按 ticker 升序、周期从长到短排序，保证相同状态得到相同顺序。
func (s *SignalStore) ActiveSnapshot() []model.Signal {
	return s.collect(func(signalKey) bool { return true })
}

// ActiveForTicker 返回某标的未过期信号
func (s *SignalStore) ActiveForTicker(ticker string) []model.Signal {
	return s.collect(func(k signalKey) bool { return k.ticker == ticker })
}

func (s *SignalStore) collect(match func(signalKey) bool) []model.Signal {
	s.mu.RLock()
	now := s.clock()
	out := make([]model.Signal, 0, len(s.slots))
	for k, slot := range s.slots {
		if match(k) && now.Before(slot.expiresAt) {
			out = append(out, slot.signal)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].Timeframe.Minutes() > out[j].Timeframe.Minutes()
	})
	return out
}

// CleanupExpired 删除已过期槽位，返回删除数量
func (s *SignalStore) CleanupExpired() int {
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

// Len 返回槽位数量（含尚未清理的过期槽位）
func (s *SignalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

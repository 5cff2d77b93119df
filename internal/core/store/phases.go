package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/timeutil"
)

type phaseKey struct {
	ticker string
	role   model.PhaseRole
}

type phaseSlot struct {
	phase     model.Phase
	expiresAt time.Time
}

// PhaseStore 按 (ticker, role) 保存当前阶段，新阶段总是替换旧阶段
type PhaseStore struct {
	mu    sync.RWMutex
	clock timeutil.Clock
	slots map[phaseKey]phaseSlot
}

// NewPhaseStore 创建阶段存储
func NewPhaseStore(clock timeutil.Clock) *PhaseStore {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &PhaseStore{
		clock: clock,
		slots: make(map[phaseKey]phaseSlot),
	}
}

// Update 写入阶段；槽位已有阶段时返回 Replaced
func (s *PhaseStore) Update(p *model.Phase) (Outcome, error) {
	if p == nil || p.Ticker == "" {
		return Discarded, errors.New("阶段缺少 ticker")
	}
	if !p.Role.Valid() {
		return Discarded, errors.New("阶段角色非法: " + string(p.Role))
	}

	key := phaseKey{ticker: p.Ticker, role: p.Role}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.slots[key]
	s.slots[key] = phaseSlot{phase: *p, expiresAt: PhaseExpiry(p, s.clock())}
	if existed {
		return Replaced, nil
	}
	return Stored, nil
}

// Get 获取未过期的阶段
func (s *PhaseStore) Get(ticker string, role model.PhaseRole) (model.Phase, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[phaseKey{ticker: ticker, role: role}]
	if !ok || !s.clock().Before(slot.expiresAt) {
		return model.Phase{}, false
	}
	return slot.phase, true
}

// ActiveSnapshot 返回所有未过期阶段
func (s *PhaseStore) ActiveSnapshot() []model.Phase {
	return s.collect(func(phaseKey) bool { return true })
}

// ActiveForTicker 返回某标的未过期阶段，按 REGIME/BIAS/SETUP/STRUCTURAL 排序
func (s *PhaseStore) ActiveForTicker(ticker string) []model.Phase {
	return s.collect(func(k phaseKey) bool { return k.ticker == ticker })
}

func (s *PhaseStore) collect(match func(phaseKey) bool) []model.Phase {
	s.mu.RLock()
	now := s.clock()
	out := make([]model.Phase, 0, len(s.slots))
	for k, slot := range s.slots {
		if match(k) && now.Before(slot.expiresAt) {
			out = append(out, slot.phase)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return roleOrder(out[i].Role) < roleOrder(out[j].Role)
	})
	return out
}

func roleOrder(r model.PhaseRole) int {
	switch r {
	case model.RoleRegime:
		return 0
	case model.RoleBias:
		return 1
	case model.RoleSetup:
		return 2
	default:
		return 3
	}
}

// CleanupExpired 删除已过期阶段，返回删除数量
func (s *PhaseStore) CleanupExpired() int {
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

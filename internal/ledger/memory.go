package ledger

import (
	"context"
	"sort"
	"sync"

	"confluence-paper-trader/internal/core/model"
)

// MemoryRepository 进程内账本存储（回放与测试使用）
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*model.LedgerEntry
	order   []string
}

// NewMemoryRepository 创建内存存储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]*model.LedgerEntry)}
}

// Insert 插入记录
func (r *MemoryRepository) Insert(ctx context.Context, e *model.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.ID]; ok {
		return ErrDuplicateID
	}
	r.entries[e.ID] = e.Clone()
	r.order = append(r.order, e.ID)
	return nil
}

// SetExit 条件写入平仓数据
func (r *MemoryRepository) SetExit(ctx context.Context, id string, x *model.ExitData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Exit != nil {
		return ErrExitAlreadyRecorded
	}
	cp := *x
	e.Exit = &cp
	return nil
}

// Get 读取记录副本
func (r *MemoryRepository) Get(ctx context.Context, id string) (*model.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// Query 按条件查询
func (r *MemoryRepository) Query(ctx context.Context, f Filter) ([]model.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f = f.normalized()

	r.mu.RLock()
	matched := make([]*model.LedgerEntry, 0)
	for _, id := range r.order {
		if e := r.entries[id]; f.Match(e) {
			matched = append(matched, e.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if f.Offset >= len(matched) {
		return []model.LedgerEntry{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]model.LedgerEntry, len(matched))
	for i, e := range matched {
		out[i] = *e
	}
	return out, nil
}

// Close 无资源需要释放
func (r *MemoryRepository) Close() error {
	return nil
}

package ledger

import (
	"context"

	"confluence-paper-trader/internal/core/model"
)

// Repository 账本存储
// 实现只需提供插入、条件写平仓与读取；没有更新其它字段或删除的入口。
type Repository interface {
	// Insert 插入新记录；ID 已存在时返回 ErrDuplicateID
	Insert(ctx context.Context, e *model.LedgerEntry) error
	// SetExit 仅当记录尚无平仓数据时写入，单次条件写保证并发下只有一个成功
	SetExit(ctx context.Context, id string, x *model.ExitData) error
	// Get 读取记录；不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*model.LedgerEntry, error)
	// Query 按条件查询，按创建时间、ID 升序
	Query(ctx context.Context, f Filter) ([]model.LedgerEntry, error)
	Close() error
}

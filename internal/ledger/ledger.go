// Package ledger 实现只追加的决策账本。
//
// 记录在决策时通过 Append 写入一次，之后唯一允许的修改是 UpdateExit 写入一次平仓数据。
// 瞬时存储错误按指数退避重试，耗尽后写入死信并返回 ErrRetriesExhausted。
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/output/jsonl"
	"confluence-paper-trader/internal/util/backoff"
	"confluence-paper-trader/internal/util/timeutil"
)

const (
	opAppend = "append"
	opExit   = "exit"
)

// auditRecord 审计镜像行
type auditRecord struct {
	Op    string             `json:"op"`
	ID    string             `json:"id"`
	At    time.Time          `json:"at"`
	Entry *model.LedgerEntry `json:"entry,omitempty"`
	Exit  *model.ExitData    `json:"exit,omitempty"`
}

// deadLetter 重试耗尽的写入
type deadLetter struct {
	auditRecord
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Option 账本构造参数
type Option func(*Ledger)

// WithAudit 设置审计镜像输出
func WithAudit(s jsonl.Sink) Option {
	return func(l *Ledger) { l.audit = s }
}

// WithDeadLetter 设置死信输出
func WithDeadLetter(s jsonl.Sink) Option {
	return func(l *Ledger) { l.deadLetters = s }
}

// WithClock 设置时钟
func WithClock(c timeutil.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log.Named("ledger")
		}
	}
}

// WithRetry 设置重试次数与退避区间
func WithRetry(maxAttempts int, base, max time.Duration) Option {
	return func(l *Ledger) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if base > 0 {
			l.retryBase = base
		}
		if max >= l.retryBase {
			l.retryMax = max
		}
	}
}

// WithIDGenerator 替换 ID 生成器
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// Ledger 账本服务
type Ledger struct {
	repo        Repository
	audit       jsonl.Sink
	deadLetters jsonl.Sink
	clock       timeutil.Clock
	log         *zap.Logger
	newID       func() string

	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration
}

// New 创建账本服务
func New(repo Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:        repo,
		clock:       timeutil.SystemClock,
		log:         zap.NewNop(),
		newID:       uuid.NewString,
		maxAttempts: 5,
		retryBase:   100 * time.Millisecond,
		retryMax:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open 按配置创建存储与账本服务
func Open(ctx context.Context, cfg config.LedgerConfig, log *zap.Logger, opts ...Option) (*Ledger, error) {
	var repo Repository
	switch cfg.Driver {
	case "", "memory":
		repo = NewMemoryRepository()
	default:
		g, err := OpenGorm(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		repo = g
	}
	base := []Option{
		WithLogger(log),
		WithRetry(cfg.MaxRetries, cfg.RetryBase(), cfg.RetryMax()),
	}
	return New(repo, append(base, opts...)...), nil
}

// Append 追加新记录
// 校验数值与枚举，分配 ID 与 UTC 创建时间后写入存储；输入不会被修改。
// 返回: 写入后的记录副本
func (l *Ledger) Append(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: 空记录", model.ErrInvalid)
	}
	if entry.Exit != nil {
		return nil, fmt.Errorf("%w: 平仓数据只能通过 UpdateExit 写入", ErrImmutableField)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	e := entry.Clone()
	e.ID = l.newID()
	// 统一到微秒，postgres 与 sqlite 读回后与返回值一致
	e.CreatedAt = l.clock().UTC().Truncate(time.Microsecond)
	if e.EngineVersion == "" {
		e.EngineVersion = e.Decision.EngineVersion
	}

	attempt := 0
	err := l.retry(ctx, func(ctx context.Context) error {
		attempt++
		err := l.repo.Insert(ctx, e)
		if attempt > 1 && errors.Is(err, ErrDuplicateID) && l.insertLanded(ctx, e) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, l.fail(auditRecord{Op: opAppend, ID: e.ID, Entry: e}, err)
	}

	l.mirror(auditRecord{Op: opAppend, ID: e.ID, At: e.CreatedAt, Entry: e})
	l.log.Debug("账本记录已追加",
		zap.String("id", e.ID),
		zap.String("ticker", e.Decision.Ticker),
		zap.String("decision", string(e.Decision.Verdict)))
	return e.Clone(), nil
}

// UpdateExit 写入平仓数据
// 记录不存在返回 ErrNotFound；已有平仓数据返回 ErrExitAlreadyRecorded，均不重试。
func (l *Ledger) UpdateExit(ctx context.Context, id string, exit *model.ExitData) error {
	if exit == nil {
		return fmt.Errorf("%w: 空平仓数据", model.ErrInvalid)
	}
	if err := exit.Validate(); err != nil {
		return err
	}
	x := *exit

	attempt := 0
	err := l.retry(ctx, func(ctx context.Context) error {
		attempt++
		err := l.repo.SetExit(ctx, id, &x)
		if attempt > 1 && errors.Is(err, ErrExitAlreadyRecorded) && l.exitLanded(ctx, id, &x) {
			return nil
		}
		return err
	})
	if err != nil {
		return l.fail(auditRecord{Op: opExit, ID: id, Exit: &x}, err)
	}

	l.mirror(auditRecord{Op: opExit, ID: id, At: l.clock().UTC(), Exit: &x})
	l.log.Debug("平仓数据已写入",
		zap.String("id", id),
		zap.String("reason", string(x.ExitReason)),
		zap.Float64("pnl_net", x.PnLNet))
	return nil
}

// Save 保存整条记录
// 只有“与存储相比唯一的差异是首次写入平仓数据”时才接受，其余任何改动返回 ErrImmutableField。
func (l *Ledger) Save(ctx context.Context, entry *model.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: 空记录", model.ErrInvalid)
	}
	stored, err := l.Get(ctx, entry.ID)
	if err != nil {
		return err
	}

	same, err := frozenEqual(stored, entry)
	if err != nil {
		return err
	}
	if !same {
		return fmt.Errorf("%w: 记录 %s 的非平仓字段被修改", ErrImmutableField, entry.ID)
	}

	switch {
	case entry.Exit == nil && stored.Exit == nil:
		return nil
	case entry.Exit == nil:
		return fmt.Errorf("%w: 记录 %s 的平仓数据不能移除", ErrImmutableField, entry.ID)
	case stored.Exit != nil:
		a, _ := json.Marshal(stored.Exit)
		b, _ := json.Marshal(entry.Exit)
		if bytes.Equal(a, b) {
			return nil
		}
		return ErrExitAlreadyRecorded
	default:
		return l.UpdateExit(ctx, entry.ID, entry.Exit)
	}
}

// Delete 账本不支持删除
func (l *Ledger) Delete(_ context.Context, id string) error {
	l.log.Error("拒绝删除账本记录", zap.String("id", id))
	return fmt.Errorf("%w: 拒绝删除记录 %s", ErrAppendOnly, id)
}

// Get 读取记录
func (l *Ledger) Get(ctx context.Context, id string) (*model.LedgerEntry, error) {
	var out *model.LedgerEntry
	err := l.retry(ctx, func(ctx context.Context) error {
		e, err := l.repo.Get(ctx, id)
		out = e
		return err
	})
	return out, err
}

// Query 按条件查询
func (l *Ledger) Query(ctx context.Context, f Filter) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	err := l.retry(ctx, func(ctx context.Context) error {
		rows, err := l.repo.Query(ctx, f)
		out = rows
		return err
	})
	return out, err
}

// Close 关闭存储
func (l *Ledger) Close() error {
	return l.repo.Close()
}

func (l *Ledger) retry(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.New(l.retryBase, l.retryMax, 0.2)
	attempt := 0
	return b.Retry(ctx, l.maxAttempts, IsTransient, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err != nil && attempt < l.maxAttempts && IsTransient(err) {
			l.log.Warn("账本瞬时错误，准备重试", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

// fail 处理写入失败；重试耗尽时写入死信
func (l *Ledger) fail(rec auditRecord, err error) error {
	if !errors.Is(err, backoff.ErrExhausted) {
		return err
	}

	rec.At = l.clock().UTC()
	l.log.Error("账本写入重试耗尽",
		zap.String("op", rec.Op),
		zap.String("id", rec.ID),
		zap.Int("attempts", l.maxAttempts),
		zap.Error(err))

	if l.deadLetters != nil {
		dl := deadLetter{auditRecord: rec, Error: err.Error(), Attempts: l.maxAttempts}
		if werr := l.deadLetters.WriteSync(dl); werr != nil {
			l.log.Error("死信写入失败", zap.String("id", rec.ID), zap.Error(werr))
		}
	}
	return fmt.Errorf("%w: %s %s: %w", ErrRetriesExhausted, rec.Op, rec.ID, err)
}

func (l *Ledger) mirror(rec auditRecord) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Write(rec); err != nil {
		l.log.Warn("审计镜像写入失败", zap.String("id", rec.ID), zap.Error(err))
	}
}

// frozenEqual 比较两条记录除平仓数据以外的全部字段
// insertLanded 重试时遇到 ID 冲突：上一次插入可能已提交但未确认，
// 存储中的记录与本次写入一致即视为成功
func (l *Ledger) insertLanded(ctx context.Context, e *model.LedgerEntry) bool {
	stored, err := l.repo.Get(ctx, e.ID)
	if err != nil || stored.Exit != nil {
		return false
	}
	same, err := frozenEqual(stored, e)
	if err != nil || !same {
		return false
	}
	l.log.Warn("重试时发现记录已写入，按成功处理", zap.String("id", e.ID))
	return true
}

// exitLanded 同 insertLanded，针对平仓写入
func (l *Ledger) exitLanded(ctx context.Context, id string, x *model.ExitData) bool {
	stored, err := l.repo.Get(ctx, id)
	if err != nil || stored.Exit == nil {
		return false
	}
	ja, err := json.Marshal(stored.Exit)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(x)
	if err != nil || !bytes.Equal(ja, jb) {
		return false
	}
	l.log.Warn("重试时发现平仓数据已写入，按成功处理", zap.String("id", id))
	return true
}

func frozenEqual(a, b *model.LedgerEntry) (bool, error) {
	ca, cb := a.Clone(), b.Clone()
	ca.Exit, cb.Exit = nil, nil
	ja, err := json.Marshal(ca)
	if err != nil {
		return false, err
	}
	jb, err := json.Marshal(cb)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}

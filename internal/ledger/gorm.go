package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/model"
)

// entryRow 账本表行
// 过滤用字段单独成列并建索引，完整记录以 JSON 保存，读取时以 JSON 为准。
type entryRow struct {
	ID            string         `gorm:"primaryKey;size:36"`
	CreatedAt     time.Time      `gorm:"index;not null"`
	EngineVersion string         `gorm:"size:32;not null"`
	Verdict       string         `gorm:"size:16;index;not null"`
	Ticker        string         `gorm:"size:16;index"`
	Timeframe     string         `gorm:"size:8;index"`
	Quality       string         `gorm:"size:16;index"`
	DTEBucket     string         `gorm:"column:dte_bucket;size:16;index"`
	ExitRecorded  bool           `gorm:"not null;default:false"`
	Entry         datatypes.JSON `gorm:"not null"`
	ExitData      datatypes.JSON
}

// TableName 表名
func (entryRow) TableName() string {
	return "ledger_entries"
}

func toRow(e *model.LedgerEntry) (*entryRow, error) {
	frozen := e.Clone()
	frozen.Exit = nil
	body, err := json.Marshal(frozen)
	if err != nil {
		return nil, fmt.Errorf("序列化账本记录失败: %w", err)
	}
	row := &entryRow{
		ID:            e.ID,
		CreatedAt:     e.CreatedAt,
		EngineVersion: e.EngineVersion,
		Verdict:       string(e.Decision.Verdict),
		Ticker:        e.Decision.Ticker,
		Timeframe:     string(e.Timeframe()),
		Quality:       string(e.Quality()),
		DTEBucket:     string(e.DTEBucket()),
		Entry:         datatypes.JSON(body),
	}
	if e.Exit != nil {
		x, err := json.Marshal(e.Exit)
		if err != nil {
			return nil, fmt.Errorf("序列化平仓数据失败: %w", err)
		}
		row.ExitRecorded = true
		row.ExitData = datatypes.JSON(x)
	}
	return row, nil
}

func (r *entryRow) toEntry() (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	if err := json.Unmarshal(r.Entry, &e); err != nil {
		return nil, fmt.Errorf("解析账本记录 %s 失败: %w", r.ID, err)
	}
	if r.ExitRecorded && len(r.ExitData) > 0 {
		var x model.ExitData
		if err := json.Unmarshal(r.ExitData, &x); err != nil {
			return nil, fmt.Errorf("解析平仓数据 %s 失败: %w", r.ID, err)
		}
		e.Exit = &x
	}
	return &e, nil
}

// GormRepository 基于 gorm 的账本存储（sqlite / postgres）
type GormRepository struct {
	db           *gorm.DB
	queryTimeout time.Duration
	log          *zap.Logger
}

// OpenGorm 按配置打开数据库、配置连接池并迁移表结构
// 参数 cfg: 账本配置，Driver 为 sqlite 或 postgres
// 返回: 存储实例；建连或迁移失败返回错误
func OpenGorm(ctx context.Context, cfg config.LedgerConfig, log *zap.Logger) (*GormRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ledger-db")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的账本驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(zap.NewStdLog(log), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("打开账本数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("连接账本数据库超时或失败: %w", err)
	}

	if err := db.WithContext(pingCtx).AutoMigrate(&entryRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("迁移账本表失败: %w", err)
	}

	log.Info("账本数据库已连接",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return &GormRepository{db: db, queryTimeout: cfg.QueryTimeout(), log: log}, nil
}

func (r *GormRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Insert 插入记录
func (r *GormRepository) Insert(ctx context.Context, e *model.LedgerEntry) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

// SetExit 条件更新：仅 exit_recorded = false 的行会被写入
func (r *GormRepository) SetExit(ctx context.Context, id string, x *model.ExitData) error {
	body, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("序列化平仓数据失败: %w", err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res := r.db.WithContext(ctx).
		Model(&entryRow{}).
		Where("id = ? AND exit_recorded = ?", id, false).
		Updates(map[string]any{
			"exit_recorded": true,
			"exit_data":     datatypes.JSON(body),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// 未更新任何行：区分记录不存在与已平仓
	var count int64
	if err := r.db.WithContext(ctx).Model(&entryRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrExitAlreadyRecorded
}

// Get 读取记录
func (r *GormRepository) Get(ctx context.Context, id string) (*model.LedgerEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var row entryRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toEntry()
}

// Query 按条件查询
func (r *GormRepository) Query(ctx context.Context, f Filter) ([]model.LedgerEntry, error) {
	f = f.normalized()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := r.db.WithContext(ctx).Model(&entryRow{})
	if f.Verdict != "" {
		q = q.Where("verdict = ?", string(f.Verdict))
	}
	if f.Ticker != "" {
		q = q.Where("ticker = ?", f.Ticker)
	}
	if f.Timeframe != "" {
		q = q.Where("timeframe = ?", string(f.Timeframe))
	}
	if f.Quality != "" {
		q = q.Where("quality = ?", string(f.Quality))
	}
	if f.DTEBucket != "" {
		q = q.Where("dte_bucket = ?", string(f.DTEBucket))
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", f.To.UTC())
	}

	var rows []entryRow
	if err := q.Order("created_at ASC").Order("id ASC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]model.LedgerEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// Close 关闭连接池
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicate 主键冲突；方言未翻译时按驱动错误文本判断
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

var _ Repository = (*GormRepository)(nil)
var _ Repository = (*MemoryRepository)(nil)

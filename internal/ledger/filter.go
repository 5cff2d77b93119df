package ledger

import (
	"time"

	"confluence-paper-trader/internal/core/model"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Filter 查询条件；零值字段不参与过滤
type Filter struct {
	Verdict   model.Verdict
	Ticker    string
	Timeframe model.Timeframe
	Quality   model.Quality
	DTEBucket model.DTEBucket
	// From 创建时间下界（含）
	From time.Time
	// To 创建时间上界（不含）
	To time.Time
	// Limit 每页条数，默认 100，最大 1000
	Limit  int
	Offset int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match 判断记录是否满足条件（不含分页）
func (f Filter) Match(e *model.LedgerEntry) bool {
	if f.Verdict != "" && e.Decision.Verdict != f.Verdict {
		return false
	}
	if f.Ticker != "" && e.Decision.Ticker != f.Ticker {
		return false
	}
	if f.Timeframe != "" && e.Timeframe() != f.Timeframe {
		return false
	}
	if f.Quality != "" && e.Quality() != f.Quality {
		return false
	}
	if f.DTEBucket != "" && e.DTEBucket() != f.DTEBucket {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

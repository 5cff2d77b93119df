package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("账本记录不存在")
	// ErrExitAlreadyRecorded 记录已有平仓数据
	ErrExitAlreadyRecorded = errors.New("平仓数据已写入，不能重复写入")
	// ErrImmutableField 试图修改平仓以外的字段
	ErrImmutableField = errors.New("账本字段不可修改")
	// ErrAppendOnly 账本只允许追加，不允许删除
	ErrAppendOnly = errors.New("账本只允许追加")
	// ErrDuplicateID 记录 ID 冲突
	ErrDuplicateID = errors.New("账本记录 ID 重复")
	// ErrRetriesExhausted 瞬时错误重试耗尽，记录已写入死信
	ErrRetriesExhausted = errors.New("账本写入重试耗尽")
)

// transientError 标记可重试的存储错误
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "瞬时存储错误: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient 将错误标记为可重试
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// transientHints 驱动错误信息中代表瞬时故障的片段（sqlite 锁竞争、pg 连接中断）
var transientHints = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"connection refused",
	"connection reset",
	"broken pipe",
	"too many connections",
	"terminating connection",
	"the database system is starting up",
	"i/o timeout",
}

// IsTransient 判断错误是否值得重试
// 约束类错误（记录不存在、重复平仓、ID 冲突、字段不可改）永不重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExitAlreadyRecorded),
		errors.Is(err, ErrImmutableField),
		errors.Is(err, ErrAppendOnly),
		errors.Is(err, ErrDuplicateID),
		errors.Is(err, context.Canceled):
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, h := range transientHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

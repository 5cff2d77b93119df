// Package backoff 实现指数退避。
// 用于上游 WebSocket 断线重连以及账本写入的瞬时故障重试。
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted 重试次数耗尽
var ErrExhausted = errors.New("重试次数耗尽")

// maxShift 限制位移次数，避免 1<<attempt 溢出
const maxShift = 30

// Backoff 指数退避计算器
// 每次调用 Next() 返回下一次重试的等待时间，直到达到最大值。
// 非并发安全：每条重试链路持有独立实例。
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// attempt 当前重试次数
	attempt int
	// randFloat 随机源，测试中可替换
	randFloat func() float64
}

// New 创建新的退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间
// 参数 jitter: 抖动比例（0.2 即 ±20%）
func New(base, max time.Duration, jitter float64) *Backoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{
		base:      base,
		max:       max,
		jitter:    jitter,
		randFloat: rand.Float64,
	}
}

// NewDefault 创建默认配置的退避计算器
// 基础间隔 1s，最大间隔 30s，抖动 ±20%
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 获取下次重试的等待时间
// 计算公式: min(base * 2^attempt, max)，然后应用抖动
func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	delay := b.base * time.Duration(int64(1)<<shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}

	if b.jitter > 0 {
		jitterFactor := 1.0 + (b.randFloat()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	b.attempt++
	return delay
}

// Reset 重置退避计算器（连接成功或写入成功后调用）
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Retry 在 op 返回可重试错误时按退避间隔重试，最多执行 maxAttempts 次
// 参数 retryable: 判断错误是否为瞬时错误；返回 false 的错误立即返回，不再重试
// 返回: 最后一次错误；若次数耗尽，错误同时包装 ErrExhausted
func (b *Backoff) Retry(ctx context.Context, maxAttempts int, retryable func(error) bool, op func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	b.Reset()

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}

		timer := time.NewTimer(b.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("等待重试时上下文结束: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w（%d 次）: %w", ErrExhausted, maxAttempts, lastErr)
}

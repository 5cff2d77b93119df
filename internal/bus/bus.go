// Package bus 提供单向事件总线。
//
// 发布方不等待订阅方：每个订阅者拥有独立的缓冲队列与处理协程，队列满时丢弃新事件，
// 订阅方的 panic 被恢复并记录，不影响其他订阅者与发布方。
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventType 事件类型
type EventType string

const (
	SignalReceived     EventType = "SIGNAL_RECEIVED"
	DecisionMade       EventType = "DECISION_MADE"
	TradeOpened        EventType = "TRADE_OPENED"
	TradeClosed        EventType = "TRADE_CLOSED"
	LedgerEntryCreated EventType = "LEDGER_ENTRY_CREATED"
)

// ErrClosed 总线已关闭
var ErrClosed = errors.New("事件总线已关闭")

// Event 总线事件
// Payload 按类型为 *model.Signal / *model.Decision / *model.Execution / *model.ExitData / *model.LedgerEntry。
type Event struct {
	Type     EventType `json:"type"`
	Time     time.Time `json:"time"`
	Ticker   string    `json:"ticker,omitempty"`
	LedgerID string    `json:"ledger_id,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// Handler 事件处理函数
type Handler func(Event)

// Stats 投递统计
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
}

// Subscription 订阅句柄
type Subscription struct {
	name    string
	types   map[EventType]bool
	ch      chan Event
	handler Handler
	bus     *Bus
	once    sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// Name 订阅者名称
func (s *Subscription) Name() string {
	return s.name
}

// Stats 返回订阅者统计
func (s *Subscription) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Panics:    s.panics.Load(),
	}
}

// Unsubscribe 取消订阅；队列中已有事件仍会处理完
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s) })
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus 事件总线
type Bus struct {
	mu         sync.RWMutex
	subs       []*Subscription
	closed     bool
	bufferSize int
	log        *zap.Logger
	wg         sync.WaitGroup

	published atomic.Uint64
	// dropLog 丢弃日志采样，避免慢订阅者刷屏
	dropLog rate.Sometimes
}

// New 创建事件总线
// 参数 bufferSize: 每个订阅者的队列长度
func New(bufferSize int, log *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		bufferSize: bufferSize,
		log:        log.Named("bus"),
		dropLog:    rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Subscribe 注册订阅者
// 参数 types: 关心的事件类型，为空时接收全部事件
func (b *Bus) Subscribe(name string, h Handler, types ...EventType) (*Subscription, error) {
	sub := &Subscription{
		name:    name,
		ch:      make(chan Event, b.bufferSize),
		handler: h,
		bus:     b,
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	go b.run(sub)
	return sub, nil
}

// Publish 发布事件，从不阻塞
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			n := sub.dropped.Add(1)
			b.dropLog.Do(func() {
				b.log.Warn("订阅者队列已满，丢弃事件",
					zap.String("subscriber", sub.name),
					zap.String("type", string(e.Type)),
					zap.Uint64("dropped_total", n))
			})
		}
	}
}

// Published 已发布事件数
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close 关闭总线并等待所有订阅者处理完队列
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (b *Bus) run(sub *Subscription) {
	defer b.wg.Done()
	for e := range sub.ch {
		b.deliver(sub, e)
	}
}

// deliver 调用订阅者处理函数并恢复 panic
func (b *Bus) deliver(sub *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			sub.panics.Add(1)
			b.log.Error("订阅者处理事件时 panic",
				zap.String("subscriber", sub.name),
				zap.String("type", string(e.Type)),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	sub.handler(e)
	sub.delivered.Add(1)
}

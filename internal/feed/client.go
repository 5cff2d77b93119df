// Package feed 实现上游信号中继的 WebSocket 客户端。
// 每个文本帧是一个 {"type": ..., "payload": ...} 信封，交给 Handler 处理。
// 心跳机制: 文本 ping/pong，默认 25 秒间隔，10 秒超时。
package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/ingest"
	"confluence-paper-trader/internal/util/backoff"
	"confluence-paper-trader/internal/util/timeutil"
)

// Handler 处理一个原始信封
type Handler func(ctx context.Context, raw []byte) error

// Metrics 连接指标
type Metrics struct {
	// Received 收到的信封数
	Received int64 `json:"received"`
	// Rejected 入站校验失败数
	Rejected int64 `json:"rejected"`
	// Failed 校验通过但处理失败数（例如账本写入失败）
	Failed         int64 `json:"failed"`
	ReconnectCount int64 `json:"reconnect_count"`
	// WsRttMs 最近一次 ping/pong 往返（毫秒）
	WsRttMs          int64 `json:"ws_rtt_ms"`
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
}

// Option 客户端选项
type Option func(*Client)

// WithBackoff 替换重连退避策略
func WithBackoff(b *backoff.Backoff) Option {
	return func(c *Client) {
		c.backoff = b
	}
}

// Client 上游中继 WebSocket 客户端
type Client struct {
	cfg     config.FeedConfig
	handler Handler
	logger  *zap.Logger

	// conn 当前连接；写入（ping）必须持有 connMu
	conn    *websocket.Conn
	connMu  sync.Mutex
	backoff *backoff.Backoff

	received   atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
	reconnects atomic.Int64
	rttMs      atomic.Int64

	lastMsgNs      atomic.Int64
	lastPingSentNs atomic.Int64
	lastPongRecvNs atomic.Int64

	// rejectLog 处理失败日志采样
	rejectLog rate.Sometimes
}

// NewClient 创建客户端
// 参数 cfg: 中继配置
// 参数 handler: 信封处理函数，通常为 pipeline.Ingest
// 参数 logger: 日志记录器，可为空
func NewClient(cfg config.FeedConfig, handler Handler, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:       cfg,
		handler:   handler,
		logger:    logger.Named("feed"),
		backoff:   backoff.NewDefault(),
		rejectLog: rate.Sometimes{First: 10, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect 建立 WebSocket 连接
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", "confluence-paper-trader/1.0")
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接信号中继失败: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.backoff.Reset()
	c.lastPingSentNs.Store(0)
	c.lastPongRecvNs.Store(0)
	c.logger.Info("信号中继连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// Run 启动客户端主循环，直到 ctx 取消
// 首次连接立即进行，之后断线按退避重连。
func (c *Client) Run(ctx context.Context) error {
	go c.heartbeatLoop(ctx)
	go func() {
		<-ctx.Done()
		c.closeConn()
	}()

	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("首次连接失败，进入重连", zap.Error(err))
	}
	c.readLoop(ctx)
	return ctx.Err()
}

// readLoop 读取循环
func (c *Client) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout())); err != nil {
			c.dropConn(conn, err)
			continue
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.dropConn(conn, err)
			continue
		}

		nowNs := timeutil.NowNano()
		c.lastMsgNs.Store(nowNs)

		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		if isPong(data) {
			c.lastPongRecvNs.Store(nowNs)
			if last := c.lastPingSentNs.Load(); last > 0 {
				c.rttMs.Store((nowNs - last) / 1_000_000)
			}
			continue
		}

		c.dispatch(ctx, data)
	}
}

// dispatch 将信封交给处理函数并统计结果
func (c *Client) dispatch(ctx context.Context, data []byte) {
	c.received.Add(1)
	err := c.handler(ctx, data)
	if err == nil {
		return
	}

	if _, ok := ingest.Validation(err); ok {
		c.rejected.Add(1)
	} else {
		c.failed.Add(1)
	}
	c.rejectLog.Do(func() {
		sample := data
		if len(sample) > 200 {
			sample = sample[:200]
		}
		c.logger.Warn("处理中继消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
	})
}

// heartbeatLoop 心跳循环
// 上一个 ping 超过 PongTimeout 仍未收到 pong 时断开连接，由读取循环重连。
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lastPing := c.lastPingSentNs.Load()
		lastPong := c.lastPongRecvNs.Load()
		if lastPing > 0 && lastPong < lastPing && timeutil.NowNano()-lastPing > c.cfg.PongTimeout().Nanoseconds() {
			c.logger.Warn("中继心跳超时，触发重连")
			c.closeConn()
			continue
		}

		// gorilla/websocket 不允许并发写，ping 在 connMu 下发送
		c.connMu.Lock()
		conn := c.conn
		if conn == nil {
			c.connMu.Unlock()
			continue
		}
		pingNs := timeutil.NowNano()
		err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
		c.connMu.Unlock()
		if err != nil {
			c.logger.Warn("发送 ping 失败", zap.Error(err))
			continue
		}
		c.lastPingSentNs.Store(pingNs)
	}
}

// dropConn 读取出错后丢弃连接
func (c *Client) dropConn(conn *websocket.Conn, err error) {
	c.logger.Warn("读取中继消息失败", zap.Error(err))
	c.reconnects.Add(1)
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close()
}

// reconnect 退避后重连
func (c *Client) reconnect(ctx context.Context) {
	delay := c.backoff.Next()
	c.logger.Info("准备重连信号中继", zap.Duration("delay", delay), zap.Int("attempt", c.backoff.Attempt()))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("重连信号中继失败", zap.Error(err))
	}
}

// closeConn 关闭当前连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Metrics 获取连接指标
func (c *Client) Metrics() Metrics {
	m := Metrics{
		Received:       c.received.Load(),
		Rejected:       c.rejected.Load(),
		Failed:         c.failed.Load(),
		ReconnectCount: c.reconnects.Load(),
		WsRttMs:        c.rttMs.Load(),
	}
	if last := c.lastMsgNs.Load(); last > 0 {
		m.LastMessageAgeMs = (timeutil.NowNano() - last) / 1_000_000
	}
	return m
}

func isPong(data []byte) bool {
	return bytes.Equal(data, []byte("pong"))
}

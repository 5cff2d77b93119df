// Package main 是期权模拟交易流水线的入口点。
// 从上游信号中继接收信号/阶段/趋势/平仓消息，经决策引擎与模拟执行器处理后写入只追加账本。
//
// 重要：本系统只做模拟成交，严禁真实下单。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"confluence-paper-trader/internal/bus"
	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/decision"
	"confluence-paper-trader/internal/core/exit"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/core/paper"
	"confluence-paper-trader/internal/core/pipeline"
	"confluence-paper-trader/internal/core/store"
	"confluence-paper-trader/internal/feed"
	"confluence-paper-trader/internal/ingest"
	"confluence-paper-trader/internal/ledger"
	"confluence-paper-trader/internal/output/jsonl"
	"confluence-paper-trader/internal/stats/ev"
	"confluence-paper-trader/internal/stats/latency"
	"confluence-paper-trader/internal/util/timeutil"
)

type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`

	// Feed 中继连接指标
	Feed feed.Metrics `json:"feed"`
	// Published 总线已发布事件数
	Published uint64 `json:"published"`
	// Subscribers 各订阅者投递统计
	Subscribers map[string]bus.Stats `json:"subscribers"`

	// EV 已平仓交易滚动 EV
	EV ev.EVStats `json:"ev"`
	// EVByReason 按平仓原因的滚动 EV
	EVByReason map[model.ExitReason]ev.EVStats `json:"ev_by_reason,omitempty"`

	// Latency 信号送达时延（全量）
	Latency latency.LatencyStats `json:"latency"`
	// LatencyByTF 按周期的送达时延
	LatencyByTF []latency.LatencyStats `json:"latency_by_tf,omitempty"`
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).With(zap.String("app", cfg.App.Name))
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	out, err := openOutputs(cfg.Output, logger)
	if err != nil {
		logger.Error("创建输出文件失败", zap.Error(err))
		os.Exit(1)
	}

	opts := []ledger.Option{ledger.WithDeadLetter(out.deadLetters)}
	if out.audit != nil {
		opts = append(opts, ledger.WithAudit(out.audit))
	}
	led, err := ledger.Open(ctx, cfg.Ledger, logger, opts...)
	if err != nil {
		logger.Error("打开账本失败", zap.Error(err))
		out.close()
		os.Exit(1)
	}
	logger.Info("账本已就绪", zap.String("driver", cfg.Ledger.Driver))

	eventBus := bus.New(cfg.Output.BufferSize, logger)
	subs := make([]*bus.Subscription, 0, 3)
	if out.events != nil {
		sub, err := eventBus.Subscribe("events", func(e bus.Event) {
			_ = out.events.Write(e)
		})
		if err != nil {
			logger.Error("订阅事件流水失败", zap.Error(err))
			os.Exit(1)
		}
		subs = append(subs, sub)
	}
	tracker := ev.NewTracker(cfg.Output.EVWindow, 20, logger)
	evSub, err := tracker.Attach(eventBus)
	if err != nil {
		logger.Error("订阅 EV 统计失败", zap.Error(err))
		os.Exit(1)
	}
	subs = append(subs, evSub)
	lagTracker := latency.NewTracker(10000)
	lagSub, err := lagTracker.Attach(eventBus)
	if err != nil {
		logger.Error("订阅时延统计失败", zap.Error(err))
		os.Exit(1)
	}
	subs = append(subs, lagSub)

	clock := timeutil.SystemClock
	p := pipeline.New(pipeline.Deps{
		Signals:    store.NewSignalStore(clock),
		Phases:     store.NewPhaseStore(clock),
		Trends:     store.NewTrendStore(clock),
		Engine:     decision.NewEngine(cfg.Engine),
		Executor:   paper.NewExecutor(cfg.Paper, clock, logger),
		Attributor: exit.NewAttributor(cfg.Paper, logger),
		Ledger:     led,
		Bus:        eventBus,
		Clock:      clock,
		Log:        logger,
	})
	go p.RunCleanup(ctx, cfg.App.CleanupInterval())

	var client *feed.Client
	// feedDone 在读取循环退出后关闭；读取循环同步调用 Ingest，此后不再有写入
	feedDone := make(chan struct{})
	if cfg.Feed.URL != "" {
		handler := p.Ingest
		if out.inbound != nil {
			handler = ingest.Record(out.inbound, clock, p.Ingest)
		}
		client = feed.NewClient(cfg.Feed, handler, logger)
		go func() {
			defer close(feedDone)
			_ = client.Run(ctx)
		}()
	} else {
		close(feedDone)
		logger.Warn("未配置 feed.url，不接入实时信号")
	}

	snapshot := func() metricsSnapshot {
		m := metricsSnapshot{
			TsUnixNs:    timeutil.NowNano(),
			Published:   eventBus.Published(),
			Subscribers: make(map[string]bus.Stats, len(subs)),
			EV:          tracker.Stats(),
			EVByReason:  tracker.ByReason(),
			Latency:     lagTracker.Overall(),
			LatencyByTF: lagTracker.ByTimeframe(),
		}
		if client != nil {
			m.Feed = client.Metrics()
		}
		for _, s := range subs {
			m.Subscribers[s.Name()] = s.Stats()
		}
		return m
	}

	runMetrics(ctx, cfg.Output.MetricsInterval(), out.metrics, snapshot)

	// 优雅关闭（10s 超时）：先等入站处理退出，再排空总线，写最后一条指标并关闭文件
	ok := shutdown(10*time.Second, feedDone,
		eventBus.Close,
		func() { _ = out.metrics.WriteSync(snapshot()) },
		func() {
			if err := led.Close(); err != nil {
				logger.Warn("关闭账本失败", zap.Error(err))
			}
		},
		out.close,
	)
	if ok {
		logger.Info("关闭完成")
	} else {
		logger.Warn("关闭超时，强制退出")
	}
}

// shutdown 等待 feedDone 关闭后按顺序执行 steps
// 返回 false 表示在 timeout 内未完成
func shutdown(timeout time.Duration, feedDone <-chan struct{}, steps ...func()) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-feedDone
		for _, step := range steps {
			step()
		}
	}()

	select {
	case <-timer.C:
		return false
	case <-done:
		return true
	}
}

// outputs 输出文件集合；未启用的为空
type outputs struct {
	events      *jsonl.Writer
	inbound     *jsonl.Writer
	audit       *jsonl.Writer
	deadLetters *jsonl.Writer
	metrics     *jsonl.Writer
}

func openOutputs(cfg config.OutputConfig, logger *zap.Logger) (*outputs, error) {
	out := &outputs{}
	open := func(name string) (*jsonl.Writer, error) {
		return jsonl.NewWriter(filepath.Join(cfg.Dir, name), cfg.BufferSize, logger)
	}

	var err error
	if cfg.EventsEnabled {
		if out.events, err = open("events.jsonl"); err != nil {
			return nil, err
		}
	}
	if cfg.InboundEnabled {
		if out.inbound, err = open("inbound.jsonl"); err != nil {
			out.close()
			return nil, err
		}
	}
	if cfg.AuditEnabled {
		if out.audit, err = open("ledger_audit.jsonl"); err != nil {
			out.close()
			return nil, err
		}
	}
	if out.deadLetters, err = open("ledger_dead_letters.jsonl"); err != nil {
		out.close()
		return nil, err
	}
	if out.metrics, err = open("metrics.jsonl"); err != nil {
		out.close()
		return nil, err
	}
	return out, nil
}

func (o *outputs) close() {
	for _, w := range []*jsonl.Writer{o.events, o.inbound, o.audit, o.deadLetters, o.metrics} {
		if w != nil {
			_ = w.Close()
		}
	}
}

// runMetrics 按间隔输出指标快照，阻塞直到 ctx 结束
func runMetrics(ctx context.Context, interval time.Duration, w *jsonl.Writer, snapshot func() metricsSnapshot) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.Write(snapshot())
		}
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Package main 离线回放入站信封文件，复现流水线决策。
// 输入为 cmd/trader 记录的 inbound.jsonl（每行 {"received_at", "envelope"}），
// 也接受每行一个裸信封；时钟按 received_at 推进，裸信封沿用上一时刻。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
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
	"confluence-paper-trader/internal/ingest"
	"confluence-paper-trader/internal/ledger"
	"confluence-paper-trader/internal/output/jsonl"
	"confluence-paper-trader/internal/stats/ev"
)

// replayClock 由记录时间驱动的时钟，只前进不后退
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// summary 回放结果汇总
type summary struct {
	Lines     int                   `json:"lines"`
	Accepted  int                   `json:"accepted"`
	Rejected  int                   `json:"rejected"`
	Failed    int                   `json:"failed"`
	ByVerdict map[model.Verdict]int `json:"by_verdict"`
	Executed  int                   `json:"executed"`
	Closed    int                   `json:"closed"`
	EV        ev.EVStats            `json:"ev"`
}

// harness 回放用流水线及其依赖
type harness struct {
	pipeline *pipeline.Pipeline
	ledger   *ledger.Ledger
	bus      *bus.Bus
	tracker  *ev.Tracker
	clock    *replayClock
}

func newHarness(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...ledger.Option) (*harness, error) {
	clock := &replayClock{}
	led, err := ledger.Open(ctx, cfg.Ledger, logger, append([]ledger.Option{ledger.WithClock(clock.Now)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("打开账本失败: %w", err)
	}

	b := bus.New(cfg.Output.BufferSize, logger)
	tracker := ev.NewTracker(cfg.Output.EVWindow, 0, logger)
	if _, err := tracker.Attach(b); err != nil {
		led.Close()
		return nil, err
	}

	p := pipeline.New(pipeline.Deps{
		Signals:    store.NewSignalStore(clock.Now),
		Phases:     store.NewPhaseStore(clock.Now),
		Trends:     store.NewTrendStore(clock.Now),
		Engine:     decision.NewEngine(cfg.Engine),
		Executor:   paper.NewExecutor(cfg.Paper, clock.Now, logger),
		Attributor: exit.NewAttributor(cfg.Paper, logger),
		Ledger:     led,
		Bus:        b,
		Clock:      clock.Now,
		Log:        logger,
	})
	return &harness{pipeline: p, ledger: led, bus: b, tracker: tracker, clock: clock}, nil
}

// replay 逐行回放；单行失败只计数，不中断回放
func (h *harness) replay(ctx context.Context, path string, logger *zap.Logger) (summary, error) {
	s := summary{ByVerdict: make(map[model.Verdict]int)}
	err := jsonl.ReadAll(path, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Lines++

		raw := line
		var rec ingest.Recorded
		if json.Unmarshal(line, &rec) == nil && len(rec.Envelope) > 0 {
			raw = rec.Envelope
			h.clock.advance(rec.ReceivedAt)
		}
		if h.clock.Now().IsZero() {
			h.clock.advance(time.Now().UTC())
		}

		err := h.pipeline.Ingest(ctx, raw)
		switch {
		case err == nil:
			s.Accepted++
		case isRejection(err):
			s.Rejected++
		default:
			s.Failed++
			logger.Warn("回放处理失败", zap.Int("line", s.Lines), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return s, err
	}

	// 排空总线后统计才完整
	h.bus.Close()
	s.EV = h.tracker.Stats()

	for offset := 0; ; {
		page, err := h.ledger.Query(ctx, ledger.Filter{Limit: 1000, Offset: offset})
		if err != nil {
			return s, err
		}
		for i := range page {
			s.ByVerdict[page[i].Decision.Verdict]++
			if page[i].Execution != nil {
				s.Executed++
			}
			if page[i].Exit != nil {
				s.Closed++
			}
		}
		if len(page) < 1000 {
			break
		}
		offset += len(page)
	}
	return s, nil
}

func isRejection(err error) bool {
	_, ok := ingest.Validation(err)
	return ok
}

func main() {
	var configPath, input string
	flag.StringVar(&configPath, "config", "", "配置文件路径，为空时使用默认配置（内存账本）")
	flag.StringVar(&input, "input", "", "回放文件路径（JSONL）")
	flag.Parse()

	if input == "" {
		fmt.Fprintln(os.Stderr, "必须指定 -input")
		os.Exit(2)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
			os.Exit(1)
		}
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	h, err := newHarness(ctx, cfg, logger)
	if err != nil {
		logger.Error("初始化回放失败", zap.Error(err))
		os.Exit(1)
	}
	defer h.ledger.Close()

	s, err := h.replay(ctx, input, logger)
	if err != nil {
		logger.Error("回放失败", zap.Error(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(s)
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
	// 汇总写 stdout，日志走 stderr
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

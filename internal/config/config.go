// Package config 负责加载和验证 YAML 配置文件。
// 提供上游信号源连接、决策引擎、影子成交、账本存储与输出相关的全部配置项。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Feed 上游信号中继 WebSocket 配置
	Feed FeedConfig `yaml:"feed"`
	// Engine 决策引擎配置
	Engine EngineConfig `yaml:"engine"`
	// Paper 期权影子成交配置
	Paper PaperConfig `yaml:"paper"`
	// Ledger 账本存储配置
	Ledger LedgerConfig `yaml:"ledger"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// Timezone 交易所时区，目前只支持 America/New_York
	Timezone string `yaml:"timezone"`
	// CleanupIntervalMs 过期状态清理间隔（毫秒），0 表示只做读时过期
	CleanupIntervalMs int `yaml:"cleanup_interval_ms"`
}

// FeedConfig 上游信号中继配置
type FeedConfig struct {
	// URL WebSocket 连接地址，为空时不启动实时接入
	URL string `yaml:"url"`
	// AuthToken 连接时携带的 Bearer token
	AuthToken string `yaml:"auth_token"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
}

// EngineConfig 决策引擎配置
type EngineConfig struct {
	// BaseContracts 基础合约张数，最终张数 = round(基础张数 × 最终乘数)
	BaseContracts int `yaml:"base_contracts"`
	// TableVersion 期望的查表版本；非空且与引擎不一致时拒绝启动
	TableVersion string `yaml:"table_version"`
}

// PaperConfig 期权影子成交配置
type PaperConfig struct {
	// ContractMultiplier 合约乘数（美股期权为 100）
	ContractMultiplier float64 `yaml:"contract_multiplier"`
	// CommissionPerContract 每张合约佣金（美元，单边）
	CommissionPerContract float64 `yaml:"commission_per_contract"`
	// SlippagePct 滑点（相对理论价的比例）
	SlippagePct float64 `yaml:"slippage_pct"`
	// PartialFillThreshold 超过此张数按部分成交处理
	PartialFillThreshold int `yaml:"partial_fill_threshold"`
	// PartialFillRatio 部分成交比例（0-1）
	PartialFillRatio float64 `yaml:"partial_fill_ratio"`
	// RiskFreeRate 无风险利率（年化小数）
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	// DefaultIV 信号未携带隐含波动率时使用的默认值
	DefaultIV float64 `yaml:"default_iv"`
	// LeapDays 长周期信号使用的到期天数
	LeapDays int `yaml:"leap_days"`
	// MinPremium Greeks 回退时的最低权利金
	MinPremium float64 `yaml:"min_premium"`
}

// LedgerConfig 账本存储配置
type LedgerConfig struct {
	// Driver 存储驱动: memory, sqlite, postgres
	Driver string `yaml:"driver"`
	// DSN 数据源；sqlite 为文件路径，postgres 为连接串
	DSN string `yaml:"dsn"`
	// MaxOpenConns 连接池最大连接数
	MaxOpenConns int `yaml:"max_open_conns"`
	// MaxIdleConns 连接池最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns"`
	// ConnMaxLifetimeMs 连接最长存活时间（毫秒）
	ConnMaxLifetimeMs int `yaml:"conn_max_lifetime_ms"`
	// ConnectTimeoutMs 建连超时（毫秒）
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	// QueryTimeoutMs 单次读写超时（毫秒）
	QueryTimeoutMs int `yaml:"query_timeout_ms"`
	// MaxRetries 瞬时错误最大尝试次数
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseMs 重试初始退避（毫秒）
	RetryBaseMs int `yaml:"retry_base_ms"`
	// RetryMaxMs 重试最大退避（毫秒）
	RetryMaxMs int `yaml:"retry_max_ms"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// EventsEnabled 是否输出事件流水
	EventsEnabled bool `yaml:"events_enabled"`
	// AuditEnabled 是否输出账本审计镜像
	AuditEnabled bool `yaml:"audit_enabled"`
	// InboundEnabled 是否记录入站原始信封（供 cmd/replay 回放）
	InboundEnabled bool `yaml:"inbound_enabled"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
	// MetricsIntervalMs 指标快照输出间隔（毫秒），0 表示只在退出时输出一次
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// EVWindow 滚动 EV 统计窗口（笔）
	EVWindow int `yaml:"ev_window"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容、补全默认值并验证
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &cfg, nil
}

// Default 返回只含默认值的配置（内存账本，不接入实时信号源）
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "confluence-paper-trader"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "America/New_York"
	}

	if c.Feed.PingIntervalMs == 0 {
		c.Feed.PingIntervalMs = 25000 // 25 秒
	}
	if c.Feed.PongTimeoutMs == 0 {
		c.Feed.PongTimeoutMs = 10000 // 10 秒
	}
	if c.Feed.ReadTimeoutMs == 0 {
		c.Feed.ReadTimeoutMs = 60000 // 60 秒
	}

	if c.Engine.BaseContracts == 0 {
		c.Engine.BaseContracts = 1
	}

	if c.Paper.ContractMultiplier == 0 {
		c.Paper.ContractMultiplier = 100
	}
	if c.Paper.CommissionPerContract == 0 {
		c.Paper.CommissionPerContract = 0.65
	}
	if c.Paper.SlippagePct == 0 {
		c.Paper.SlippagePct = 0.005
	}
	if c.Paper.PartialFillThreshold == 0 {
		c.Paper.PartialFillThreshold = 50
	}
	if c.Paper.PartialFillRatio == 0 {
		c.Paper.PartialFillRatio = 0.85
	}
	if c.Paper.RiskFreeRate == 0 {
		c.Paper.RiskFreeRate = 0.05
	}
	if c.Paper.DefaultIV == 0 {
		c.Paper.DefaultIV = 0.30
	}
	if c.Paper.LeapDays == 0 {
		c.Paper.LeapDays = 365
	}
	if c.Paper.MinPremium == 0 {
		c.Paper.MinPremium = 0.05
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.MaxOpenConns == 0 {
		c.Ledger.MaxOpenConns = 10
	}
	if c.Ledger.MaxIdleConns == 0 {
		c.Ledger.MaxIdleConns = 2
	}
	if c.Ledger.ConnMaxLifetimeMs == 0 {
		c.Ledger.ConnMaxLifetimeMs = 30 * 60 * 1000 // 30 分钟
	}
	if c.Ledger.ConnectTimeoutMs == 0 {
		c.Ledger.ConnectTimeoutMs = 5000
	}
	if c.Ledger.QueryTimeoutMs == 0 {
		c.Ledger.QueryTimeoutMs = 3000
	}
	if c.Ledger.MaxRetries == 0 {
		c.Ledger.MaxRetries = 5
	}
	if c.Ledger.RetryBaseMs == 0 {
		c.Ledger.RetryBaseMs = 100
	}
	if c.Ledger.RetryMaxMs == 0 {
		c.Ledger.RetryMaxMs = 5000
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
	if c.Output.EVWindow == 0 {
		c.Output.EVWindow = 200
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围，一次性返回全部问题
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}
	if c.App.Timezone != "America/New_York" {
		errs = append(errs, fmt.Sprintf("app.timezone: 不支持的时区 '%s'", c.App.Timezone))
	}
	if c.App.CleanupIntervalMs < 0 {
		errs = append(errs, "app.cleanup_interval_ms: 清理间隔不能为负数")
	}

	if c.Feed.URL != "" && !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("feed.url: 必须是 ws:// 或 wss:// 地址，当前值: %s", c.Feed.URL))
	}
	if c.Feed.PingIntervalMs <= 0 || c.Feed.PongTimeoutMs <= 0 || c.Feed.ReadTimeoutMs <= 0 {
		errs = append(errs, "feed: 心跳与读取超时必须为正数")
	}

	if c.Engine.BaseContracts <= 0 {
		errs = append(errs, "engine.base_contracts: 基础张数必须为正数")
	}

	if c.Paper.ContractMultiplier <= 0 {
		errs = append(errs, "paper.contract_multiplier: 合约乘数必须为正数")
	}
	if c.Paper.CommissionPerContract < 0 {
		errs = append(errs, "paper.commission_per_contract: 佣金不能为负数")
	}
	if c.Paper.SlippagePct < 0 || c.Paper.SlippagePct > 0.1 {
		errs = append(errs, "paper.slippage_pct: 滑点必须在 0-0.1 之间")
	}
	if c.Paper.PartialFillThreshold <= 0 {
		errs = append(errs, "paper.partial_fill_threshold: 部分成交阈值必须为正数")
	}
	if err := validateRatio(c.Paper.PartialFillRatio, "paper.partial_fill_ratio"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRatio(c.Paper.RiskFreeRate, "paper.risk_free_rate"); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Paper.DefaultIV <= 0 || c.Paper.DefaultIV > 5 {
		errs = append(errs, "paper.default_iv: 默认隐含波动率必须在 (0, 5] 之间")
	}
	if c.Paper.LeapDays <= 60 {
		errs = append(errs, "paper.leap_days: LEAP 到期天数必须大于 60")
	}
	if c.Paper.MinPremium <= 0 {
		errs = append(errs, "paper.min_premium: 最低权利金必须为正数")
	}

	switch c.Ledger.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Ledger.DSN == "" {
			errs = append(errs, fmt.Sprintf("ledger.dsn: %s 驱动需要配置 dsn", c.Ledger.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger.driver: 无效的驱动 '%s'，有效值: memory, sqlite, postgres", c.Ledger.Driver))
	}
	if c.Ledger.MaxOpenConns <= 0 || c.Ledger.MaxIdleConns < 0 || c.Ledger.MaxIdleConns > c.Ledger.MaxOpenConns {
		errs = append(errs, "ledger: 连接池大小不合法（0 <= max_idle_conns <= max_open_conns）")
	}
	if c.Ledger.ConnectTimeoutMs <= 0 || c.Ledger.QueryTimeoutMs <= 0 {
		errs = append(errs, "ledger: 超时必须为正数")
	}
	if c.Ledger.MaxRetries <= 0 {
		errs = append(errs, "ledger.max_retries: 重试次数必须为正数")
	}
	if c.Ledger.RetryBaseMs <= 0 || c.Ledger.RetryMaxMs < c.Ledger.RetryBaseMs {
		errs = append(errs, "ledger: 重试退避必须满足 0 < retry_base_ms <= retry_max_ms")
	}

	if c.Output.BufferSize <= 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
	}
	if c.Output.MetricsIntervalMs < 0 {
		errs = append(errs, "output.metrics_interval_ms: 不能为负数")
	}
	if c.Output.EVWindow <= 0 {
		errs = append(errs, "output.ev_window: 窗口大小必须为正数")
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateRatio 验证比例范围
// 参数 v: 比例值
// 参数 field: 字段名称，用于错误消息
func validateRatio(v float64, field string) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s: 比例必须在 0-1 之间，当前值: %f", field, v)
	}
	return nil
}

// PingInterval 心跳间隔
func (f FeedConfig) PingInterval() time.Duration {
	return time.Duration(f.PingIntervalMs) * time.Millisecond
}

// PongTimeout 心跳响应超时
func (f FeedConfig) PongTimeout() time.Duration {
	return time.Duration(f.PongTimeoutMs) * time.Millisecond
}

// ReadTimeout 读取超时
func (f FeedConfig) ReadTimeout() time.Duration {
	return time.Duration(f.ReadTimeoutMs) * time.Millisecond
}

// ConnMaxLifetime 连接最长存活时间
func (l LedgerConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(l.ConnMaxLifetimeMs) * time.Millisecond
}

// ConnectTimeout 建连超时
func (l LedgerConfig) ConnectTimeout() time.Duration {
	return time.Duration(l.ConnectTimeoutMs) * time.Millisecond
}

// QueryTimeout 单次读写超时
func (l LedgerConfig) QueryTimeout() time.Duration {
	return time.Duration(l.QueryTimeoutMs) * time.Millisecond
}

// CleanupInterval 过期清理间隔
func (a AppConfig) CleanupInterval() time.Duration {
	return time.Duration(a.CleanupIntervalMs) * time.Millisecond
}

// RetryBase 重试初始退避
func (l LedgerConfig) RetryBase() time.Duration {
	return time.Duration(l.RetryBaseMs) * time.Millisecond
}

// RetryMax 重试最大退避
func (l LedgerConfig) RetryMax() time.Duration {
	return time.Duration(l.RetryMaxMs) * time.Millisecond
}

// MetricsInterval 指标快照间隔
func (o OutputConfig) MetricsInterval() time.Duration {
	return time.Duration(o.MetricsIntervalMs) * time.Millisecond
}

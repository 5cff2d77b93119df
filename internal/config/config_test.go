// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigValidation_Ratios 测试比例类参数范围
func TestConfigValidation_Ratios(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("部分成交比例超出 [0,1] 应验证失败", prop.ForAll(
		func(ratio float64) bool {
			cfg := createValidConfig()
			cfg.Paper.PartialFillRatio = ratio
			return cfg.Validate() != nil
		},
		gen.OneGenOf(
			gen.Float64Range(-1000, -0.0001),
			gen.Float64Range(1.0001, 1000),
		),
	))

	properties.Property("部分成交比例在 [0,1] 内应通过验证", prop.ForAll(
		func(ratio float64) bool {
			cfg := createValidConfig()
			cfg.Paper.PartialFillRatio = ratio
			return cfg.Validate() == nil
		},
		gen.Float64Range(0, 1),
	))

	properties.Property("滑点为负数应验证失败", prop.ForAll(
		func(slippage float64) bool {
			cfg := createValidConfig()
			cfg.Paper.SlippagePct = slippage
			return cfg.Validate() != nil
		},
		gen.Float64Range(-1000, -0.0001),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_Ledger 测试账本配置
func TestConfigValidation_Ledger(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("空闲连接数超过最大连接数应验证失败", prop.ForAll(
		func(open, extra int) bool {
			cfg := createValidConfig()
			cfg.Ledger.MaxOpenConns = open
			cfg.Ledger.MaxIdleConns = open + extra
			return cfg.Validate() != nil
		},
		gen.IntRange(1, 100),
		gen.IntRange(1, 100),
	))

	properties.Property("重试次数非正数应验证失败", prop.ForAll(
		func(n int) bool {
			cfg := createValidConfig()
			cfg.Ledger.MaxRetries = n
			return cfg.Validate() != nil
		},
		gen.IntRange(-100, 0),
	))

	properties.TestingRun(t)
}

func TestConfigValidation_LedgerDriver(t *testing.T) {
	cfg := createValidConfig()
	cfg.Ledger.Driver = "mysql"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ledger.driver") {
		t.Errorf("未知驱动应报 ledger.driver, got %v", err)
	}

	cfg = createValidConfig()
	cfg.Ledger.Driver = "postgres"
	cfg.Ledger.DSN = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ledger.dsn") {
		t.Errorf("postgres 缺少 dsn 应报错, got %v", err)
	}
}

// TestConfigValidation_AggregatesErrors 多个问题应一次性报告
func TestConfigValidation_AggregatesErrors(t *testing.T) {
	cfg := createValidConfig()
	cfg.App.LogLevel = "verbose"
	cfg.Engine.BaseContracts = 0
	cfg.Feed.URL = "http://relay.local"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("应返回错误")
	}
	for _, field := range []string{"app.log_level", "engine.base_contracts", "feed.url"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("错误信息缺少 %s: %v", field, err)
		}
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过验证: %v", err)
	}
	if cfg.Paper.ContractMultiplier != 100 || cfg.Paper.CommissionPerContract != 0.65 {
		t.Errorf("默认影子成交参数错误: %+v", cfg.Paper)
	}
	if cfg.Ledger.Driver != "memory" {
		t.Errorf("默认账本驱动 = %s, want memory", cfg.Ledger.Driver)
	}
}

// createValidConfig 创建一个有效的配置用于测试
func createValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "test",
			LogLevel: "info",
			Timezone: "America/New_York",
		},
		Feed: FeedConfig{
			URL:            "wss://relay.example.com/signals",
			PingIntervalMs: 25000,
			PongTimeoutMs:  10000,
			ReadTimeoutMs:  60000,
		},
		Engine: EngineConfig{BaseContracts: 2},
		Paper: PaperConfig{
			ContractMultiplier:    100,
			CommissionPerContract: 0.65,
			SlippagePct:           0.005,
			PartialFillThreshold:  50,
			PartialFillRatio:      0.85,
			RiskFreeRate:          0.05,
			DefaultIV:             0.3,
			LeapDays:              365,
			MinPremium:            0.05,
		},
		Ledger: LedgerConfig{
			Driver:            "sqlite",
			DSN:               "ledger.db",
			MaxOpenConns:      4,
			MaxIdleConns:      2,
			ConnMaxLifetimeMs: 60000,
			ConnectTimeoutMs:  5000,
			QueryTimeoutMs:    3000,
			MaxRetries:        5,
			RetryBaseMs:       100,
			RetryMaxMs:        5000,
		},
		Output: OutputConfig{
			Dir:           "./output",
			EventsEnabled: true,
			AuditEnabled:  true,
			BufferSize:    1000,
			EVWindow:      200,
		},
	}
}

// TestLoad_ValidFile 测试从有效文件加载配置
func TestLoad_ValidFile(t *testing.T) {
	content := `
app:
  name: test-trader
  log_level: debug

feed:
  url: wss://relay.example.com/signals
  auth_token: secret

engine:
  base_contracts: 3

paper:
  commission_per_contract: 0.5
  leap_days: 400

ledger:
  driver: sqlite
  dsn: ./ledger.db

output:
  dir: ./out
  events_enabled: true
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test-trader" {
		t.Errorf("App.Name = %s, want test-trader", cfg.App.Name)
	}
	if cfg.Engine.BaseContracts != 3 {
		t.Errorf("Engine.BaseContracts = %d, want 3", cfg.Engine.BaseContracts)
	}
	if cfg.Paper.CommissionPerContract != 0.5 || cfg.Paper.LeapDays != 400 {
		t.Errorf("Paper = %+v", cfg.Paper)
	}
	// 未配置的字段应补全默认值
	if cfg.Paper.PartialFillThreshold != 50 || cfg.Ledger.MaxRetries != 5 {
		t.Errorf("默认值未补全: %+v %+v", cfg.Paper, cfg.Ledger)
	}
	if cfg.Feed.PingInterval().Seconds() != 25 {
		t.Errorf("PingInterval = %v", cfg.Feed.PingInterval())
	}
}

// TestLoad_InvalidFile 测试加载不存在的文件
func TestLoad_InvalidFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("加载不存在的文件应返回错误")
	}
}

// TestLoad_InvalidYAML 测试加载无效 YAML
func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(tmpFile, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}
	if _, err := Load(tmpFile); err == nil {
		t.Error("加载无效 YAML 应返回错误")
	}
}

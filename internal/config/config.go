package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/newplayman/short-hunter/internal/engine"
	"github.com/newplayman/short-hunter/internal/gateway"
)

// Config 全局配置结构
type Config struct {
	Global  GlobalConfig   `mapstructure:"global"`
	Engine  EngineConfig   `mapstructure:"engine"`
	Symbols []SymbolConfig `mapstructure:"symbols"`
}

// GlobalConfig 全局配置
type GlobalConfig struct {
	APIKey             string `mapstructure:"api_key"`               // Binance API Key
	APISecret          string `mapstructure:"api_secret"`            // Binance API Secret
	TestNet            bool   `mapstructure:"testnet"`               // 是否使用测试网
	LogLevel           string `mapstructure:"log_level"`             // 日志级别
	MetricsPort        int    `mapstructure:"metrics_port"`          // Prometheus 端口
	StatePath          string `mapstructure:"state_path"`            // 去重/冷却快照文件路径
	LockPath           string `mapstructure:"lock_path"`             // 单实例文件锁路径
	WSURL              string `mapstructure:"ws_url"`                // 标记价推送地址
	RESTPollIntervalMs int    `mapstructure:"rest_poll_interval_ms"` // REST轮询间隔 (ms)
	SignalPort         int    `mapstructure:"signal_port"`           // 信号接入HTTP端口
	JournalPath        string `mapstructure:"journal_path"`          // 决策流水sqlite路径
}

// EngineConfig 引擎参数
type EngineConfig struct {
	CooldownMinutes         int     `mapstructure:"cooldown_minutes"`           // symbol信号冷却 (分钟)
	MarginBufferPct         float64 `mapstructure:"margin_buffer_pct"`          // 二次进场可用余额缓冲
	WSStaleFallbackSeconds  int     `mapstructure:"ws_stale_fallback_seconds"`  // WS失效切REST窗口 (秒)
	StaleMarkPriceSeconds   int     `mapstructure:"stale_mark_price_seconds"`   // 双通道安全锁窗口 (秒)
	EntryTriggerBufferPct   float64 `mapstructure:"entry_trigger_buffer_pct"`   // 触发阈值缓冲
	ExitPartialStallSeconds int     `mapstructure:"exit_partial_stall_seconds"` // 离场部分成交停滞窗口 (秒)
	PositionMode            string  `mapstructure:"position_mode"`              // ONE_WAY | HEDGE
	RetryMaxAttempts        int     `mapstructure:"retry_max_attempts"`         // 下单重试次数
	LeadingChannelID        string  `mapstructure:"leading_channel_id"`         // 做空信号channel
	RiskChannelID           string  `mapstructure:"risk_channel_id"`            // 风控信号channel
	TPOffsetPct             float64 `mapstructure:"tp_offset_pct"`              // 止盈目标相对均价偏移
	SecondEntryOffsetPct    float64 `mapstructure:"second_entry_offset_pct"`    // 二次进场目标相对均价偏移
	MDDStopPct              float64 `mapstructure:"mdd_stop_pct"`               // 最大回撤止损相对混合均价偏移
}

// SymbolConfig 单交易对交易规则
type SymbolConfig struct {
	Symbol      string  `mapstructure:"symbol"`       // 交易对符号 (e.g., ETHUSDT)
	TickSize    float64 `mapstructure:"tick_size"`    // 价格最小变动单位
	StepSize    float64 `mapstructure:"step_size"`    // 数量最小变动单位
	MinQty      float64 `mapstructure:"min_qty"`      // 最小下单量
	MinNotional float64 `mapstructure:"min_notional"` // 最小名义价值
}

var (
	globalConfig *Config
	configPath   string
)

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	configPath = path
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvPrefix("HUNTER")
	// 显式绑定嵌套字段的环境变量（生产推荐）
	viper.BindEnv("global.api_key", "BINANCE_API_KEY")
	viper.BindEnv("global.api_secret", "BINANCE_API_SECRET")
	viper.BindEnv("global.testnet", "BINANCE_TESTNET")
	viper.BindEnv("global.metrics_port", "HUNTER_METRICS_PORT")
	viper.BindEnv("global.state_path", "HUNTER_STATE_PATH")
	viper.BindEnv("global.lock_path", "HUNTER_LOCK_PATH")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = &cfg

	// 启动热重载监听
	go watchConfig()

	log.Info().Str("path", path).Msg("配置加载成功")
	return &cfg, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return globalConfig
}

// applyDefaults 未配置项按生产缺省回填
func applyDefaults(cfg *Config) {
	if cfg.Engine.CooldownMinutes == 0 {
		cfg.Engine.CooldownMinutes = 30
	}
	if cfg.Engine.WSStaleFallbackSeconds == 0 {
		cfg.Engine.WSStaleFallbackSeconds = 10
	}
	if cfg.Engine.StaleMarkPriceSeconds == 0 {
		cfg.Engine.StaleMarkPriceSeconds = 110
	}
	if cfg.Engine.EntryTriggerBufferPct == 0 {
		cfg.Engine.EntryTriggerBufferPct = 0.005
	}
	if cfg.Engine.ExitPartialStallSeconds == 0 {
		cfg.Engine.ExitPartialStallSeconds = 5
	}
	if cfg.Engine.PositionMode == "" {
		cfg.Engine.PositionMode = string(gateway.ModeOneWay)
	}
	if cfg.Engine.RetryMaxAttempts == 0 {
		cfg.Engine.RetryMaxAttempts = 3
	}
	if cfg.Engine.TPOffsetPct == 0 {
		cfg.Engine.TPOffsetPct = 0.02
	}
	if cfg.Engine.SecondEntryOffsetPct == 0 {
		cfg.Engine.SecondEntryOffsetPct = 0.01
	}
	if cfg.Engine.MDDStopPct == 0 {
		cfg.Engine.MDDStopPct = 0.03
	}
	if cfg.Global.RESTPollIntervalMs == 0 {
		cfg.Global.RESTPollIntervalMs = 3000
	}
	if cfg.Global.SignalPort == 0 {
		cfg.Global.SignalPort = 8787
	}
	if cfg.Global.JournalPath == "" {
		cfg.Global.JournalPath = "hunter_journal.db"
	}
	if cfg.Global.StatePath == "" {
		cfg.Global.StatePath = "hunter_state.json"
	}
	if cfg.Global.LockPath == "" {
		cfg.Global.LockPath = "hunter.lock"
	}
}

// validateConfig 验证配置有效性
func validateConfig(cfg *Config) error {
	if cfg.Global.APIKey == "" || cfg.Global.APISecret == "" {
		return fmt.Errorf("API Key 和 Secret 不能为空")
	}

	if cfg.Engine.CooldownMinutes < 1 || cfg.Engine.CooldownMinutes > 1440 {
		return fmt.Errorf("cooldown_minutes 必须在 1-1440 之间")
	}
	if cfg.Engine.MarginBufferPct < 0 || cfg.Engine.MarginBufferPct >= 1 {
		return fmt.Errorf("margin_buffer_pct 必须在 [0, 1) 之间")
	}
	if cfg.Engine.EntryTriggerBufferPct <= 0 || cfg.Engine.EntryTriggerBufferPct > 0.05 {
		return fmt.Errorf("entry_trigger_buffer_pct 必须在 (0, 0.05] 之间")
	}
	if cfg.Engine.WSStaleFallbackSeconds < 1 {
		return fmt.Errorf("ws_stale_fallback_seconds 必须 >= 1")
	}
	if cfg.Engine.StaleMarkPriceSeconds <= cfg.Engine.WSStaleFallbackSeconds {
		return fmt.Errorf("stale_mark_price_seconds 必须大于 ws_stale_fallback_seconds")
	}
	if cfg.Engine.ExitPartialStallSeconds < 1 || cfg.Engine.ExitPartialStallSeconds > 60 {
		return fmt.Errorf("exit_partial_stall_seconds 必须在 1-60 之间")
	}
	if pm := cfg.Engine.PositionMode; pm != string(gateway.ModeOneWay) && pm != string(gateway.ModeHedge) {
		return fmt.Errorf("position_mode 必须是 ONE_WAY 或 HEDGE, got %s", pm)
	}
	if cfg.Engine.RetryMaxAttempts < 1 || cfg.Engine.RetryMaxAttempts > 10 {
		return fmt.Errorf("retry_max_attempts 必须在 1-10 之间")
	}
	if cfg.Engine.LeadingChannelID == "" || cfg.Engine.RiskChannelID == "" {
		return fmt.Errorf("leading_channel_id 与 risk_channel_id 不能为空")
	}
	if cfg.Engine.TPOffsetPct <= 0 || cfg.Engine.TPOffsetPct >= 1 {
		return fmt.Errorf("tp_offset_pct 必须在 (0, 1) 之间")
	}
	if cfg.Engine.SecondEntryOffsetPct <= 0 || cfg.Engine.SecondEntryOffsetPct >= 1 {
		return fmt.Errorf("second_entry_offset_pct 必须在 (0, 1) 之间")
	}
	if cfg.Engine.MDDStopPct <= 0 || cfg.Engine.MDDStopPct >= 1 {
		return fmt.Errorf("mdd_stop_pct 必须在 (0, 1) 之间")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("至少需要配置一个交易对")
	}
	for i, sym := range cfg.Symbols {
		if sym.Symbol == "" {
			return fmt.Errorf("symbols[%d]: symbol 不能为空", i)
		}
		if sym.TickSize <= 0 {
			return fmt.Errorf("symbols[%d]: tick_size 必须 > 0", i)
		}
		if sym.StepSize <= 0 {
			return fmt.Errorf("symbols[%d]: step_size 必须 > 0", i)
		}
		if sym.MinQty <= 0 {
			return fmt.Errorf("symbols[%d]: min_qty 必须 > 0", i)
		}
		if sym.MinNotional < 0 {
			return fmt.Errorf("symbols[%d]: min_notional 不能为负", i)
		}
	}

	return nil
}

// watchConfig 监听配置文件变化并热重载
func watchConfig() {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("检测到配置文件变化，正在重载...")

		var newCfg Config
		if err := viper.Unmarshal(&newCfg); err != nil {
			log.Error().Err(err).Msg("重载配置失败")
			return
		}

		applyDefaults(&newCfg)
		if err := validateConfig(&newCfg); err != nil {
			log.Error().Err(err).Msg("新配置验证失败，保持旧配置")
			return
		}

		globalConfig = &newCfg
		log.Info().Msg("配置热重载成功")
	})
}

// ToEngineSettings 转换为引擎运行参数
func (c *Config) ToEngineSettings() engine.Settings {
	policy := gateway.DefaultRetryPolicy()
	policy.MaxAttempts = c.Engine.RetryMaxAttempts

	return engine.Settings{
		CooldownMinutes:         c.Engine.CooldownMinutes,
		MarginBufferPct:         c.Engine.MarginBufferPct,
		WSStaleFallbackSeconds:  c.Engine.WSStaleFallbackSeconds,
		StaleMarkPriceSeconds:   c.Engine.StaleMarkPriceSeconds,
		EntryTriggerBufferPct:   c.Engine.EntryTriggerBufferPct,
		ExitPartialStallSeconds: c.Engine.ExitPartialStallSeconds,
		MDDStopPct:              c.Engine.MDDStopPct,
		PositionMode:            gateway.PositionMode(c.Engine.PositionMode),
		RetryPolicy:             policy,
	}
}

// GetRESTPollInterval REST轮询间隔
func (c *Config) GetRESTPollInterval() time.Duration {
	return time.Duration(c.Global.RESTPollIntervalMs) * time.Millisecond
}

// GetSymbolRules 根据交易对符号获取交易规则
func (c *Config) GetSymbolRules(symbol string) (gateway.FilterRules, bool) {
	for _, sym := range c.Symbols {
		if sym.Symbol == symbol {
			return gateway.FilterRules{
				TickSize:    sym.TickSize,
				StepSize:    sym.StepSize,
				MinQty:      sym.MinQty,
				MinNotional: sym.MinNotional,
			}, true
		}
	}
	return gateway.FilterRules{}, false
}

// GetAllSymbols 获取所有交易对符号列表
func (c *Config) GetAllSymbols() []string {
	symbols := make([]string, len(c.Symbols))
	for i, sym := range c.Symbols {
		symbols[i] = sym.Symbol
	}
	return symbols
}
